package mars_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/tigge_retriever/internal/mars"
	"github.com/italolelis/tigge_retriever/internal/retriever"
)

var (
	testDate = retriever.Date{Year: 2007, Month: time.March, Day: 5}
	testCred = retriever.Credential{Key: "k-123", Identity: "a@example.com"}
	payload  = []byte("CDF\x01 netcdf payload for a single date")
)

// archive is a minimal stand-in for the web API: one request that goes
// queued -> active -> complete and a result file.
type archive struct {
	t *testing.T

	mu        sync.Mutex
	submitted map[string]string
	polls     int
	deleted   bool

	finalStatus string
	resultSize  int64
	submitCode  int
}

func newArchive(t *testing.T) (*archive, *httptest.Server) {
	a := &archive{t: t, finalStatus: "complete", resultSize: int64(len(payload)), submitCode: http.StatusAccepted}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /datasets/tigge/requests", a.submit)
	mux.HandleFunc("GET /requests/abc", a.status)
	mux.HandleFunc("DELETE /requests/abc", a.delete)
	mux.HandleFunc("/results/abc.nc", a.result)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return a, srv
}

func (a *archive) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("X-ECMWF-KEY") != testCred.Key || r.Header.Get("From") != testCred.Identity {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid key"})

		return false
	}

	return true
}

func (a *archive) submit(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(w, r) {
		return
	}

	a.mu.Lock()
	require.NoError(a.t, json.NewDecoder(r.Body).Decode(&a.submitted))
	a.mu.Unlock()

	w.Header().Set("Location", "/requests/abc")
	w.WriteHeader(a.submitCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"name": "abc", "status": "queued"})
}

func (a *archive) status(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(w, r) {
		return
	}

	a.mu.Lock()
	a.polls++
	polls := a.polls
	a.mu.Unlock()

	if polls < 2 {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "abc", "status": "active"})

		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":   "abc",
		"status": a.finalStatus,
		"href":   "/results/abc.nc",
		"size":   a.resultSize,
		"reason": "no data for the requested date",
	})
}

func (a *archive) delete(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	a.deleted = true
	a.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (a *archive) result(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(w, r) {
		return
	}

	http.ServeContent(w, r, "abc.nc", time.Time{}, bytes.NewReader(payload))
}

func (a *archive) wasDeleted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.deleted
}

func newClient(url string) *mars.Client {
	return mars.NewClient(mars.Config{
		URL:              url,
		RetryMax:         0,
		Timeout:          5 * time.Second,
		PollInterval:     time.Millisecond,
		MaxPollInterval:  5 * time.Millisecond,
		ProgressInterval: 5 * time.Millisecond,
	}, nil)
}

func TestClient_Fetch(t *testing.T) {
	a, srv := newArchive(t)
	target := filepath.Join(t.TempDir(), "2007-03-05-tigge.nc")

	err := newClient(srv.URL).Fetch(context.Background(), retriever.RetrievalRequest{Date: testDate, TargetPath: target}, testCred)
	require.NoError(t, err)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	assert.NoFileExists(t, target+".part", "partial file is renamed into place")
	assert.True(t, a.wasDeleted(), "request is released after download")

	assert.Equal(t, "2007-03-05", a.submitted["date"])
	assert.Equal(t, mars.AllVariables, a.submitted["param"])
	assert.Equal(t, mars.DefaultArea, a.submitted["area"])
	assert.Equal(t, "tigge", a.submitted["dataset"])
}

func TestClient_Fetch_DiscardsLeftoverPartial(t *testing.T) {
	_, srv := newArchive(t)
	target := filepath.Join(t.TempDir(), "2007-03-05-tigge.nc")
	require.NoError(t, os.WriteFile(target+".part", []byte("GARBAGE-FROM-OLD"), 0o644))

	err := newClient(srv.URL).Fetch(context.Background(), retriever.RetrievalRequest{Date: testDate, TargetPath: target}, testCred)
	require.NoError(t, err)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, payload, got, "a new result is never spliced onto an old partial")
	assert.NoFileExists(t, target+".part")
}

func TestClient_Fetch_Aborted(t *testing.T) {
	a, srv := newArchive(t)
	a.finalStatus = "aborted"
	target := filepath.Join(t.TempDir(), "2007-03-05-tigge.nc")

	err := newClient(srv.URL).Fetch(context.Background(), retriever.RetrievalRequest{Date: testDate, TargetPath: target}, testCred)

	var apiErr *mars.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "status", apiErr.Operation)
	assert.Contains(t, apiErr.Error(), "no data for the requested date")

	assert.NoFileExists(t, target)
	assert.True(t, a.wasDeleted(), "aborted requests are released too")
}

func TestClient_Fetch_Unauthorized(t *testing.T) {
	_, srv := newArchive(t)
	target := filepath.Join(t.TempDir(), "2007-03-05-tigge.nc")

	bad := retriever.Credential{Key: "wrong", Identity: testCred.Identity}
	err := newClient(srv.URL).Fetch(context.Background(), retriever.RetrievalRequest{Date: testDate, TargetPath: target}, bad)

	var apiErr *mars.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "submit", apiErr.Operation)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.True(t, apiErr.Unauthorized())
	assert.Equal(t, "invalid key", apiErr.Message)
	assert.NoFileExists(t, target)
}

func TestClient_Fetch_BadLength(t *testing.T) {
	a, srv := newArchive(t)
	a.resultSize = int64(len(payload)) + 10
	target := filepath.Join(t.TempDir(), "2007-03-05-tigge.nc")

	err := newClient(srv.URL).Fetch(context.Background(), retriever.RetrievalRequest{Date: testDate, TargetPath: target}, testCred)

	var apiErr *mars.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "download", apiErr.Operation)
	assert.NoFileExists(t, target, "truncated results never become artifacts")
}

func TestClient_Fetch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "archive maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	err := newClient(srv.URL).Fetch(context.Background(),
		retriever.RetrievalRequest{Date: testDate, TargetPath: filepath.Join(t.TempDir(), "x.nc")}, testCred)

	var apiErr *mars.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "archive maintenance", apiErr.Message)
	assert.False(t, apiErr.Unauthorized())
}

func TestRequest(t *testing.T) {
	req := mars.Request(testDate, "", true)

	assert.Equal(t, mars.ReducedVariables, req["param"])
	assert.Equal(t, mars.DefaultArea, req["area"])
	assert.Equal(t, "2007-03-05", req["date"])
	assert.Equal(t, "00:00:00/06:00:00/12:00:00/18:00:00", req["time"])
	assert.Equal(t, "netcdf", req["format"])

	steps := strings.Split(req["step"], "/")
	assert.Len(t, steps, 41)
	assert.Equal(t, "0", steps[0])
	assert.Equal(t, "240", steps[len(steps)-1])

	assert.Equal(t, "10/-80/-20/-40", mars.Request(testDate, "10/-80/-20/-40", false)["area"])
}
