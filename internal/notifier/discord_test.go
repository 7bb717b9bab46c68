package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/tigge_retriever/internal/retriever"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewDiscordNotifier(srv.URL).Notify(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", got["content"])
}

func TestDiscordNotifier_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordNotifier(srv.URL).Notify(context.Background(), "hello")
	assert.EqualError(t, err, "webhook failed with status 400")

	err = (&DiscordNotifier{}).Notify(context.Background(), "hello")
	assert.EqualError(t, err, "webhook URL is not set")
}

func TestBatchSummary(t *testing.T) {
	mar05 := retriever.Date{Year: 2007, Month: time.March, Day: 5}

	ok := &retriever.BatchResult{
		Succeeded: []retriever.Date{mar05},
		Skipped:   []retriever.Date{mar05.AddDays(1), mar05.AddDays(2)},
		Failed:    map[retriever.Date]*retriever.RetrievalError{},
	}

	msg := BatchSummary(ok, time.Now())
	assert.Contains(t, msg, "✅")
	assert.Contains(t, msg, "1 downloaded, 0 failed, 2 already present, 0 unavailable")
	assert.NotContains(t, msg, "Failed:")

	failed := map[retriever.Date]*retriever.RetrievalError{}
	for i := range 12 {
		d := mar05.AddDays(i)
		failed[d] = &retriever.RetrievalError{Date: d}
	}

	bad := &retriever.BatchResult{Failed: failed, Pending: []retriever.Date{mar05.AddDays(20)}}

	msg = BatchSummary(bad, time.Now())
	assert.Contains(t, msg, "⚠️")
	assert.Contains(t, msg, "12 failed")
	assert.Contains(t, msg, "1 not attempted")
	assert.Contains(t, msg, "Failed: 2007-03-05, 2007-03-06")
	assert.Contains(t, msg, "and 2 more")
	assert.NotContains(t, msg, "2007-03-15", "only the first dates are listed")

	backfill := &retriever.BatchResult{Skipped: make([]retriever.Date, 7305), Failed: failed}

	msg = BatchSummary(backfill, time.Now())
	assert.Contains(t, msg, "7,305 already present")
}
