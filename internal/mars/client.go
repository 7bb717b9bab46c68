// Package mars talks to the ECMWF web API that fronts the MARS archive. It submits
// a retrieval, polls it until the archive has staged the result and then downloads
// the result file into place.
package mars

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/tigge_retriever/internal/logctx"
	"github.com/italolelis/tigge_retriever/internal/retriever"
)

const (
	// DefaultURL is the public ECMWF web API endpoint.
	DefaultURL = "https://api.ecmwf.int/v1"

	partSuffix = ".part"

	statusQueued    = "queued"
	statusSubmitted = "submitted"
	statusActive    = "active"
	statusComplete  = "complete"
	statusAborted   = "aborted"
)

// Config controls how the client reaches the archive.
type Config struct {
	URL              string
	Area             string
	ReducedSet       bool
	RetryMax         int
	Timeout          time.Duration
	PollInterval     time.Duration
	MaxPollInterval  time.Duration
	ProgressInterval time.Duration
	StallTimeout     time.Duration
	BufferSize       int
}

func (c *Config) setDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}

	c.URL = strings.TrimRight(c.URL, "/")

	if c.Area == "" {
		c.Area = DefaultArea
	}

	if c.Timeout <= 0 {
		c.Timeout = time.Minute
	}

	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}

	if c.MaxPollInterval < c.PollInterval {
		c.MaxPollInterval = max(c.PollInterval, 5*time.Minute)
	}

	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 10 * time.Second
	}
}

// reply is the JSON body the web API returns for request and status calls.
type reply struct {
	Name     string   `json:"name"`
	Status   string   `json:"status"`
	Href     string   `json:"href"`
	Size     int64    `json:"size"`
	Reason   string   `json:"reason"`
	Error    string   `json:"error"`
	Messages []string `json:"messages"`
}

// Client retrieves one date per call. It is safe for concurrent use by several
// workers, each passing its own credential.
type Client struct {
	cfg  Config
	api  *retryablehttp.Client
	grab *grab.Client
}

// NewClient builds a client whose API calls retry on transient failures.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.setDefaults()

	if logger == nil {
		logger = slog.Default()
	}

	api := retryablehttp.NewClient()
	api.RetryMax = cfg.RetryMax
	api.Logger = logger
	api.ErrorHandler = retryablehttp.PassthroughErrorHandler
	api.HTTPClient.Timeout = cfg.Timeout
	api.HTTPClient.Transport = otelhttp.NewTransport(api.HTTPClient.Transport)

	g := grab.NewClient()
	g.UserAgent = "tigge-retriever"
	g.BufferSize = cfg.BufferSize
	// Results can take a long time to stream, so only the stall detector bounds them.
	g.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	return &Client{cfg: cfg, api: api, grab: g}
}

// Fetch implements retriever.Fetcher.
func (c *Client) Fetch(ctx context.Context, req retriever.RetrievalRequest, cred retriever.Credential) error {
	logger := logctx.LoggerFromContext(ctx).With("date", req.Date.String())
	ctx = logctx.WithLogger(ctx, logger)

	body := Request(req.Date, c.cfg.Area, c.cfg.ReducedSet)

	location, st, err := c.submit(ctx, cred, body)
	if err != nil {
		return err
	}

	defer c.delete(context.WithoutCancel(ctx), cred, location)

	st, err = c.wait(ctx, cred, location, st)
	if err != nil {
		return err
	}

	return c.download(ctx, cred, st, req.TargetPath)
}

func (c *Client) submit(ctx context.Context, cred retriever.Credential, body map[string]string) (string, *reply, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/datasets/%s/requests", c.cfg.URL, Dataset)

	resp, err := c.call(ctx, cred, http.MethodPost, endpoint, payload)
	if err != nil {
		return "", nil, &APIError{Operation: "submit", Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	st, err := decodeReply(resp, "submit")
	if err != nil {
		return "", nil, err
	}

	location := resp.Header.Get("Location")
	if location == "" {
		location = st.Href
	}

	if location == "" {
		return "", nil, &APIError{Operation: "submit", StatusCode: resp.StatusCode, Message: "response carries no request location"}
	}

	location, err = c.resolve(location)
	if err != nil {
		return "", nil, &APIError{Operation: "submit", Message: "invalid request location", Err: err}
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "request submitted", "request", st.Name, "status", st.Status)

	return location, st, nil
}

// wait polls the request until the archive reports a terminal state. The API
// hint in Retry-After wins over the configured interval.
func (c *Client) wait(ctx context.Context, cred retriever.Credential, location string, st *reply) (*reply, error) {
	logger := logctx.LoggerFromContext(ctx)
	delay := c.cfg.PollInterval
	last := ""

	for {
		switch st.Status {
		case statusComplete:
			if st.Href == "" {
				return nil, &APIError{Operation: "status", Message: "complete request carries no result location"}
			}

			return st, nil
		case statusAborted:
			return nil, &APIError{Operation: "status", Message: abortReason(st)}
		case statusQueued, statusSubmitted, statusActive, "":
		default:
			return nil, &APIError{Operation: "status", Message: fmt.Sprintf("unexpected request status %q", st.Status)}
		}

		if st.Status != last {
			logger.InfoContext(ctx, "waiting for archive", "status", st.Status)
			last = st.Status
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		resp, err := c.call(ctx, cred, http.MethodGet, location, nil)
		if err != nil {
			return nil, &APIError{Operation: "status", Message: err.Error(), Err: err}
		}

		st, err = decodeReply(resp, "status")
		retryAfter := resp.Header.Get("Retry-After")
		resp.Body.Close()

		if err != nil {
			return nil, err
		}

		delay = c.nextDelay(retryAfter, delay)
	}
}

func (c *Client) nextDelay(retryAfter string, current time.Duration) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		return min(time.Duration(secs)*time.Second, c.cfg.MaxPollInterval)
	}

	return min(current*2, c.cfg.MaxPollInterval)
}

// download streams the result into <target>.part and renames it into place only
// once the whole file arrived, so a crash never leaves a truncated artifact.
func (c *Client) download(ctx context.Context, cred retriever.Credential, st *reply, target string) error {
	logger := logctx.LoggerFromContext(ctx)

	href, err := c.resolve(st.Href)
	if err != nil {
		return &APIError{Operation: "download", Message: "invalid result location", Err: err}
	}

	part := target + partSuffix

	// Every submission stages a new result, so bytes left from an earlier one
	// must never be continued.
	if err := os.Remove(part); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to discard leftover %s: %w", part, err)
	}

	greq, err := grab.NewRequest(part, href)
	if err != nil {
		return &APIError{Operation: "download", Message: err.Error(), Err: err}
	}

	greq.NoResume = true
	setAuth(greq.HTTPRequest.Header, cred)

	if st.Size > 0 {
		greq.Size = st.Size
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	greq = greq.WithContext(dctx)

	logger.InfoContext(ctx, "downloading result", "size", humanize.Bytes(uint64(max(st.Size, 0))))

	resp := c.grab.Do(greq)
	c.watch(ctx, resp, cancel)

	if err := resp.Err(); err != nil {
		if errors.Is(err, grab.ErrBadLength) || errors.Is(err, grab.ErrBadChecksum) {
			_ = os.Remove(part)
		}

		return &APIError{Operation: "download", StatusCode: statusCode(resp), Message: err.Error(), Err: err}
	}

	info, err := os.Stat(part)
	if err != nil {
		return fmt.Errorf("failed to stat downloaded file: %w", err)
	}

	if info.Size() == 0 {
		_ = os.Remove(part)
		return &APIError{Operation: "download", Message: "archive returned an empty result"}
	}

	if err := os.Rename(part, target); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", part, err)
	}

	logger.InfoContext(ctx, "result downloaded",
		"path", target,
		"size", humanize.Bytes(uint64(info.Size())),
		"rate", humanize.Bytes(uint64(resp.BytesPerSecond()))+"/s",
		"duration", resp.Duration().Round(time.Millisecond).String())

	return nil
}

// watch logs progress until the transfer ends and cancels it when no bytes
// arrive for StallTimeout; a dropped connection is not always reported.
func (c *Client) watch(ctx context.Context, resp *grab.Response, cancel context.CancelFunc) {
	logger := logctx.LoggerFromContext(ctx)

	t := time.NewTicker(c.cfg.ProgressInterval)
	defer t.Stop()

	lastBytes := resp.BytesComplete()
	lastMove := time.Now()

	for {
		select {
		case <-t.C:
			done := resp.BytesComplete()
			logger.DebugContext(ctx, "download progress",
				"transferred", humanize.Bytes(uint64(done)),
				"total", humanize.Bytes(uint64(max(resp.Size(), 0))),
				"percent", fmt.Sprintf("%.2f", 100*resp.Progress()))

			if done != lastBytes {
				lastBytes = done
				lastMove = time.Now()

				continue
			}

			if c.cfg.StallTimeout > 0 && time.Since(lastMove) > c.cfg.StallTimeout {
				logger.ErrorContext(ctx, "download stalled, canceling", "stalled_for", time.Since(lastMove).String())
				cancel()
			}
		case <-resp.Done:
			return
		}
	}
}

// delete releases the request on the server. Failures only cost server-side
// quota, so they are logged and dropped.
func (c *Client) delete(ctx context.Context, cred retriever.Credential, location string) {
	resp, err := c.call(ctx, cred, http.MethodDelete, location, nil)
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to delete request", "err", err)
		return
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (c *Client) call(ctx context.Context, cred retriever.Credential, method, endpoint string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	setAuth(req.Header, cred)

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.api.Do(req)
}

// resolve makes server-relative locations absolute against the API URL.
func (c *Client) resolve(location string) (string, error) {
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}

	if ref.IsAbs() {
		return ref.String(), nil
	}

	base, err := url.Parse(c.cfg.URL + "/")
	if err != nil {
		return "", err
	}

	return base.ResolveReference(ref).String(), nil
}

func setAuth(h http.Header, cred retriever.Credential) {
	h.Set("Accept", "application/json")
	h.Set("From", cred.Identity)
	h.Set("X-ECMWF-KEY", cred.Key)
}

func decodeReply(resp *http.Response, op string) (*reply, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Operation: op, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	var st reply
	decodeErr := json.Unmarshal(data, &st)

	if resp.StatusCode >= http.StatusBadRequest {
		msg := st.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(data))
		}

		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}

		return nil, &APIError{Operation: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if decodeErr != nil {
		return nil, &APIError{Operation: op, StatusCode: resp.StatusCode, Message: "malformed response", Err: decodeErr}
	}

	return &st, nil
}

func abortReason(st *reply) string {
	switch {
	case st.Reason != "":
		return st.Reason
	case st.Error != "":
		return st.Error
	case len(st.Messages) > 0:
		return st.Messages[len(st.Messages)-1]
	default:
		return "request aborted by the archive"
	}
}

func statusCode(resp *grab.Response) int {
	if resp.HTTPResponse == nil {
		return 0
	}

	return resp.HTTPResponse.StatusCode
}
