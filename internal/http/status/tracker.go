package status

import (
	"context"
	"sync"
	"time"

	"github.com/italolelis/tigge_retriever/internal/retriever"
)

// Progress is a snapshot of the running batch.
type Progress struct {
	InFlight  map[string]string `json:"in_flight"` // identity -> date
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	LastError string            `json:"last_error,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Tracker is a retriever.Fetcher decorator that keeps live counters for the
// status endpoint.
type Tracker struct {
	fetcher retriever.Fetcher

	mu       sync.Mutex
	progress Progress
}

func NewTracker(fetcher retriever.Fetcher) *Tracker {
	return &Tracker{
		fetcher:  fetcher,
		progress: Progress{InFlight: make(map[string]string)},
	}
}

// Fetch implements retriever.Fetcher.
func (t *Tracker) Fetch(ctx context.Context, req retriever.RetrievalRequest, cred retriever.Credential) error {
	t.mu.Lock()
	t.progress.InFlight[cred.Identity] = req.Date.String()
	t.progress.UpdatedAt = time.Now().UTC()
	t.mu.Unlock()

	err := t.fetcher.Fetch(ctx, req, cred)

	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.progress.InFlight, cred.Identity)
	t.progress.UpdatedAt = time.Now().UTC()

	if err != nil {
		t.progress.Failed++
		t.progress.LastError = err.Error()

		return err
	}

	t.progress.Succeeded++

	return nil
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.progress
	p.InFlight = make(map[string]string, len(t.progress.InFlight))

	for k, v := range t.progress.InFlight {
		p.InFlight[k] = v
	}

	return p
}
