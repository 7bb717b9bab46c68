package retriever

import (
	"context"

	"github.com/italolelis/tigge_retriever/internal/telemetry"
)

// InstrumentedFetcher wraps a Fetcher with telemetry.
type InstrumentedFetcher struct {
	fetcher   Fetcher
	telemetry *telemetry.Telemetry
	slots     map[string]int
}

// NewInstrumentedFetcher wraps fetcher. credentials are only used to turn an identity
// into its bounded slot index for metric attributes.
func NewInstrumentedFetcher(fetcher Fetcher, tel *telemetry.Telemetry, credentials []Credential) *InstrumentedFetcher {
	slots := make(map[string]int, len(credentials))
	for i, c := range credentials {
		slots[c.Identity] = i
	}

	return &InstrumentedFetcher{
		fetcher:   fetcher,
		telemetry: tel,
		slots:     slots,
	}
}

// Fetch fetches an artifact with telemetry.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, req RetrievalRequest, cred Credential) error {
	slot, ok := f.slots[cred.Identity]
	if !ok {
		slot = -1
	}

	return f.telemetry.InstrumentRetrieval(ctx, slot, func(ctx context.Context) error {
		return f.fetcher.Fetch(ctx, req, cred)
	})
}
