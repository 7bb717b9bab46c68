package retriever

import (
	"context"
	"slices"

	"github.com/samber/lo"
)

// Credential is an ECMWF web API key and the registered email it belongs to.
type Credential struct {
	Key      string
	Identity string
}

// String returns the identity only so credentials can be logged safely.
func (c Credential) String() string {
	return c.Identity
}

// RetrievalRequest is one artifact to fetch.
type RetrievalRequest struct {
	Date       Date
	TargetPath string
}

// Fetcher retrieves the archive data for one date into TargetPath using the given credential.
// Implementations must not leave a non-empty file at TargetPath unless the artifact is complete.
type Fetcher interface {
	Fetch(ctx context.Context, req RetrievalRequest, cred Credential) error
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req RetrievalRequest, cred Credential) error

func (f FetcherFunc) Fetch(ctx context.Context, req RetrievalRequest, cred Credential) error {
	return f(ctx, req, cred)
}

// BatchResult is the outcome of one BulkDownload call.
type BatchResult struct {
	// Succeeded holds the dates fetched in this run, ascending.
	Succeeded []Date
	// Failed maps each date whose fetch failed to the error detail.
	Failed map[Date]*RetrievalError
	// Skipped holds dates whose artifact was already present.
	Skipped []Date
	// Unavailable holds dates the archive is known not to have.
	Unavailable []Date
	// Pending holds dates never attempted because the run was cancelled.
	Pending []Date
}

func newBatchResult() *BatchResult {
	return &BatchResult{Failed: make(map[Date]*RetrievalError)}
}

// Attempted returns the number of fetches issued.
func (r *BatchResult) Attempted() int {
	return len(r.Succeeded) + len(r.Failed)
}

// OK reports whether every attempted fetch succeeded and nothing was left pending.
func (r *BatchResult) OK() bool {
	return len(r.Failed) == 0 && len(r.Pending) == 0
}

// FailedDates returns the failed dates in ascending order.
func (r *BatchResult) FailedDates() []Date {
	dates := lo.Keys(r.Failed)
	sortDates(dates)

	return dates
}

// workerResult is what a single worker collected for its shard.
type workerResult struct {
	succeeded []Date
	failed    []*RetrievalError
	pending   []Date
}

// merge folds per-worker results into r. Called only after all workers have returned.
func (r *BatchResult) merge(results []workerResult) {
	for _, wr := range results {
		r.Succeeded = append(r.Succeeded, wr.succeeded...)
		r.Pending = append(r.Pending, wr.pending...)

		for _, rerr := range wr.failed {
			r.Failed[rerr.Date] = rerr
		}
	}

	sortDates(r.Succeeded)
	sortDates(r.Pending)
}

func sortDates(dates []Date) {
	slices.SortFunc(dates, Date.Compare)
}
