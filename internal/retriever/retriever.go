package retriever

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/italolelis/tigge_retriever/internal/logctx"
	"golang.org/x/sync/errgroup"
)

// UnavailableDates are the days missing from the TIGGE archive. Requests for them
// always fail on the server side, so they are only issued when forced.
var UnavailableDates = []Date{
	{2015, time.December, 3}, {2015, time.December, 10}, {2015, time.December, 16},
	{2015, time.December, 17}, {2015, time.December, 18}, {2015, time.December, 19},
	{2016, time.June, 24}, {2016, time.June, 28}, {2016, time.June, 29},
	{2016, time.June, 30}, {2016, time.July, 1}, {2016, time.July, 2},
	{2016, time.July, 3}, {2016, time.August, 6}, {2016, time.August, 10},
	{2016, time.August, 23}, {2016, time.August, 24}, {2016, time.August, 25},
	{2016, time.August, 28},
}

// Config is the immutable configuration of a Retriever.
type Config struct {
	// DataDir is the directory artifacts are written to. It must already exist.
	DataDir string
	// Credentials are used in order; credential i runs shard i.
	Credentials []Credential
	// StartDate is the first date to retrieve. Zero means StartDate.
	StartDate Date
	// Force re-fetches dates whose artifact is already present.
	Force bool
	// ReducedSet retrieves the reduced variable set into its own artifact names.
	ReducedSet bool
	// Partition selects how requests are spread over credentials. Empty means RoundRobin.
	Partition PartitionPolicy
	// Unavailable lists dates requested only when forced. Nil means UnavailableDates.
	Unavailable []Date
}

// BulkOptions are the per-call arguments of BulkDownload.
type BulkOptions struct {
	// EndDate is the last date to retrieve. Zero means today.
	EndDate Date
	// Force re-fetches present artifacts for this call even if Config.Force is false.
	Force bool
}

// Option configures optional collaborators of a Retriever.
type Option func(*Retriever)

// WithClock replaces time.Now when resolving the default end date.
func WithClock(now func() time.Time) Option {
	return func(r *Retriever) {
		r.now = now
	}
}

// Retriever downloads TIGGE artifacts for a range of dates, one worker per credential.
type Retriever struct {
	cfg         Config
	fetcher     Fetcher
	unavailable map[Date]struct{}
	now         func() time.Time
}

// New validates cfg and returns a Retriever. It fails with a *ConfigurationError when
// no credentials are given or the data directory is not a writable directory.
func New(cfg Config, fetcher Fetcher, opts ...Option) (*Retriever, error) {
	if len(cfg.Credentials) == 0 {
		return nil, &ConfigurationError{Reason: "at least one archive credential is required"}
	}

	if fetcher == nil {
		return nil, &ConfigurationError{Reason: "no fetcher configured"}
	}

	if err := checkDataDir(cfg.DataDir); err != nil {
		return nil, err
	}

	cfg.Credentials = slices.Clone(cfg.Credentials)

	if cfg.StartDate.IsZero() {
		cfg.StartDate = StartDate
	}

	if cfg.Partition == "" {
		cfg.Partition = RoundRobin
	}

	if cfg.Unavailable == nil {
		cfg.Unavailable = UnavailableDates
	}

	r := &Retriever{
		cfg:         cfg,
		fetcher:     fetcher,
		unavailable: make(map[Date]struct{}, len(cfg.Unavailable)),
		now:         time.Now,
	}

	for _, d := range cfg.Unavailable {
		r.unavailable[d] = struct{}{}
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

func checkDataDir(dir string) error {
	if dir == "" {
		return &ConfigurationError{Reason: "data directory is not set"}
	}

	info, err := os.Stat(dir)
	if err != nil {
		return &ConfigurationError{Reason: "data directory is not accessible", Err: err}
	}

	if !info.IsDir() {
		return &ConfigurationError{Reason: fmt.Sprintf("data directory %s is not a directory", dir)}
	}

	scratch, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return &ConfigurationError{Reason: "data directory is not writable", Err: err}
	}

	scratch.Close()
	os.Remove(scratch.Name())

	return nil
}

// Config returns the effective configuration.
func (r *Retriever) Config() Config {
	return r.cfg
}

// TargetPath returns the artifact path for date.
func (r *Retriever) TargetPath(date Date) string {
	return ArtifactPath(r.cfg.DataDir, date, r.cfg.ReducedSet)
}

// Available reports whether the archive is expected to hold date.
func (r *Retriever) Available(date Date) bool {
	_, missing := r.unavailable[date]

	return !missing
}

// NeedsDownload reports whether date has to be fetched. Force always fetches;
// otherwise the date must be available in the archive with its artifact absent
// or empty.
func (r *Retriever) NeedsDownload(date Date, force bool) bool {
	if force || r.cfg.Force {
		return true
	}

	return r.Available(date) && !Present(r.TargetPath(date))
}

// BulkDownload retrieves every date from the configured start date to opts.EndDate.
// Only an invalid range is returned as an error; per-date failures end up in
// BatchResult.Failed.
func (r *Retriever) BulkDownload(ctx context.Context, opts BulkOptions) (*BatchResult, error) {
	logger := logctx.LoggerFromContext(ctx)

	end := opts.EndDate
	if end.IsZero() {
		end = DateOf(r.now())
	}

	dates, err := Dates(r.cfg.StartDate, end)
	if err != nil {
		return nil, err
	}

	force := opts.Force || r.cfg.Force
	result := newBatchResult()

	var requests []RetrievalRequest

	for date := range dates {
		switch {
		case !force && !r.Available(date):
			result.Unavailable = append(result.Unavailable, date)
		case !r.NeedsDownload(date, force):
			result.Skipped = append(result.Skipped, date)
		default:
			requests = append(requests, RetrievalRequest{Date: date, TargetPath: r.TargetPath(date)})
		}
	}

	logger.Info("starting bulk download",
		"start_date", r.cfg.StartDate.String(),
		"end_date", end.String(),
		"requests", len(requests),
		"skipped", len(result.Skipped),
		"unavailable", len(result.Unavailable),
		"credentials", len(r.cfg.Credentials),
		"partition", string(r.cfg.Partition),
		"force", force,
	)

	result.merge(r.dispatch(ctx, requests))

	logger.Info("bulk download finished",
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
		"pending", len(result.Pending),
	)

	return result, nil
}

// Retrieve fetches a single date with the first credential. Without force, a
// present artifact or a date missing from the archive is left alone.
func (r *Retriever) Retrieve(ctx context.Context, date Date, force bool) error {
	logger := logctx.LoggerFromContext(ctx).With("date", date.String())

	if !r.NeedsDownload(date, force) {
		logger.Info("artifact already present or unavailable, not downloading")

		return nil
	}

	cred := r.cfg.Credentials[0]
	req := RetrievalRequest{Date: date, TargetPath: r.TargetPath(date)}

	if err := r.fetcher.Fetch(ctx, req, cred); err != nil {
		return &RetrievalError{Date: date, Identity: cred.Identity, Err: err}
	}

	return nil
}

// dispatch runs one worker per credential over its shard and waits for all of them.
func (r *Retriever) dispatch(ctx context.Context, requests []RetrievalRequest) []workerResult {
	shards := Partition(requests, len(r.cfg.Credentials), r.cfg.Partition)
	results := make([]workerResult, len(shards))

	if len(shards) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(len(shards))

	for i, shard := range shards {
		cred := r.cfg.Credentials[i]
		wctx := logctx.With(ctx, "worker", i, "identity", cred.Identity, "shard_size", len(shard))

		g.Go(func() error {
			results[i] = r.work(wctx, cred, shard)

			return nil
		})
	}

	// Workers report failures per date in their results, never through Wait.
	if err := g.Wait(); err != nil {
		logctx.LoggerFromContext(ctx).Error("worker group failed", "err", err)
	}

	return results
}

// work processes one shard strictly in order. A failed request is recorded and the
// worker moves on; once ctx is done the remaining requests are left pending.
func (r *Retriever) work(ctx context.Context, cred Credential, shard []RetrievalRequest) workerResult {
	logger := logctx.LoggerFromContext(ctx)

	var res workerResult

	for i, req := range shard {
		if ctx.Err() != nil {
			for _, rest := range shard[i:] {
				res.pending = append(res.pending, rest.Date)
			}

			logger.Warn("retrieval cancelled, leaving requests pending", "pending", len(shard)-i)

			break
		}

		logger.Debug("retrieving artifact", "date", req.Date.String(), "target", req.TargetPath)

		// A started fetch is allowed to finish even if the run is interrupted.
		err := r.fetcher.Fetch(context.WithoutCancel(ctx), req, cred)
		if err != nil {
			logger.Error("failed to retrieve artifact", "date", req.Date.String(), "err", err)

			res.failed = append(res.failed, &RetrievalError{Date: req.Date, Identity: cred.Identity, Err: err})

			continue
		}

		logger.Info("retrieved artifact", "date", req.Date.String(), "target", req.TargetPath)

		res.succeeded = append(res.succeeded, req.Date)
	}

	return res
}

