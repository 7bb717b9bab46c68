package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/tigge_retriever/internal/cleanup"
	"github.com/italolelis/tigge_retriever/internal/config"
	"github.com/italolelis/tigge_retriever/internal/http/status"
	"github.com/italolelis/tigge_retriever/internal/logctx"
	"github.com/italolelis/tigge_retriever/internal/mars"
	"github.com/italolelis/tigge_retriever/internal/notifier"
	"github.com/italolelis/tigge_retriever/internal/retriever"
	"github.com/italolelis/tigge_retriever/internal/storage"
	"github.com/italolelis/tigge_retriever/internal/storage/sqlite"
	"github.com/italolelis/tigge_retriever/internal/telemetry"
)

const serviceName = "tigge_retriever"

// version is set at build time.
var version = "dev"

// Exit codes.
const (
	exitFatal   = 1
	exitPartial = 3
)

var errSomeFailed = errors.New("some dates failed")

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(exitFatal)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// In-flight fetches drain after the first signal; a second one kills the process.
	releaseOnDone(ctx, stop)

	slog.Info("tigge retriever starting...", "log_level", cfg.LogLevel, "version", version)

	err = run(logctx.WithLogger(ctx, logger), cfg, os.Args[1:])

	switch {
	case err == nil:
	case errors.Is(err, errSomeFailed):
		stop()
		os.Exit(exitPartial)
	default:
		slog.Error("fatal error", "err", err)
		stop()
		os.Exit(exitFatal)
	}
}

// releaseOnDone restores default signal handling once ctx is done.
func releaseOnDone(ctx context.Context, stop context.CancelFunc) {
	context.AfterFunc(ctx, func() {
		slog.Warn("shutting down, waiting for in-flight retrievals; signal again to force exit")
		stop()
	})
}

// run performs one bulk download, or a single-date retrieval when a date is given
// as the only argument.
func run(ctx context.Context, cfg *config.Config, args []string) error {
	logger := logctx.LoggerFromContext(ctx)

	creds, err := cfg.Credentials()
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInterval:   cfg.Telemetry.OTLPInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	var (
		journalReader storage.RetrievalReadRepository
		journalWriter storage.RetrievalWriteRepository
	)

	if cfg.DBPath != "" {
		database, err := sqlite.InitDB(ctx, cfg.DBPath)
		if err != nil {
			logger.Error("DB error", "err", err)

			return err
		}
		defer database.Close()

		journal := sqlite.NewInstrumentedRetrievalRepository(database, tel)
		journalReader, journalWriter = journal, journal
	}

	// =========================================================================
	// Clean up abandoned partial downloads
	if removed, err := cleanup.RemoveStalePartials(ctx, cfg.DataDir, cfg.StalePartAge); err != nil {
		logger.Warn("failed to clean up partial downloads", "err", err)
		tel.RecordSystemError(ctx, "cleanup", "remove_partials")
	} else if removed > 0 {
		logger.Info("removed stale partial downloads", "count", removed)
	}

	// =========================================================================
	// Start Retriever
	client := mars.NewClient(mars.Config{
		URL:             cfg.Mars.URL,
		Area:            cfg.Mars.Area,
		ReducedSet:      cfg.ReducedSet,
		RetryMax:        cfg.Mars.RetryMax,
		Timeout:         cfg.Mars.Timeout,
		PollInterval:    cfg.Mars.PollInterval,
		MaxPollInterval: cfg.Mars.MaxPollInterval,
		StallTimeout:    cfg.Mars.StallTimeout,
	}, logger)

	tracker, fetcher := buildFetcher(client, journalWriter, tel, creds)

	r, err := retriever.New(retriever.Config{
		DataDir:     cfg.DataDir,
		Credentials: creds,
		StartDate:   cfg.StartDate,
		Force:       cfg.Force,
		ReducedSet:  cfg.ReducedSet,
		Partition:   cfg.Partition,
	}, fetcher)
	if err != nil {
		return err
	}

	// =========================================================================
	// Start Status Listener
	if cfg.Web.BindAddress != "" {
		server := setupServer(ctx, status.NewHandler(tel, tracker, journalReader), cfg)

		go func() {
			logger.Info("Initializing status listener", "host", cfg.Web.BindAddress)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status listener failed", "err", err)
			}
		}()

		defer shutdownServer(ctx, server, cfg.Web.ShutdownTimeout)
	}

	if len(args) > 0 {
		return retrieveOne(ctx, r, args[0], cfg.Force)
	}

	return bulkDownload(ctx, r, tel, journalWriter, cfg)
}

// buildFetcher stacks the decorators around the archive client: telemetry, then
// progress tracking, then the optional journal.
func buildFetcher(client *mars.Client, journal storage.RetrievalWriteRepository, tel *telemetry.Telemetry, creds []retriever.Credential) (*status.Tracker, retriever.Fetcher) {
	var fetcher retriever.Fetcher = client

	if journal != nil {
		fetcher = storage.NewJournaledFetcher(fetcher, journal)
	}

	tracker := status.NewTracker(fetcher)

	return tracker, retriever.NewInstrumentedFetcher(tracker, tel, creds)
}

func retrieveOne(ctx context.Context, r *retriever.Retriever, arg string, force bool) error {
	date, err := retriever.ParseDate(arg)
	if err != nil {
		return err
	}

	logger := logctx.LoggerFromContext(ctx)

	if err := r.Retrieve(ctx, date, force); err != nil {
		logger.Error("retrieval failed", "date", date.String(), "err", err)

		return errSomeFailed
	}

	logger.Info("retrieval finished", "date", date.String(), "path", r.TargetPath(date), "available", r.Available(date))

	return nil
}

func bulkDownload(ctx context.Context, r *retriever.Retriever, tel *telemetry.Telemetry, journal storage.RetrievalWriteRepository, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)
	started := time.Now()

	var result *retriever.BatchResult

	err := tel.InstrumentBatch(ctx, func(ctx context.Context) (bool, error) {
		var err error

		result, err = r.BulkDownload(ctx, retriever.BulkOptions{EndDate: cfg.EndDate})
		if err != nil {
			return false, err
		}

		return result.OK(), nil
	})
	if err != nil {
		return err
	}

	// The run may have been interrupted; reporting still has to happen.
	reportCtx := context.WithoutCancel(ctx)

	tel.RecordSkipped(reportCtx, "present", len(result.Skipped))
	tel.RecordSkipped(reportCtx, "unavailable", len(result.Unavailable))

	if journal != nil {
		if err := journal.RecordBatch(reportCtx, storage.NewBatchRecord(started, result)); err != nil {
			logger.Error("failed to journal batch", "err", err)
			tel.RecordSystemError(reportCtx, "journal", "record_batch")
		}
	}

	if cfg.DiscordWebhookURL != "" {
		notif := notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
		if err := notif.Notify(reportCtx, notifier.BatchSummary(result, started)); err != nil {
			logger.Error("failed to send notification", "err", err)
			tel.RecordSystemError(reportCtx, "notifier", "discord")
		}
	}

	for _, d := range result.FailedDates() {
		rerr := result.Failed[d]
		logger.Error("date failed", "date", d.String(), "identity", rerr.Identity, "err", rerr.Err)
	}

	logger.Info("batch summary",
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
		"skipped", len(result.Skipped),
		"unavailable", len(result.Unavailable),
		"pending", len(result.Pending),
		"duration", time.Since(started).Round(time.Second).String(),
	)

	if len(result.Failed) > 0 {
		return errSomeFailed
	}

	if len(result.Pending) > 0 {
		return fmt.Errorf("interrupted with %d dates left: %w", len(result.Pending), context.Cause(ctx))
	}

	return nil
}

// setupServer prepares the handlers to create the status http server.
func setupServer(ctx context.Context, h *status.Handler, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Mount("/", h.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "status"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func shutdownServer(ctx context.Context, server *http.Server, timeout time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	// Give outstanding requests a deadline for completion.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("failed to gracefully shutdown the server", "err", err)

		if err = server.Close(); err != nil {
			logger.Error("could not stop server gracefully", "err", err)
		}
	}
}
