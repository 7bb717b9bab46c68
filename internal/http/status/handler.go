package status

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/tigge_retriever/internal/logctx"
	"github.com/italolelis/tigge_retriever/internal/storage"
	"github.com/italolelis/tigge_retriever/internal/telemetry"
)

// Handler serves the optional status listener.
type Handler struct {
	telemetry *telemetry.Telemetry
	tracker   *Tracker
	journal   storage.RetrievalReadRepository
}

// NewHandler builds the status handler. tracker and journal may be nil.
func NewHandler(tel *telemetry.Telemetry, tracker *Tracker, journal storage.RetrievalReadRepository) *Handler {
	return &Handler{telemetry: tel, tracker: tracker, journal: journal}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(h.telemetry).Middleware)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/progress", h.HandleProgress)
	r.Get("/batch", h.HandleLastBatch)
	r.Get("/retrievals/failed", h.HandleFailed)
	r.Handle("/metrics", h.telemetry.Handler())

	return r
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// HandleProgress reports the live counters of the running batch.
func (h *Handler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		http.Error(w, "progress tracking is disabled", http.StatusNotFound)
		return
	}

	writeJSON(w, r, h.tracker.Snapshot())
}

// HandleLastBatch reports the most recent journaled batch.
func (h *Handler) HandleLastBatch(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "journal is disabled", http.StatusNotFound)
		return
	}

	batch, err := h.journal.LastBatch(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "no batch recorded yet", http.StatusNotFound)
		return
	}

	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to read last batch", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, r, batchResponse{
		ID:          batch.ID,
		StartedAt:   batch.StartedAt.Format(timeFormat),
		FinishedAt:  batch.FinishedAt.Format(timeFormat),
		Succeeded:   batch.Succeeded,
		Failed:      batch.Failed,
		Skipped:     batch.Skipped,
		Unavailable: batch.Unavailable,
		Pending:     batch.Pending,
	})
}

// HandleFailed lists the dates whose latest attempt failed.
func (h *Handler) HandleFailed(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "journal is disabled", http.StatusNotFound)
		return
	}

	records, err := h.journal.GetFailedRetrievals(r.Context())
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to read failed retrievals", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	resp := make([]failedResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, failedResponse{
			Date:      rec.Date,
			Identity:  rec.Identity,
			Error:     rec.Error,
			Attempts:  rec.Attempts,
			UpdatedAt: rec.UpdatedAt.Format(timeFormat),
		})
	}

	writeJSON(w, r, resp)
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

type batchResponse struct {
	ID          string `json:"id"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	Unavailable int    `json:"unavailable"`
	Pending     int    `json:"pending"`
}

type failedResponse struct {
	Date      string `json:"date"`
	Identity  string `json:"identity"`
	Error     string `json:"error"`
	Attempts  int    `json:"attempts"`
	UpdatedAt string `json:"updated_at"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
