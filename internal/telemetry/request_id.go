package telemetry

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/italolelis/tigge_retriever/internal/logctx"
)

type ctxKey string

const (
	requestIDKey    ctxKey = "request_id"
	RequestIDHeader        = "X-Request-ID"

	maxRequestIDLen = 128
)

// RequestID tags each status request with an id, echoes it in the response and
// adds it to the request logger. An upstream X-Request-ID wins, then the trace id
// of the span started by otelhttp, so log lines and traces share a key. A fresh
// UUID covers requests served without tracing.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := requestIDFor(ctx, r.Header.Get(RequestIDHeader))

		w.Header().Set(RequestIDHeader, requestID)

		ctx = context.WithValue(ctx, requestIDKey, requestID)
		ctx = logctx.With(ctx, "request_id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFor(ctx context.Context, upstream string) string {
	if upstream != "" && len(upstream) <= maxRequestIDLen && printable(upstream) {
		return upstream
	}

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}

	return uuid.NewString()
}

// printable rejects ids that would break a log line or a response header.
func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}

	return true
}

// GetRequestID retrieves the request_id from context, or "" if there is none.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}

	return ""
}
