package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Identity headers honored on inbound requests.
const (
	// CorrelationHeader is the request header carrying the caller's correlation ID.
	CorrelationHeader = "X-Correlation-ID"

	// TraceHeader carries the caller's distributed trace ID.
	TraceHeader = "X-Trace-ID"

	// SessionHeader carries the caller's session ID.
	SessionHeader = "X-Session-ID"
)

type contextKey string

const (
	correlationKey contextKey = "correlation_id"
	traceKey       contextKey = "trace_id"
	sessionKey     contextKey = "session_id"
)

// CorrelationID returns the correlation ID bound to the request context.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// TraceID returns the trace ID bound to the request context; empty when the
// caller sent none.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey).(string)
	return id
}

// SessionID returns the session ID bound to the request context; empty when
// the caller sent none.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// withIdentity honors an inbound X-Correlation-ID, mints one when absent, and
// echoes it on the response. Trace and session IDs are pass-through: bound to
// the context when supplied so they ride every downstream call, never minted
// here.
func withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(CorrelationHeader, id)

		ctx := context.WithValue(r.Context(), correlationKey, id)
		if traceID := r.Header.Get(TraceHeader); traceID != "" {
			ctx = context.WithValue(ctx, traceKey, traceID)
		}
		if sessionID := r.Header.Get(SessionHeader); sessionID != "" {
			ctx = context.WithValue(ctx, sessionKey, sessionID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs one line per request with method, path, status and
// latency, carrying the correlation ID.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Str("correlation_id", CorrelationID(r.Context())).
				Msg("Request handled")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
