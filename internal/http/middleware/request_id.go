package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/jmylchreest/asciireel/internal/observability"
)

type requestIDKey struct{}

// RequestIDHeader is the HTTP header carrying the request ID.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength bounds client-supplied IDs so they cannot bloat logs.
const maxRequestIDLength = 128

// RequestID injects a request ID into the context and response headers,
// reusing a client-supplied X-Request-ID when it is reasonable.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ContextLogger stores a logger tagged with the request ID in the request
// context, where observability.LoggerFromContext finds it.
func ContextLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := logger
			if id := GetRequestID(r.Context()); id != "" {
				l = l.With(slog.String("request_id", id))
			}
			next.ServeHTTP(w, r.WithContext(observability.ContextWithLogger(r.Context(), l)))
		})
	}
}

// GetRequestID returns the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
