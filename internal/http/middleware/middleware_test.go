package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/asciireel/internal/observability"
)

var payload = strings.Repeat(`{"frames":[["@@@@....####"]]}`, 200)

func jsonHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, payload)
	})
}

func TestNewCompression_Brotli(t *testing.T) {
	h := NewCompression(5)(jsonHandler())

	req := httptest.NewRequest(http.MethodGet, "/frames/chunk_0001.json", nil)
	req.Header.Set("Accept-Encoding", "br, gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "br", rec.Header().Get("Content-Encoding"))
	assert.Less(t, rec.Body.Len(), len(payload))

	decoded, err := io.ReadAll(brotli.NewReader(rec.Body))
	require.NoError(t, err)
	assert.Equal(t, payload, string(decoded))
}

func TestSkipCompressionForStreams(t *testing.T) {
	h := NewCompression(5)(jsonHandler())

	tests := []struct {
		name   string
		header http.Header
	}{
		{name: "websocket upgrade", header: http.Header{"Upgrade": {"websocket"}, "Accept-Encoding": {"br"}}},
		{name: "event stream", header: http.Header{"Accept": {"text/event-stream"}, "Accept-Encoding": {"gzip"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/play", nil)
			req.Header = tt.header
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Empty(t, rec.Header().Get("Content-Encoding"))
			assert.Equal(t, payload, rec.Body.String())
		})
	}
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig([]string{"https://reel.example"})
	h := CORS(cfg)(jsonHandler())

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reel", nil)
		req.Header.Set("Origin", "https://reel.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "https://reel.example", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	})

	t.Run("foreign origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reel", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/reel", nil)
		req.Header.Set("Origin", "https://reel.example")
		req.Header.Set("Access-Control-Request-Method", "GET")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "GET, HEAD, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("websocket origin check", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws/play", nil)
		assert.True(t, cfg.CheckOrigin(req), "no origin header")
		req.Header.Set("Origin", "https://evil.example")
		assert.False(t, cfg.CheckOrigin(req))
		assert.True(t, DefaultCORSConfig(nil).CheckOrigin(req), "wildcard by default")
	})
}

func TestRequestIDAndLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		observability.LoggerFromContext(r.Context()).Info("inside")
		w.WriteHeader(http.StatusTeapot)
	})
	h := RequestID(ContextLogger(logger)(RequestLogging()(inner)))

	t.Run("generates an ID", func(t *testing.T) {
		buf.Reset()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

		require.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
		assert.Contains(t, buf.String(), `"request_id":"`+seen+`"`)
		assert.Contains(t, buf.String(), `"status":418`)
		assert.Contains(t, buf.String(), `"level":"WARN"`)
	})

	t.Run("reuses a client ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "abc-123", seen)
	})

	t.Run("replaces an oversized ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("a", maxRequestIDLength+1))
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Len(t, seen, 36)
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	abort := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		abort.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
