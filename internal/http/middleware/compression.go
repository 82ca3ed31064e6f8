package middleware

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// CompressedTypes are the content types worth compressing. Reel JSON is
// dominated by repeated palette characters and shrinks by an order of magnitude.
var CompressedTypes = []string{
	"application/json",
	"text/html",
	"text/css",
	"text/plain",
	"text/javascript",
	"application/javascript",
}

// NewCompression returns a compression middleware that prefers brotli and
// falls back to gzip and deflate.
func NewCompression(level int) func(http.Handler) http.Handler {
	compressor := chimiddleware.NewCompressor(level, CompressedTypes...)
	compressor.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, level)
	})
	return SkipCompressionForStreams(compressor.Handler)
}

// SkipCompressionForStreams wraps a compression middleware so websocket
// upgrades and event streams reach the handler unwrapped. Both need the raw
// connection or unbuffered flushing.
func SkipCompressionForStreams(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isWebsocketUpgrade(r) || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
