package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/jmylchreest/asciireel/internal/config"
	"github.com/jmylchreest/asciireel/internal/httpclient"
	"github.com/jmylchreest/asciireel/internal/reel"
	"github.com/jmylchreest/asciireel/internal/storage"
	"github.com/jmylchreest/asciireel/internal/version"
)

// ErrNotFound is returned when the requested reel resource does not exist.
var ErrNotFound = errors.New("reel resource not found")

// Fetcher retrieves reel resources by name.
type Fetcher interface {
	FetchManifest(ctx context.Context) (*reel.Manifest, error)
	FetchChunk(ctx context.Context, file string) (*reel.Chunk, error)
}

// DirFetcher reads a published reel directory inside a storage sandbox.
type DirFetcher struct {
	sandbox *storage.Sandbox
	dir     string
}

// NewDirFetcher serves the reel stored under dir, relative to sandbox.
func NewDirFetcher(sandbox *storage.Sandbox, dir string) *DirFetcher {
	return &DirFetcher{sandbox: sandbox, dir: dir}
}

// FetchManifest reads and validates index.json.
func (f *DirFetcher) FetchManifest(ctx context.Context) (*reel.Manifest, error) {
	data, err := f.read(ctx, reel.ManifestFile)
	if err != nil {
		return nil, err
	}
	return decodeManifest(data)
}

// FetchChunk reads one chunk file.
func (f *DirFetcher) FetchChunk(ctx context.Context, file string) (*reel.Chunk, error) {
	data, err := f.read(ctx, file)
	if err != nil {
		return nil, err
	}
	return reel.DecodeChunk(bytes.NewReader(data))
}

func (f *DirFetcher) read(ctx context.Context, file string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckName(file); err != nil {
		return nil, err
	}
	data, err := f.sandbox.ReadFile(path.Join(f.dir, file))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	return data, err
}

// HTTPFetcher pulls a reel from a remote base URL.
type HTTPFetcher struct {
	base   *url.URL
	client *httpclient.Client
}

// ClientConfig maps fetch settings onto the resilient client configuration.
func ClientConfig(cfg config.FetchConfig, logger *slog.Logger) httpclient.Config {
	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	hc.RetryAttempts = cfg.RetryAttempts
	hc.RetryDelay = cfg.RetryDelay
	hc.CircuitThreshold = cfg.CircuitThreshold
	hc.CircuitTimeout = cfg.CircuitTimeout
	hc.MaxBodySize = cfg.MaxChunkSize.Bytes()
	hc.UserAgent = version.UserAgent()
	if cfg.AuthToken != "" {
		hc.Header = http.Header{"Authorization": {"Bearer " + cfg.AuthToken}}
	}
	if logger != nil {
		hc.Logger = logger
	}
	return hc
}

// NewHTTPFetcher resolves resources relative to baseURL.
func NewHTTPFetcher(baseURL string, client *httpclient.Client) (*HTTPFetcher, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &HTTPFetcher{base: u, client: client}, nil
}

// FetchManifest downloads and validates index.json.
func (f *HTTPFetcher) FetchManifest(ctx context.Context) (*reel.Manifest, error) {
	data, err := f.get(ctx, reel.ManifestFile)
	if err != nil {
		return nil, err
	}
	return decodeManifest(data)
}

// FetchChunk downloads one chunk file.
func (f *HTTPFetcher) FetchChunk(ctx context.Context, file string) (*reel.Chunk, error) {
	data, err := f.get(ctx, file)
	if err != nil {
		return nil, err
	}
	return reel.DecodeChunk(bytes.NewReader(data))
}

// BaseURL returns the reel location with any password redacted.
func (f *HTTPFetcher) BaseURL() string {
	return f.base.Redacted()
}

// CircuitState reports the circuit breaker guarding the remote reel.
func (f *HTTPFetcher) CircuitState() httpclient.CircuitState {
	return f.client.CircuitState()
}

// ResetCircuit closes the circuit so the next fetch reaches the server again.
func (f *HTTPFetcher) ResetCircuit() {
	f.client.ResetCircuit()
}

func (f *HTTPFetcher) get(ctx context.Context, file string) ([]byte, error) {
	if err := CheckName(file); err != nil {
		return nil, err
	}
	data, err := f.client.Fetch(ctx, f.base.ResolveReference(&url.URL{Path: file}).String())
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	return data, err
}

// CheckName rejects names that are not a plain file in the reel directory.
func CheckName(file string) error {
	if file == "" || file != path.Base(file) || file == "." || file == ".." || strings.Contains(file, "\\") {
		return fmt.Errorf("invalid reel file name %q", file)
	}
	return nil
}

func decodeManifest(data []byte) (*reel.Manifest, error) {
	m, err := reel.DecodeManifest(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
