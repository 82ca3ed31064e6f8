package urlutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	cwd, err := filepath.Abs(".")
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		baseURL string
		dir     string
		wantErr bool
	}{
		{name: "https adds trailing slash", input: "https://cdn.example.com/frames", baseURL: "https://cdn.example.com/frames/"},
		{name: "http keeps trailing slash", input: "http://localhost:8080/frames/", baseURL: "http://localhost:8080/frames/"},
		{name: "host root", input: "https://cdn.example.com", baseURL: "https://cdn.example.com/"},
		{name: "bare host", input: "example.com/frames", baseURL: "http://example.com/frames/"},
		{name: "host and port", input: "localhost:8080", baseURL: "http://localhost:8080/"},
		{name: "file url", input: "file:///srv/reel", dir: "/srv/reel"},
		{name: "file url localhost", input: "file://localhost/srv/reel/", dir: "/srv/reel"},
		{name: "absolute path", input: "/srv/reel", dir: "/srv/reel"},
		{name: "relative path", input: "./public/frames", dir: filepath.Join(cwd, "public", "frames")},
		{name: "plain dir name", input: "frames", dir: filepath.Join(cwd, "frames")},
		{name: "padded", input: "  /srv/reel  ", dir: "/srv/reel"},
		{name: "empty", input: "", wantErr: true},
		{name: "unsupported scheme", input: "ftp://example.com/frames", wantErr: true},
		{name: "remote file host", input: "file://server/share", wantErr: true},
		{name: "missing host", input: "http:///frames", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := ParseLocation(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.baseURL, loc.BaseURL)
			assert.Equal(t, tt.dir, loc.Dir)
			assert.Equal(t, tt.baseURL != "", loc.Remote())
		})
	}
}

func TestParseLocation_Empty(t *testing.T) {
	_, err := ParseLocation("   ")
	assert.ErrorIs(t, err, ErrEmptyLocation)
}

func TestFilePathFromURL(t *testing.T) {
	p, err := FilePathFromURL("file:///var/reels")
	require.NoError(t, err)
	assert.Equal(t, "/var/reels", p)

	_, err = FilePathFromURL("https://example.com")
	assert.Error(t, err)

	_, err = FilePathFromURL("file://")
	assert.Error(t, err)
}

func TestGetScheme(t *testing.T) {
	assert.Equal(t, "https", GetScheme("HTTPS://example.com"))
	assert.Equal(t, "file", GetScheme("file:///tmp"))
	assert.Equal(t, "", GetScheme("/tmp/x"))
}
