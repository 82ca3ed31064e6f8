package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/asciireel/internal/assets"
	"github.com/jmylchreest/asciireel/internal/config"
	"github.com/jmylchreest/asciireel/internal/player"
	"github.com/jmylchreest/asciireel/internal/reel"
	"github.com/jmylchreest/asciireel/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.BaseDir = t.TempDir()
	return cfg
}

func TestDumpConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetch.AuthToken = "hunter2"

	var buf bytes.Buffer
	require.NoError(t, dumpConfig(&buf, cfg))
	assert.NotContains(t, buf.String(), "hunter2")

	var out map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "[REDACTED]", out["fetch"]["auth_token"])
	assert.Equal(t, "1h0m0s", out["storage"]["stage_max_age"])
	assert.Equal(t, "@hourly", out["storage"]["cleanup_schedule"])
	assert.Equal(t, 8080, out["server"]["port"])
	assert.Contains(t, out["fetch"]["max_chunk_size"], "MiB")
}

func TestCompileTarget(t *testing.T) {
	base := t.TempDir()
	storageCfg := config.StorageConfig{BaseDir: base, FramesDir: "frames", TempDir: "temp"}

	t.Run("configured directories", func(t *testing.T) {
		sb, out, tmp, err := compileTarget(storageCfg, "")
		require.NoError(t, err)
		assert.Equal(t, base, sb.BaseDir())
		assert.Equal(t, "frames", out)
		assert.Equal(t, "temp", tmp)
	})

	t.Run("explicit output", func(t *testing.T) {
		target := filepath.Join(base, "public", "reel")
		sb, out, tmp, err := compileTarget(storageCfg, target)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "public"), sb.BaseDir())
		assert.Equal(t, "reel", out)
		assert.Equal(t, stageDirName, tmp)
	})
}

func TestCompileOptions(t *testing.T) {
	opts := compileOptions(config.CompilerConfig{
		Input: "in.mp4", Source: "images", FPS: 12, Width: 40, Height: 10, ChunkSize: 50,
	}, "frames")

	assert.Equal(t, "in.mp4", opts.Input)
	assert.Equal(t, "images", opts.Source)
	assert.Equal(t, "frames", opts.OutputDir)
	assert.NoError(t, opts.Validate())
}

func TestNewScheduler_Jobs(t *testing.T) {
	cfg := testConfig(t)
	sb, err := storage.NewSandbox(cfg.Storage.BaseDir)
	require.NoError(t, err)

	t.Run("defaults register the stage sweep only", func(t *testing.T) {
		sched, err := newScheduler(cfg, sb, slog.Default())
		require.NoError(t, err)
		jobs := sched.Jobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, jobSweepStages, jobs[0].Name)
	})

	t.Run("compiler schedule adds recompile", func(t *testing.T) {
		withRecompile := *cfg
		withRecompile.Compiler.Input = "in.mp4"
		withRecompile.Compiler.Schedule = "0 3 * * *"
		sched, err := newScheduler(&withRecompile, sb, slog.Default())
		require.NoError(t, err)

		names := []string{}
		for _, j := range sched.Jobs() {
			names = append(names, j.Name)
		}
		assert.Equal(t, []string{jobRecompile, jobSweepStages}, names)
	})

	t.Run("invalid schedule", func(t *testing.T) {
		bad := *cfg
		bad.Storage.CleanupSchedule = "every tuesday"
		_, err := newScheduler(&bad, sb, slog.Default())
		assert.ErrorContains(t, err, jobSweepStages)
	})
}

func TestSweepStorage_PrunesSupersededChunks(t *testing.T) {
	cfg := testConfig(t)
	sb, err := storage.NewSandbox(cfg.Storage.BaseDir)
	require.NoError(t, err)
	frames := cfg.Storage.FramesDir

	live := reel.VersionedChunkFileName("b", 1)
	stale := reel.VersionedChunkFileName("a", 1)
	data, err := reel.MarshalManifest(&reel.Manifest{FPS: 10, Width: 1, Height: 1, TotalFrames: 1,
		Chunks: []reel.ChunkRef{{File: live, Count: 1}}})
	require.NoError(t, err)
	writeReelFile(t, sb, filepath.Join(frames, stale), []byte(`{"frames":[["x"]]}`))
	writeReelFile(t, sb, filepath.Join(frames, live), []byte(`{"frames":[["y"]]}`))
	writeReelFile(t, sb, filepath.Join(frames, reel.ManifestFile), data)

	c := newCompiler(cfg, sb, cfg.Storage.TempDir, slog.Default())

	// The recompile is newer than the retention window.
	require.NoError(t, sweepStorage(cfg, sb, c, slog.Default()))
	exists, err := sb.Exists(filepath.Join(frames, stale))
	require.NoError(t, err)
	assert.True(t, exists)

	published := time.Now().Add(-2 * cfg.Storage.ChunkRetention)
	require.NoError(t, os.Chtimes(filepath.Join(sb.BaseDir(), frames, reel.ManifestFile), published, published))

	require.NoError(t, sweepStorage(cfg, sb, c, slog.Default()))
	exists, err = sb.Exists(filepath.Join(frames, stale))
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = sb.Exists(filepath.Join(frames, live))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestNewServer_Routes(t *testing.T) {
	cfg := testConfig(t)
	sb, err := storage.NewSandbox(cfg.Storage.BaseDir)
	require.NoError(t, err)

	m := &reel.Manifest{FPS: 10, Width: 1, Height: 1, TotalFrames: 1,
		Chunks: []reel.ChunkRef{{File: reel.ChunkFileName(1), Count: 1}}}
	data, err := reel.MarshalManifest(m)
	require.NoError(t, err)
	writeReelFile(t, sb, filepath.Join(cfg.Storage.FramesDir, reel.ManifestFile), data)

	sched, err := newScheduler(cfg, sb, slog.Default())
	require.NoError(t, err)
	server, err := newServer(cfg, sb, sched, slog.Default())
	require.NoError(t, err)

	srv := httptest.NewServer(server.Router())
	defer srv.Close()

	for _, path := range []string{"/", "/static/player.js", "/frames/index.json", "/api/v1/health", "/api/v1/sessions"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(srv.URL + "/api/v1/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Jobs []struct {
			Name string `json:"name"`
		} `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, jobSweepStages, body.Jobs[0].Name)
}

func TestNewServer_RemoteReelHealth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetch.BaseURL = "https://cdn.example.com/frames"
	sb, err := storage.NewSandbox(cfg.Storage.BaseDir)
	require.NoError(t, err)

	sched, err := newScheduler(cfg, sb, slog.Default())
	require.NoError(t, err)
	server, err := newServer(cfg, sb, sched, slog.Default())
	require.NoError(t, err)

	srv := httptest.NewServer(server.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status   string `json:"status"`
		Upstream struct {
			URL     string `json:"url"`
			Circuit string `json:"circuit"`
		} `json:"upstream"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "https://cdn.example.com/frames/", body.Upstream.URL)
	assert.Equal(t, "closed", body.Upstream.Circuit)
}

func TestPlayUntilDone(t *testing.T) {
	cfg := testConfig(t)
	sb, err := storage.NewSandbox(cfg.Storage.BaseDir)
	require.NoError(t, err)

	data, err := reel.MarshalManifest(&reel.Manifest{FPS: 50, Width: 1, Height: 1, TotalFrames: 2,
		Chunks: []reel.ChunkRef{{File: reel.ChunkFileName(1), Count: 2}}})
	require.NoError(t, err)
	writeReelFile(t, sb, reel.ManifestFile, data)
	data, err = reel.MarshalChunk(&reel.Chunk{Frames: []reel.Frame{{"a"}, {"b"}}})
	require.NoError(t, err)
	writeReelFile(t, sb, reel.ChunkFileName(1), data)

	fetcher, err := newFetcher(cfg, cfg.Storage.BaseDir, slog.Default())
	require.NoError(t, err)

	t.Run("returns when the reel ends", func(t *testing.T) {
		finished := make(chan struct{}, 1)
		var shown []int
		opts := append(playerOptions(cfg.Player, "", slog.Default()), player.WithStatusListener(func(st player.Status) {
			if st.State == player.StateCompleted {
				select {
				case finished <- struct{}{}:
				default:
				}
			}
		}))
		p := player.New(fetcher, player.PresenterFunc(func(i int, _ reel.Frame) { shown = append(shown, i) }), opts...)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, playUntilDone(ctx, p, fetcher, finished, false, func() error { return nil }))
		assert.Equal(t, player.StateCompleted, p.State())
		assert.Equal(t, 1, shown[len(shown)-1])
	})

	t.Run("loop runs until cancelled", func(t *testing.T) {
		finished := make(chan struct{}, 1)
		var completions int
		opts := append(playerOptions(cfg.Player, "", slog.Default()), player.WithStatusListener(func(st player.Status) {
			if st.State == player.StateCompleted {
				select {
				case finished <- struct{}{}:
				default:
				}
			}
		}))
		resetting := &resettingFetcher{Fetcher: fetcher}
		p := player.New(resetting, nil, opts...)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- playUntilDone(ctx, p, resetting, finished, true, func() error {
				completions++
				if completions == 2 {
					cancel()
				}
				return nil
			})
		}()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("loop did not stop")
		}
		assert.GreaterOrEqual(t, completions, 2)
		assert.GreaterOrEqual(t, int(resetting.resets.Load()), 1, "each new pass starts with a closed circuit")
	})
}

type resettingFetcher struct {
	assets.Fetcher
	resets atomic.Int32
}

func (f *resettingFetcher) ResetCircuit() { f.resets.Add(1) }

func TestSizeWarning(t *testing.T) {
	var checked [][2]int
	listener := sizeWarning(func(w, h int) error {
		checked = append(checked, [2]int{w, h})
		return errors.New("terminal is 40x10, need at least 82x43")
	}, slog.Default())

	listener(player.Status{State: player.StateStarting})
	assert.Empty(t, checked, "size is unknown before the manifest arrives")

	listener(player.Status{State: player.StatePlaying, Width: 80, Height: 40})
	listener(player.Status{State: player.StatePlaying, Width: 80, Height: 40})
	assert.Equal(t, [][2]int{{80, 40}}, checked)
}

func TestPlayerOptions(t *testing.T) {
	cfg := config.PlayerConfig{RefreshRate: 60, PrefetchMargin: 5, ChunkRetries: 2, FallbackFPS: 12}
	assert.Len(t, playerOptions(cfg, "", nil), 6)
	assert.Len(t, playerOptions(cfg, " .#", nil), 7)
}

func TestNewFetcher(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	data, err := reel.MarshalManifest(&reel.Manifest{FPS: 5, Width: 1, Height: 1})
	require.NoError(t, err)
	sb, err := storage.NewSandbox(dir)
	require.NoError(t, err)
	writeReelFile(t, sb, reel.ManifestFile, data)

	t.Run("file url", func(t *testing.T) {
		withURL := *cfg
		withURL.Fetch.BaseURL = "file://" + dir
		f, err := newFetcher(&withURL, "", slog.Default())
		require.NoError(t, err)

		m, err := f.FetchManifest(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5, m.FPS)
	})

	t.Run("http url", func(t *testing.T) {
		withURL := *cfg
		withURL.Fetch.BaseURL = "https://cdn.example.com/frames"
		f, err := newFetcher(&withURL, "", slog.Default())
		require.NoError(t, err)
		assert.IsType(t, &assets.HTTPFetcher{}, f)
	})

	t.Run("dir wins over url", func(t *testing.T) {
		withURL := *cfg
		withURL.Fetch.BaseURL = "https://cdn.example.com/frames"
		f, err := newFetcher(&withURL, dir, slog.Default())
		require.NoError(t, err)
		assert.IsType(t, &assets.DirFetcher{}, f)
	})
}

// writeReelFile places data at rel inside sb.
func writeReelFile(t *testing.T, sb *storage.Sandbox, rel string, data []byte) {
	t.Helper()
	p := filepath.Join(sb.BaseDir(), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, data, 0o640))
}
