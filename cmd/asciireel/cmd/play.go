package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/asciireel/internal/assets"
	"github.com/jmylchreest/asciireel/internal/config"
	"github.com/jmylchreest/asciireel/internal/httpclient"
	"github.com/jmylchreest/asciireel/internal/player"
	"github.com/jmylchreest/asciireel/internal/render"
	"github.com/jmylchreest/asciireel/internal/storage"
	"github.com/jmylchreest/asciireel/internal/urlutil"
)

var (
	playDir    string
	playLoop   bool
	playBorder bool
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a reel in the terminal",
	Long: `Play streams a reel to the terminal, starting as soon as the first chunk
is available and fetching later chunks in the background.

The reel is read from a local directory (--dir, default storage.base_dir/
storage.frames_dir) or from a web server (--url). When no reel can be read
a generated animation is shown instead.

  asciireel play --dir ./public/frames
  asciireel play --url https://example.com/frames/ --loop`,
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().StringVar(&playDir, "dir", "", "local reel directory")
	playCmd.Flags().String("url", "", "base URL of a published reel (http, https or file)")
	playCmd.Flags().BoolVar(&playLoop, "loop", false, "restart when the reel ends")
	playCmd.Flags().BoolVar(&playBorder, "border", true, "draw a border around frames")
	playCmd.MarkFlagsMutuallyExclusive("dir", "url")

	mustBindPFlag("fetch.base_url", playCmd.Flags().Lookup("url"))
}

func runPlay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	fetcher, err := newFetcher(cfg, playDir, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	checkFit := sizeWarning(func(w, h int) error { return render.CheckSize(out, w, h) }, logger)
	presenter := render.NewTerminalPresenter(out, render.WithBorder(playBorder))
	defer presenter.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	finished := make(chan struct{}, 1)
	opts := append(playerOptions(cfg.Player, cfg.Compiler.Palette, logger),
		player.WithStatusListener(func(st player.Status) {
			checkFit(st)
			presenter.UpdateStatus(st)
			if st.State == player.StateCompleted {
				select {
				case finished <- struct{}{}:
				default:
				}
			}
		}),
	)
	p := player.New(fetcher, presenter, opts...)
	defer p.Reset()

	return playUntilDone(ctx, p, fetcher, finished, playLoop, presenter.Err)
}

// sizeWarning returns a status listener that checks the terminal against the
// reel's frame size once that size is known, and logs when it does not fit.
func sizeWarning(check func(width, height int) error, logger *slog.Logger) func(player.Status) {
	var once sync.Once
	return func(st player.Status) {
		if st.Width <= 0 || st.Height <= 0 {
			return
		}
		once.Do(func() {
			if err := check(st.Width, st.Height); err != nil {
				logger.Warn("terminal may be too small for the reel",
					slog.Int("width", st.Width),
					slog.Int("height", st.Height),
					slog.String("error", err.Error()),
				)
			}
		})
	}
}

// circuitResetter is implemented by fetchers guarded by a circuit breaker.
type circuitResetter interface {
	ResetCircuit()
}

// playUntilDone starts p and waits for the reel to end or ctx to be
// cancelled. Degraded playback has no end and runs until cancelled.
// A looping remote reel gets a closed circuit on every pass.
func playUntilDone(ctx context.Context, p *player.Player, fetcher assets.Fetcher, finished <-chan struct{}, loop bool, writeErr func() error) error {
	for {
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("starting playback: %w", err)
		}

		select {
		case <-ctx.Done():
			p.Stop()
			return nil
		case <-finished:
			if err := writeErr(); err != nil {
				return fmt.Errorf("writing frames: %w", err)
			}
			if !loop {
				return nil
			}
			if r, ok := fetcher.(circuitResetter); ok {
				r.ResetCircuit()
			}
		}
	}
}

// newFetcher reads from dir when given, then fetch.base_url (an http(s)
// or file:// location), then the configured frames directory.
func newFetcher(cfg *config.Config, dir string, logger *slog.Logger) (assets.Fetcher, error) {
	if dir == "" && cfg.Fetch.BaseURL != "" {
		loc, err := urlutil.ParseLocation(cfg.Fetch.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing reel location: %w", err)
		}
		if loc.Remote() {
			client := httpclient.New(assets.ClientConfig(cfg.Fetch, logger))
			return assets.NewHTTPFetcher(loc.BaseURL, client)
		}
		dir = loc.Dir
	}

	if dir == "" {
		dir = cfg.Storage.FramesPath()
	}
	sandbox, err := storage.NewSandbox(dir)
	if err != nil {
		return nil, fmt.Errorf("opening reel directory: %w", err)
	}
	return assets.NewDirFetcher(sandbox, "."), nil
}

// playerOptions maps player settings onto scheduler options.
func playerOptions(cfg config.PlayerConfig, palette string, logger *slog.Logger) []player.Option {
	opts := []player.Option{
		player.WithFrameRequester(player.NewRefreshLoop(cfg.RefreshRate)),
		player.WithPrefetchMargin(cfg.PrefetchMargin),
		player.WithRetryPolicy(player.RetryPolicy{
			MaxAttempts: cfg.ChunkRetries + 1,
			Backoff:     cfg.ChunkBackoff,
		}),
		player.WithEagerPrefetch(cfg.EagerPrefetch),
		player.WithFallbackFPS(cfg.FallbackFPS),
		player.WithLogger(logger),
	}
	if palette != "" {
		opts = append(opts, player.WithPalette(palette))
	}
	return opts
}
