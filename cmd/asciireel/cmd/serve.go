package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/asciireel/internal/compiler"
	"github.com/jmylchreest/asciireel/internal/config"
	internalhttp "github.com/jmylchreest/asciireel/internal/http"
	"github.com/jmylchreest/asciireel/internal/http/handlers"
	"github.com/jmylchreest/asciireel/internal/reel"
	"github.com/jmylchreest/asciireel/internal/scheduler"
	"github.com/jmylchreest/asciireel/internal/storage"
	"github.com/jmylchreest/asciireel/internal/version"
)

// Scheduled job names.
const (
	jobSweepStages = "sweep-stages"
	jobRecompile   = "recompile"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the asciireel server",
	Long: `Start the HTTP server that publishes the compiled reel and hosts
browser playback.

The server provides:
- The browser player at /
- Reel files at /frames/{file}
- Websocket playback sessions at /ws/play
- REST API (health, reel summary, sessions, jobs) with OpenAPI docs at /docs

Abandoned compile stages, and chunks superseded by a recompile more than
storage.chunk_retention ago, are swept on storage.cleanup_schedule. When
compiler.schedule is set the reel is recompiled from compiler.input on
that schedule.

When fetch.base_url names a remote reel, websocket sessions and the reel
summary read from it and /api/v1/health reports its circuit breaker.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("data-dir", "./data", "Base directory for reels and staging")
	serveCmd.Flags().Int("max-sessions", 32, "Maximum concurrent playback sessions")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
	mustBindPFlag("server.max_sessions", serveCmd.Flags().Lookup("max-sessions"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()
	logger.Info("starting asciireel",
		slog.String("version", version.Version),
		slog.String("address", cfg.Server.Address()),
		slog.Any("fetch", cfg.Fetch),
	)

	sandbox, err := storage.NewSandbox(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	// Stages left by a crash mid-compile are never published.
	if err := sweepStorage(cfg, sandbox, newCompiler(cfg, sandbox, cfg.Storage.TempDir, logger), logger); err != nil {
		logger.Warn("failed to sweep storage", slog.String("error", err.Error()))
	}

	if cfg.Fetch.BaseURL == "" {
		manifest := path.Join(cfg.Storage.FramesDir, reel.ManifestFile)
		if ok, err := sandbox.Exists(manifest); err == nil && !ok {
			logger.Warn("no reel published yet, sessions will use synthetic playback",
				slog.String("manifest", manifest))
		}
	}

	sched, err := newScheduler(cfg, sandbox, logger)
	if err != nil {
		return err
	}

	server, err := newServer(cfg, sandbox, sched, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	return server.ListenAndServe(ctx)
}

// newServer wires the handlers onto a fresh HTTP server.
func newServer(cfg *config.Config, sandbox *storage.Sandbox, jobs handlers.JobLister, logger *slog.Logger) (*internalhttp.Server, error) {
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)
	fetcher, err := newFetcher(cfg, "", logger)
	if err != nil {
		return nil, err
	}
	registry := handlers.NewSessionRegistry(cfg.Server.MaxSessions)

	health := handlers.NewHealthHandler(version.Version).WithSessions(registry)
	if upstream, ok := fetcher.(handlers.Upstream); ok {
		health.WithUpstream(upstream)
	}

	api := server.API()
	health.Register(api)
	handlers.NewReelHandler(fetcher).Register(api)
	handlers.NewSessionHandler(registry).Register(api)
	handlers.NewJobHandler(jobs).Register(api)

	router := server.Router()
	handlers.NewFramesHandler(sandbox, cfg.Storage.FramesDir).RegisterFileServer(router)

	play := handlers.NewPlayHandler(fetcher, registry).
		WithLogger(logger).
		WithCheckOrigin(server.CheckOrigin).
		WithPlayerOptions(playerOptions(cfg.Player, cfg.Compiler.Palette, logger)...)
	router.Handle("/ws/play", play)

	static, err := handlers.NewStaticHandler()
	if err != nil {
		return nil, fmt.Errorf("loading embedded player: %w", err)
	}
	router.Handle("/", static)
	router.Handle("/static/*", static)

	return server, nil
}

// newScheduler registers the maintenance jobs enabled by cfg.
func newScheduler(cfg *config.Config, sandbox *storage.Sandbox, logger *slog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New().WithLogger(logger)

	if cfg.Storage.CleanupSchedule != "" {
		c := newCompiler(cfg, sandbox, cfg.Storage.TempDir, logger)
		err := sched.Add(jobSweepStages, cfg.Storage.CleanupSchedule, func(context.Context) error {
			return sweepStorage(cfg, sandbox, c, logger)
		})
		if err != nil {
			return nil, fmt.Errorf("scheduling %s: %w", jobSweepStages, err)
		}
	}

	if cfg.Compiler.Schedule != "" {
		c := newCompiler(cfg, sandbox, cfg.Storage.TempDir, logger)
		opts := compileOptions(cfg.Compiler, cfg.Storage.FramesDir)
		err := sched.Add(jobRecompile, cfg.Compiler.Schedule, func(ctx context.Context) error {
			_, err := c.Compile(ctx, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("scheduling %s: %w", jobRecompile, err)
		}
	}

	return sched, nil
}

// sweepStorage removes abandoned compile stages, then chunks left behind by a
// recompile once storage.chunk_retention has passed.
func sweepStorage(cfg *config.Config, sandbox *storage.Sandbox, c *compiler.Compiler, logger *slog.Logger) error {
	now := time.Now()
	n, stageErr := sandbox.SweepStages(cfg.Storage.TempDir, now.Add(-cfg.Storage.StageMaxAge))
	if n > 0 {
		logger.Info("removed abandoned compile stages", slog.Int("count", n))
	}
	_, pruneErr := c.Prune(cfg.Storage.FramesDir, now.Add(-cfg.Storage.ChunkRetention))
	return errors.Join(stageErr, pruneErr)
}
