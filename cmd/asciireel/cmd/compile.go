package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/asciireel/internal/compiler"
	"github.com/jmylchreest/asciireel/internal/config"
	"github.com/jmylchreest/asciireel/internal/ffmpeg"
	"github.com/jmylchreest/asciireel/internal/storage"
)

// stageDirName holds in-progress compiles next to an explicit --out directory
// so publishing is a same-filesystem rename.
const stageDirName = ".asciireel-stage"

var compileOut string

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile a video or image directory into an ASCII reel",
	Long: `Compile extracts frames from a video with ffmpeg (or reads a directory of
images), converts each to ASCII with the configured palette and writes
chunk files plus an index.json manifest.

The manifest is written last, so players never observe a half-written reel.

  asciireel compile --in intro.mp4 --out ./public/frames --fps 30 --w 60 --h 20
  asciireel compile --in ./shots --source images --out ./public/frames`,
	RunE: runCompile,
}

func init() {
	rootCmd.AddCommand(compileCmd)

	compileCmd.Flags().String("in", "", "input video file, or image directory with --source images")
	compileCmd.Flags().StringVar(&compileOut, "out", "", "output directory (default: storage.base_dir/storage.frames_dir)")
	compileCmd.Flags().Int("fps", 30, "frames sampled per second")
	compileCmd.Flags().Int("w", 60, "frame width in characters")
	compileCmd.Flags().Int("h", 20, "frame height in rows")
	compileCmd.Flags().Int("chunk", 300, "frames per chunk")
	compileCmd.Flags().String("source", "ffmpeg", "frame source (ffmpeg, images)")
	compileCmd.Flags().String("palette", "", "density palette, darkest first")

	mustBindPFlag("compiler.input", compileCmd.Flags().Lookup("in"))
	mustBindPFlag("compiler.fps", compileCmd.Flags().Lookup("fps"))
	mustBindPFlag("compiler.width", compileCmd.Flags().Lookup("w"))
	mustBindPFlag("compiler.height", compileCmd.Flags().Lookup("h"))
	mustBindPFlag("compiler.chunk_size", compileCmd.Flags().Lookup("chunk"))
	mustBindPFlag("compiler.source", compileCmd.Flags().Lookup("source"))
	mustBindPFlag("compiler.palette", compileCmd.Flags().Lookup("palette"))
}

func runCompile(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Compiler.Input == "" {
		return fmt.Errorf("--in is required")
	}
	logger := slog.Default()

	sandbox, outputDir, tempDir, err := compileTarget(cfg.Storage, compileOut)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := newCompiler(cfg, sandbox, tempDir, logger).Compile(ctx, compileOptions(cfg.Compiler, outputDir))
	if err != nil {
		return fmt.Errorf("compiling %s: %w", cfg.Compiler.Input, err)
	}

	m := result.Manifest
	fmt.Fprintf(cmd.OutOrStdout(), "Generated %d frames in %d chunks (%dx%d @ %d fps) in %s\n",
		m.TotalFrames, len(m.Chunks), m.Width, m.Height, m.FPS, filepath.Join(sandbox.BaseDir(), result.OutputDir))
	return nil
}

// compileTarget picks the sandbox and relative directories for a compile.
// An explicit out directory gets its own sandbox rooted at its parent.
func compileTarget(cfg config.StorageConfig, out string) (*storage.Sandbox, string, string, error) {
	if out == "" {
		sandbox, err := storage.NewSandbox(cfg.BaseDir)
		if err != nil {
			return nil, "", "", fmt.Errorf("initializing storage: %w", err)
		}
		return sandbox, cfg.FramesDir, cfg.TempDir, nil
	}

	abs, err := filepath.Abs(out)
	if err != nil {
		return nil, "", "", fmt.Errorf("resolving output directory: %w", err)
	}
	sandbox, err := storage.NewSandbox(filepath.Dir(abs))
	if err != nil {
		return nil, "", "", fmt.Errorf("initializing storage: %w", err)
	}
	return sandbox, filepath.Base(abs), stageDirName, nil
}

func newCompiler(cfg *config.Config, sandbox *storage.Sandbox, tempDir string, logger *slog.Logger) *compiler.Compiler {
	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath)
	return compiler.New(sandbox, compiler.DefaultOpener(detector, cfg.FFmpeg.LogLevel)).
		WithLogger(logger).
		WithPalette(cfg.Compiler.Palette).
		WithTempDir(tempDir)
}

func compileOptions(cfg config.CompilerConfig, outputDir string) compiler.Options {
	return compiler.Options{
		Input:     cfg.Input,
		Source:    cfg.Source,
		FPS:       cfg.FPS,
		Width:     cfg.Width,
		Height:    cfg.Height,
		ChunkSize: cfg.ChunkSize,
		OutputDir: outputDir,
	}
}
