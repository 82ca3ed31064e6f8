// Package cmd implements the CLI commands for asciireel.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/asciireel/internal/config"
	"github.com/jmylchreest/asciireel/internal/observability"
	"github.com/jmylchreest/asciireel/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "asciireel",
	Short:   "Compile video into ASCII reels and stream them",
	Version: version.Short(),
	Long: `asciireel converts video into chunked ASCII animation reels and plays
them back progressively, in the terminal or in the browser.

A reel is a manifest (index.json) plus fixed-size chunks of frames. Players
start as soon as the first chunk arrives and fetch the rest in the
background, falling back to a generated animation when no reel is available.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set here rather than in the literal to avoid an initialization cycle
	// (initLogging references rootCmd.PersistentFlags).
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// These flags are not bound to viper: an explicitly set flag overrides
	// env and config, while the flag default must not.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.asciireel/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/asciireel")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.asciireel")
		}
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		cobra.CheckErr(fmt.Errorf("reading config file: %w", err))
	}
}

// initLogging configures the default logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format), only if explicitly provided
//  2. Environment variables (ASCIIREEL_LOGGING_LEVEL, ASCIIREEL_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults
func initLogging() error {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	logCfg := config.LoggingConfig{
		Level:      strings.ToLower(level),
		Format:     strings.ToLower(format),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	// Reflect the effective values back so loadConfig validates what is in use.
	viper.Set("logging.level", logCfg.Level)
	viper.Set("logging.format", logCfg.Format)

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName)
	observability.SetDefault(logger)
	return nil
}

// loadConfig decodes and validates the merged flag, env, file and default layers.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Unmarshal(viper.GetViper())
	if err != nil {
		return nil, err
	}
	slog.Debug("configuration loaded", slog.Any("config", cfg))
	return cfg, nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
