package cmd

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/asciireel/internal/config"
	"github.com/jmylchreest/asciireel/internal/observability"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing asciireel configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

With no config file or environment overrides this shows every option with
its default value, which makes a useful template:

  asciireel config dump > config.yaml

Environment variables use the ASCIIREEL_ prefix and underscores for nesting.
Example: server.port -> ASCIIREEL_SERVER_PORT

Secrets such as fetch.auth_token are never printed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return dumpConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func dumpConfig(w io.Writer, cfg *config.Config) error {
	data, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	header := "# asciireel configuration\n" +
		"#\n" +
		"# Duration format: 500ms, 30s, 5m, 1h\n" +
		"# Size format: 512KB, 16MB\n" +
		"# Schedules use cron syntax or descriptors such as @hourly and @every 10m\n\n"
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations and sizes formatted for humans and secrets masked.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		if fieldType.Tag.Get("masq") == observability.SecretTag {
			if !field.IsZero() {
				result[key] = "[REDACTED]"
			} else {
				result[key] = ""
			}
			continue
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		case config.ByteSize:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = fv
			}
		}
	}
	return result
}
