package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/compressarr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration in YAML format.

The output merges built-in defaults, the config file, and environment
variables, so it shows exactly what a serve command started right now would
run with. Redirect it to a file to create a configuration template:

  compressarr config > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., ./configs, /etc/compressarr, $HOME/.compressarr)
  - Environment variables (COMPRESSARR_SERVER_PORT, COMPRESSARR_LIBRARY_VIDEO_DIR, ...)
  - Flat legacy names (DB_PATH, VIDEO_DIR, OPENAI_API_KEY, ...)

The model API key is redacted in the output.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Snapshot(cfgFile)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	// Same replacement string the log redaction uses.
	if cfg.AI.APIKey != "" {
		cfg.AI.APIKey = "[REDACTED]"
	}

	yamlData, err := yaml.Marshal(configMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# compressarr configuration")
	fmt.Println("# ==========================")
	fmt.Println("#")
	fmt.Println("# Duration format: 30s, 5m, 1h, 1d, 2w")
	fmt.Println("# Size format: 100MB, 1GB")
	fmt.Println("# Worker intervals are plain seconds, matching the flat")
	fmt.Println("# environment names (SCAN_INTERVAL=30 and so on).")
	fmt.Println("#")
	fmt.Print(string(yamlData))

	return nil
}

// configMap converts a config struct to a map keyed by mapstructure tags,
// rendering durations and sizes in their human-readable spellings.
func configMap(v any) map[string]any {
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
			key = strings.ToLower(fieldType.Name)
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		case config.Duration:
			result[key] = fv.String()
		case config.ByteSize:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = configMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}
