package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/use-agent/seibro/config"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	selectorsFile string
	logLevel      string
	logFormat     string
}

func main() {
	var gf globalFlags

	rootCmd := &cobra.Command{
		Use:     "seibro",
		Short:   "Scrape convertible-bond exercise history from SEIBro",
		Version: version,
		Long: `seibro drives isolated headless Chromium sessions through the SEIBro
exercise-history search, one session per target company, and collects the
paginated result grid into a single CSV or JSON-lines file.`,
		Example: `  # Scrape every target in targets.csv with three browsers
  seibro run -t targets.csv -o rows.csv -w 3

  # Narrow the range and write JSON lines
  seibro run -t targets.yaml -o rows.jsonl --from 20230101 --to 20231231

  # Expose the HTTP control API
  SEIBRO_API_KEYS=secret seibro serve`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&gf.selectorsFile, "selectors", os.Getenv("SEIBRO_SELECTORS_FILE"), "YAML file overriding page locators")
	rootCmd.PersistentFlags().StringVar(&gf.logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to SEIBRO_LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&gf.logFormat, "log-format", "", "Log format (text, json); defaults to SEIBRO_LOG_FORMAT")

	rootCmd.AddCommand(newRunCmd(&gf), newServeCmd(&gf))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the global flags.
func loadConfig(gf *globalFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if gf.selectorsFile != "" {
		sel, err := config.LoadSelectors(gf.selectorsFile)
		if err != nil {
			return nil, err
		}
		if err := sel.Validate(); err != nil {
			return nil, err
		}
		cfg.Selectors = sel
	}
	if gf.logLevel != "" {
		cfg.Log.Level = gf.logLevel
	}
	if gf.logFormat != "" {
		cfg.Log.Format = gf.logFormat
	}
	return cfg, nil
}
