package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/chaptergest/internal/config"
)

var (
	cfgFile   string
	logFormat string
	logLevel  string

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chaptergest",
	Short: "Summarize a folder of papers into one comparative chapter",
	Long: `chaptergest reads a folder of scientific documents (PDF, DOCX, HTML,
Markdown or plain text), summarizes each one through a map-reduce pipeline
sized to the available accelerator memory, and synthesizes a comparative
discussion chapter from the per-document summaries.

Configuration is read from built-in defaults, then the --config YAML file,
then CHAPTERGEST_* environment variables, then command line flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(logFormat, logLevel)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format: json or text")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(runCmd, serveCmd, probeCmd)
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q (want json or text)", format)
	}
}

// loadConfig loads and validates configuration, applying any flags the
// command marked as changed.
func loadConfig(override func(*config.Config)) (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}
	if override != nil {
		override(&cfg)
	}
	cfg.ResolveAPIKey()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return cfg, err
	}
	return cfg, nil
}
