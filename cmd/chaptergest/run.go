package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dgallion1/chaptergest/internal/config"
	"github.com/dgallion1/chaptergest/internal/parser"
	"github.com/dgallion1/chaptergest/internal/pipeline"
)

var runFlags struct {
	input         string
	output        string
	backend       string
	model         string
	language      string
	failurePolicy string
	report        string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Summarize the input folder and write the chapter",
	Long: `Run the full pipeline once over every supported document in the input
folder and write the comparative chapter to the output path.

Examples:
  chaptergest run --input papers --output out/chapter.txt
  chaptergest run --backend openai --model gpt-4o-mini --language English
  chaptergest run --config chaptergest.yaml --report out/run.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(func(c *config.Config) {
			flags := cmd.Flags()
			if flags.Changed("input") {
				c.InputDir = runFlags.input
			}
			if flags.Changed("output") {
				c.OutputPath = runFlags.output
			}
			if flags.Changed("backend") {
				c.Model.Backend = runFlags.backend
			}
			if flags.Changed("model") {
				c.Model.Name = runFlags.model
			}
			if flags.Changed("language") {
				c.Language = runFlags.language
			}
			if flags.Changed("failure-policy") {
				c.FailurePolicy = runFlags.failurePolicy
			}
		})
		if err != nil {
			return err
		}

		comps, err := build(cfg, logger)
		if err != nil {
			return err
		}
		defer comps.Close()

		sources, err := parser.Scan(cfg.InputDir)
		if err != nil {
			return fmt.Errorf("scan input folder: %w", err)
		}
		logger.Info("input scanned", "dir", cfg.InputDir, "documents", len(sources))

		res, runErr := comps.runner.Run(cmd.Context(), sources)
		if runFlags.report != "" {
			if err := writeReport(runFlags.report, res); err != nil {
				logger.Error("write run report failed", "path", runFlags.report, "error", err)
			}
		}
		if runErr != nil {
			logger.Error("run failed", "run_id", res.RunID, "error", runErr)
			return runErr
		}

		if err := pipeline.WriteChapter(cfg.OutputPath, res.Chapter, cfg.StripMarkdown); err != nil {
			return err
		}
		logChapterWritten(logger, res, cfg.OutputPath)
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.input, "input", "", "input folder (overrides input_dir)")
	f.StringVar(&runFlags.output, "output", "", "chapter output path (overrides output_path)")
	f.StringVar(&runFlags.backend, "backend", "", "model backend: ollama, openai, anthropic or scripted")
	f.StringVar(&runFlags.model, "model", "", "model name")
	f.StringVar(&runFlags.language, "language", "", "output language")
	f.StringVar(&runFlags.failurePolicy, "failure-policy", "", "per-document failure policy: skip or abort")
	f.StringVar(&runFlags.report, "report", "", "write a JSON run report to this path")
}

func logChapterWritten(log *slog.Logger, res *pipeline.Result, path string) {
	log.Info("chapter written",
		"run_id", res.RunID,
		"path", path,
		"status", string(res.Status),
		"documents_summarized", len(res.Summarized()),
		"documents_total", len(res.Documents),
	)
}

func writeReport(path string, res *pipeline.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
