package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgallion1/chaptergest/internal/config"
	"github.com/dgallion1/chaptergest/internal/pipeline"
)

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("text", "debug"); err != nil {
		t.Fatal(err)
	}
	if _, err := newLogger("xml", "info"); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := newLogger("json", "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRunCommand_ScriptedBackend(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "nested", "chapter.txt")
	report := filepath.Join(t.TempDir(), "run.json")
	os.WriteFile(filepath.Join(in, "a.txt"), []byte("First paper about soils.\n\nSecond paragraph."), 0o644)
	os.WriteFile(filepath.Join(in, "b.md"), []byte("# Title\n\nSecond paper about **water**."), 0o644)

	rootCmd.SetArgs([]string{
		"run", "--log-format", "text", "--log-level", "error",
		"--backend", "scripted", "--input", in, "--output", out, "--report", report,
	})
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "summary: ") || !strings.HasSuffix(string(data), "\n") {
		t.Errorf("unexpected chapter %q", data)
	}

	raw, err := os.ReadFile(report)
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		Status    string `json:"status"`
		Documents []struct {
			DocumentID string `json:"document_id"`
			Outcome    string `json:"outcome"`
		} `json:"documents"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatal(err)
	}
	if res.Status != "completed" || len(res.Documents) != 2 || res.Documents[0].DocumentID != "a.txt" {
		t.Fatalf("unexpected report %s", raw)
	}
}

func TestLoadConfig_BackendFlagPicksUpHostedKey(t *testing.T) {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfgFile = ""
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-env")

	cfg, err := loadConfig(func(c *config.Config) { c.Model.Backend = "anthropic" })
	if err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if cfg.Model.APIKey != "sk-from-env" {
		t.Fatalf("expected key from ANTHROPIC_API_KEY, got %q", cfg.Model.APIKey)
	}
}

func TestLogChapterWritten_CountsOnly(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	secret := "a long summary that must stay out of the log"
	res := &pipeline.Result{
		RunID:  "run-1",
		Status: pipeline.StatusCompletedWithSkips,
		Documents: []pipeline.DocumentResult{
			{DocumentID: "a.pdf", Outcome: pipeline.OutcomeSummarized, Summary: secret},
			{DocumentID: "b.pdf", Outcome: pipeline.OutcomeSummarized, Summary: secret},
			{DocumentID: "c.pdf", Outcome: pipeline.OutcomeSkipped},
		},
	}
	logChapterWritten(log, res, "out/chapter.txt")

	if strings.Contains(buf.String(), secret) {
		t.Fatalf("summary text leaked into log: %s", buf.String())
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatal(err)
	}
	if line["documents_summarized"] != float64(2) || line["documents_total"] != float64(3) {
		t.Fatalf("unexpected counts %v", line)
	}
}
