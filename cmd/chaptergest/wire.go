package main

import (
	"log/slog"
	"time"

	"github.com/dgallion1/chaptergest/internal/config"
	"github.com/dgallion1/chaptergest/internal/llm"
	"github.com/dgallion1/chaptergest/internal/parser"
	"github.com/dgallion1/chaptergest/internal/pipeline"
	"github.com/dgallion1/chaptergest/internal/sizer"
	"github.com/dgallion1/chaptergest/internal/summarize"
)

const statsWindow = 30 * time.Minute

type components struct {
	runner *pipeline.Runner
	model  llm.Completer
	stats  *llm.CallStats
}

func (c components) Close() {
	if cl, ok := c.model.(interface{ Close() }); ok {
		cl.Close()
	}
}

func build(cfg config.Config, log *slog.Logger) (components, error) {
	model, err := llm.New(cfg.LLMSettings())
	if err != nil {
		return components{}, err
	}
	stats := llm.NewCallStats(statsWindow)
	sum := summarize.New(llm.Instrument(model, stats), cfg.SummarizeOptions(), log)
	runner := pipeline.NewRunner(
		parser.NewExtractor(cfg.ParserOptions(), log),
		sizer.New(&sizer.NvidiaSMI{}, cfg.Limits(), log),
		sum,
		stats,
		cfg.PipelineOptions(),
		log,
	)
	log.Info("model configured", "backend", model.Name(), "model", model.Model(),
		"concurrency", sum.Concurrency(), "language", cfg.Language)
	return components{runner: runner, model: model, stats: stats}, nil
}
