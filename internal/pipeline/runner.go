package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgallion1/chaptergest/internal/chunker"
	"github.com/dgallion1/chaptergest/internal/document"
	"github.com/dgallion1/chaptergest/internal/llm"
	"github.com/dgallion1/chaptergest/internal/sizer"
	"github.com/dgallion1/chaptergest/internal/summarize"
)

// Stage is a state of the run state machine.
type Stage string

const (
	StageInit                 Stage = "init"
	StageExtracting           Stage = "extracting"
	StageChunking             Stage = "chunking"
	StageSummarizingChunks    Stage = "summarizing_chunks"
	StageSynthesizingDocument Stage = "synthesizing_document"
	StageSynthesizingChapter  Stage = "synthesizing_chapter"
	StageCompleted            Stage = "completed"
	StageFailed               Stage = "failed"
)

// FailurePolicy decides what a failed document does to the run.
type FailurePolicy string

const (
	SkipDocument FailurePolicy = "skip"
	AbortRun     FailurePolicy = "abort"
)

// ChunkFailurePolicy decides what a failed chunk does to its document.
type ChunkFailurePolicy string

const (
	FailDocument      ChunkFailurePolicy = "fail-document"
	PlaceholderChunks ChunkFailurePolicy = "placeholder"
)

// Status is the final state of a run.
type Status string

const (
	StatusCompleted          Status = "completed"
	StatusCompletedWithSkips Status = "completed_with_skips"
	StatusFailed             Status = "failed"
)

// Outcome is what happened to one document.
type Outcome string

const (
	OutcomeSummarized Outcome = "summarized"
	OutcomeEmpty      Outcome = "empty"
	OutcomeSkipped    Outcome = "skipped"
)

// RunError is a failure that ends the whole run.
type RunError struct {
	Stage Stage
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed at %s: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// DocumentResult reports one document's path through the pipeline.
type DocumentResult struct {
	DocumentID   string  `json:"document_id"`
	Source       string  `json:"source"`
	Outcome      Outcome `json:"outcome"`
	Chunks       int     `json:"chunks"`
	FailedChunks int     `json:"failed_chunks,omitempty"`
	Summary      string  `json:"summary,omitempty"`
	FailedStage  Stage   `json:"failed_stage,omitempty"`
	Error        string  `json:"error,omitempty"`

	err error
}

// Err returns the failure behind a skipped document.
func (d DocumentResult) Err() error { return d.err }

// Result is the outcome of a run.
type Result struct {
	RunID      string           `json:"run_id"`
	Status     Status           `json:"status"`
	Budget     document.Budget  `json:"budget"`
	Documents  []DocumentResult `json:"documents"`
	Chapter    string           `json:"-"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Summarized returns the labeled summaries that feed the chapter, in
// document order. Empty and skipped documents are excluded.
func (r *Result) Summarized() []document.DocumentSummary {
	var out []document.DocumentSummary
	for _, d := range r.Documents {
		if d.Outcome == OutcomeSummarized {
			out = append(out, document.DocumentSummary{DocumentID: d.DocumentID, Summary: d.Summary})
		}
	}
	return out
}

// Extractor turns a source path into plain text.
type Extractor interface {
	ExtractFile(ctx context.Context, path string) (string, error)
}

// BudgetSizer computes the chunk budget for a run.
type BudgetSizer interface {
	Size(ctx context.Context) sizer.Decision
}

// Options configures a Runner.
type Options struct {
	FailurePolicy       FailurePolicy
	ChunkFailurePolicy  ChunkFailurePolicy
	DocumentConcurrency int
}

// Runner drives documents through extraction, chunking and the three
// reduction stages.
type Runner struct {
	extractor  Extractor
	sizer      BudgetSizer
	summarizer *summarize.Summarizer
	stats      *llm.CallStats
	opts       Options
	log        *slog.Logger
}

func NewRunner(ex Extractor, sz BudgetSizer, sum *summarize.Summarizer, stats *llm.CallStats, opts Options, log *slog.Logger) *Runner {
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = SkipDocument
	}
	if opts.ChunkFailurePolicy == "" {
		opts.ChunkFailurePolicy = FailDocument
	}
	if opts.DocumentConcurrency < 1 {
		opts.DocumentConcurrency = 1
	}
	return &Runner{
		extractor:  ex,
		sizer:      sz,
		summarizer: sum,
		stats:      stats,
		opts:       opts,
		log:        log,
	}
}

type runConfig struct {
	runID    string
	observer Observer
}

// RunOption customizes a single run.
type RunOption func(*runConfig)

// WithRunID sets the run identifier instead of generating one.
func WithRunID(id string) RunOption {
	return func(c *runConfig) { c.runID = id }
}

// WithObserver receives progress events during the run.
func WithObserver(o Observer) RunOption {
	return func(c *runConfig) { c.observer = o }
}

// Run processes sources and writes nothing; the caller persists
// Result.Chapter. The returned error is a *RunError whenever the run failed,
// and Result is non-nil in every case.
func (r *Runner) Run(ctx context.Context, sources []string, opts ...RunOption) (*Result, error) {
	cfg := runConfig{observer: nopObserver{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.runID == "" {
		cfg.runID = NewRunID()
	}
	log := r.log.With("run_id", cfg.runID)

	res := &Result{RunID: cfg.runID, StartedAt: time.Now()}
	fail := func(stage Stage, err error) (*Result, error) {
		res.Status = StatusFailed
		res.FinishedAt = time.Now()
		log.Error("run failed", "stage", string(stage), "error", err)
		cfg.observer.RunStage(StageFailed)
		return res, &RunError{Stage: stage, Err: err}
	}

	cfg.observer.RunStage(StageInit)
	docs := orderSources(sources)
	if len(docs) == 0 {
		return fail(StageInit, errors.New("no input documents"))
	}
	log.Info("run started", "documents", len(docs), "failure_policy", string(r.opts.FailurePolicy),
		"chunk_failure_policy", string(r.opts.ChunkFailurePolicy))

	decision := r.sizer.Size(ctx)
	res.Budget = decision.Budget
	cfg.observer.Documents(len(docs))

	results, abortErr := r.processDocuments(ctx, log, docs, decision.Budget, cfg.observer)
	res.Documents = results
	if abortErr != nil {
		return fail(abortErr.Stage, abortErr.Err)
	}
	if err := ctx.Err(); err != nil {
		return fail(StageSynthesizingDocument, err)
	}

	summaries := res.Summarized()
	if len(summaries) == 0 {
		return fail(StageSynthesizingDocument, errors.New("no document was summarized"))
	}

	cfg.observer.RunStage(StageSynthesizingChapter)
	log.Info("stage started", "stage", string(StageSynthesizingChapter), "documents", len(summaries))
	chapter, err := r.summarizer.SynthesizeChapter(ctx, summaries)
	if err != nil {
		return fail(StageSynthesizingChapter, err)
	}
	res.Chapter = chapter

	res.Status = StatusCompleted
	skipped := 0
	for _, d := range res.Documents {
		if d.Outcome == OutcomeSkipped {
			skipped++
		}
	}
	if skipped > 0 {
		res.Status = StatusCompletedWithSkips
	}
	res.FinishedAt = time.Now()
	cfg.observer.RunStage(StageCompleted)

	attrs := []any{"status", string(res.Status), "summarized", len(summaries), "skipped", skipped,
		"chapter_chars", document.CharCount(chapter), "duration", res.FinishedAt.Sub(res.StartedAt).String()}
	if r.stats != nil {
		snap := r.stats.Snapshot()
		attrs = append(attrs, "llm_calls", snap.Calls, "llm_failures", snap.Failures, "llm_p50_ms", snap.P50Ms)
	}
	log.Info("run completed", attrs...)
	return res, nil
}

// processDocuments runs every document up to its summary, bounded by
// DocumentConcurrency, and returns results in document order. Under the
// abort policy the first failure cancels the rest and is returned.
func (r *Runner) processDocuments(ctx context.Context, log *slog.Logger, docs []*document.Document, budget document.Budget, obs Observer) ([]DocumentResult, *RunError) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		abortOnce sync.Once
		abortErr  *RunError
	)

	type docResult struct {
		res DocumentResult
		idx int
	}
	results := make(chan docResult, len(docs))
	sem := make(chan struct{}, r.opts.DocumentConcurrency)

	for i, doc := range docs {
		sem <- struct{}{}
		go func(i int, doc *document.Document) {
			defer func() { <-sem }()
			res := r.processDocument(runCtx, log.With("document", doc.ID), doc, budget, obs)
			if res.Outcome == OutcomeSkipped && r.opts.FailurePolicy == AbortRun && runCtx.Err() == nil {
				abortOnce.Do(func() {
					abortErr = &RunError{Stage: res.FailedStage, Err: res.err}
					cancel()
				})
			}
			obs.DocumentDone(res)
			results <- docResult{res: res, idx: i}
		}(i, doc)
	}

	out := make([]DocumentResult, len(docs))
	for range docs {
		dr := <-results
		out[dr.idx] = dr.res
	}
	return out, abortErr
}

func (r *Runner) processDocument(ctx context.Context, log *slog.Logger, doc *document.Document, budget document.Budget, obs Observer) DocumentResult {
	res := DocumentResult{DocumentID: doc.ID, Source: doc.Source}
	skip := func(stage Stage, err error) DocumentResult {
		res.Outcome = OutcomeSkipped
		res.FailedStage = stage
		res.Error = err.Error()
		res.err = err
		log.Error("document skipped", "stage", string(stage), "error", err)
		return res
	}
	enter := func(stage Stage) {
		obs.DocumentStage(doc.ID, stage)
		log.Info("stage started", "stage", string(stage))
	}

	if err := ctx.Err(); err != nil {
		return skip(StageExtracting, err)
	}

	enter(StageExtracting)
	text, err := r.extractor.ExtractFile(ctx, doc.Source)
	if err != nil {
		return skip(StageExtracting, err)
	}
	doc.Text = text

	enter(StageChunking)
	if strings.TrimSpace(text) != "" {
		doc.Chunks = chunker.Split(doc.ID, text, budget)
	}
	res.Chunks = len(doc.Chunks)
	obs.Chunks(doc.ID, len(doc.Chunks))
	if len(doc.Chunks) == 0 {
		log.Warn("document has no content", "error", document.ErrEmptyContent)
		res.Outcome = OutcomeEmpty
		res.Summary = document.NoContentSummary
		return res
	}
	log.Info("document chunked", "chunks", len(doc.Chunks), "budget", int(budget),
		"chars", document.CharCount(text), "est_tokens", chunker.EstimateTokens(text))

	enter(StageSummarizingChunks)
	failed, err := r.summarizeChunks(ctx, log, doc, obs)
	res.FailedChunks = failed
	if err != nil {
		return skip(StageSummarizingChunks, err)
	}

	enter(StageSynthesizingDocument)
	summary, err := r.summarizer.SynthesizeDocument(ctx, doc.ID, doc.ChunkSummaries())
	if err != nil {
		return skip(StageSynthesizingDocument, err)
	}
	doc.Summary = summary
	res.Summary = summary
	res.Outcome = OutcomeSummarized
	log.Info("document summarized", "summary_chars", document.CharCount(summary))
	return res
}

// summarizeChunks fills every chunk's Summary. Calls fan out up to the
// summarizer's concurrency; summaries land by index so order is preserved.
func (r *Runner) summarizeChunks(ctx context.Context, log *slog.Logger, doc *document.Document, obs Observer) (int, error) {
	chunkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type chunkResult struct {
		summary string
		err     error
		idx     int
	}
	total := len(doc.Chunks)
	results := make(chan chunkResult, total)
	sem := make(chan struct{}, r.summarizer.Concurrency())

	failFast := r.opts.ChunkFailurePolicy == FailDocument
	launched := 0
	for i, chunk := range doc.Chunks {
		sem <- struct{}{}
		if chunkCtx.Err() != nil {
			<-sem
			break
		}
		launched++
		go func(i int, text string) {
			defer func() { <-sem }()
			pos := summarize.Position{DocumentID: doc.ID, Index: i, Total: total}
			s, err := r.summarizer.SummarizeChunk(chunkCtx, text, pos)
			// Cancel before the slot is released so the launch loop sees it.
			if err != nil && failFast {
				cancel()
			}
			results <- chunkResult{summary: s, err: err, idx: i}
		}(i, chunk.Text)
	}

	var firstErr error
	failed := 0
	for range launched {
		res := <-results
		obs.ChunkDone(doc.ID)
		if res.err == nil {
			doc.Chunks[res.idx].Summary = res.summary
			continue
		}
		failed++
		// Chunks cut short by the cancel are not the cause.
		if firstErr == nil || (errors.Is(firstErr, context.Canceled) && !errors.Is(res.err, context.Canceled)) {
			firstErr = res.err
		}
		if failFast {
			continue
		}
		log.Warn("chunk summary replaced by placeholder", "chunk", res.idx, "error", res.err)
	}

	if launched < total {
		log.Info("remaining chunks not started", "started", launched, "chunks", total)
		failed += total - launched
		if firstErr == nil {
			firstErr = context.Cause(chunkCtx)
		}
		return failed, firstErr
	}

	switch {
	case firstErr == nil:
		return 0, nil
	case r.opts.ChunkFailurePolicy == FailDocument:
		return failed, firstErr
	case failed == total:
		return failed, fmt.Errorf("all %d chunks failed: %w", total, firstErr)
	default:
		return failed, nil
	}
}

// orderSources builds documents sorted by identifier (the base filename),
// ties broken by full path.
func orderSources(sources []string) []*document.Document {
	docs := make([]*document.Document, 0, len(sources))
	for _, src := range sources {
		docs = append(docs, &document.Document{ID: filepath.Base(src), Source: src})
	}
	slices.SortFunc(docs, func(a, b *document.Document) int {
		return cmp.Or(cmp.Compare(a.ID, b.ID), cmp.Compare(a.Source, b.Source))
	})
	return docs
}
