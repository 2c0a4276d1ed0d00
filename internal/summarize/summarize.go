package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/dgallion1/chaptergest/internal/document"
	"github.com/dgallion1/chaptergest/internal/llm"
	"github.com/dgallion1/chaptergest/internal/prompt"
)

// Stage names a reduction level.
type Stage string

const (
	StageChunk    Stage = "summarizing_chunks"
	StageDocument Stage = "synthesizing_document"
	StageChapter  Stage = "synthesizing_chapter"
)

// StageError is a reduction step that failed after exhausting its retries.
type StageError struct {
	DocumentID string // Empty for the chapter stage.
	Stage      Stage
	ChunkIndex int // -1 outside the chunk stage.
	Attempts   int
	Err        error
}

func (e *StageError) Error() string {
	where := string(e.Stage)
	if e.DocumentID != "" {
		where = fmt.Sprintf("%s document %s", where, e.DocumentID)
	}
	if e.ChunkIndex >= 0 {
		where = fmt.Sprintf("%s chunk %d", where, e.ChunkIndex)
	}
	return fmt.Sprintf("%s: failed after %d attempt(s): %v", where, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Options configures model calls for every stage.
type Options struct {
	Language    string
	Temperature *float64 // nil leaves the backend default.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
	Concurrency int // Max model calls in flight across the whole run.
}

func DefaultOptions() Options {
	return Options{
		Language:    prompt.DefaultLanguage,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		CallTimeout: 10 * time.Minute,
		Concurrency: 1,
	}
}

// Position locates a chunk within its document.
type Position struct {
	DocumentID string
	Index      int
	Total      int
}

// Summarizer runs the three reduction stages against one model backend.
// It is safe for concurrent use; Concurrency bounds in-flight calls.
type Summarizer struct {
	model   llm.Completer
	opts    Options
	limiter chan struct{}
	log     *slog.Logger
}

func New(model llm.Completer, opts Options, log *slog.Logger) *Summarizer {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Summarizer{
		model:   model,
		opts:    opts,
		limiter: make(chan struct{}, opts.Concurrency),
		log:     log,
	}
}

// Concurrency returns the model call limit.
func (s *Summarizer) Concurrency() int { return s.opts.Concurrency }

// SummarizeChunk produces the summary of one chunk.
func (s *Summarizer) SummarizeChunk(ctx context.Context, text string, pos Position) (string, error) {
	req := llm.Request{
		System:      prompt.ChunkSystem,
		Prompt:      prompt.Chunk(s.opts.Language, pos.DocumentID, pos.Index, pos.Total, text),
		Temperature: s.opts.Temperature,
	}
	return s.call(ctx, StageChunk, pos.DocumentID, pos.Index, req)
}

// SynthesizeDocument merges ordered chunk summaries into one document summary.
// With no usable summaries it returns document.NoContentSummary without
// calling the model.
func (s *Summarizer) SynthesizeDocument(ctx context.Context, documentID string, summaries []string) (string, error) {
	usable := 0
	for _, sm := range summaries {
		if sm != "" {
			usable++
		}
	}
	if usable == 0 {
		return document.NoContentSummary, nil
	}
	req := llm.Request{
		System:      prompt.DocumentSystem,
		Prompt:      prompt.Document(s.opts.Language, documentID, summaries),
		Temperature: s.opts.Temperature,
	}
	return s.call(ctx, StageDocument, documentID, -1, req)
}

// SynthesizeChapter writes the comparative chapter from all document summaries.
func (s *Summarizer) SynthesizeChapter(ctx context.Context, summaries []document.DocumentSummary) (string, error) {
	if len(summaries) == 0 {
		return "", &StageError{Stage: StageChapter, ChunkIndex: -1, Err: errors.New("no document summaries")}
	}
	req := llm.Request{
		System:      prompt.ChapterSystem,
		Prompt:      prompt.Chapter(s.opts.Language, summaries),
		Temperature: s.opts.Temperature,
	}
	return s.call(ctx, StageChapter, "", -1, req)
}

func (s *Summarizer) call(ctx context.Context, stage Stage, documentID string, chunk int, req llm.Request) (string, error) {
	log := s.log.With("stage", string(stage))
	if documentID != "" {
		log = log.With("document", documentID)
	}
	if chunk >= 0 {
		log = log.With("chunk", chunk)
	}

	attempts := 0
	out, err := retry.DoWithData(
		func() (string, error) {
			attempts++
			return s.attempt(ctx, req)
		},
		retry.Context(ctx),
		retry.Attempts(uint(s.opts.MaxAttempts)),
		retry.RetryIf(llm.IsRetryable),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return Backoff(s.opts.BaseDelay, s.opts.MaxDelay, n)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("model call failed", "attempt", n+1, "max_attempts", s.opts.MaxAttempts, "error", err)
		}),
	)
	if err != nil {
		return "", &StageError{
			DocumentID: documentID,
			Stage:      stage,
			ChunkIndex: chunk,
			Attempts:   attempts,
			Err:        err,
		}
	}
	log.Debug("model call succeeded", "attempt", attempts, "chars", document.CharCount(out))
	return out, nil
}

func (s *Summarizer) attempt(ctx context.Context, req llm.Request) (string, error) {
	select {
	case s.limiter <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-s.limiter }()

	callCtx := ctx
	if s.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
	}

	raw, err := s.model.Complete(callCtx, req)
	if err != nil {
		return "", err
	}
	text := llm.Clean(raw)
	if text == "" {
		return "", &llm.CallError{
			Backend:   s.model.Name(),
			Model:     s.model.Model(),
			Retryable: true,
			Err:       errors.New("empty response after cleanup"),
		}
	}
	return text, nil
}
