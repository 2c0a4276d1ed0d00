package summarize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgallion1/chaptergest/internal/document"
	"github.com/dgallion1/chaptergest/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.BaseDelay = time.Millisecond
	opts.MaxDelay = 2 * time.Millisecond
	opts.CallTimeout = time.Second
	return opts
}

func TestSummarizeChunkCleansResponse(t *testing.T) {
	model := llm.NewScriptedClient()
	model.Respond = func(llm.Request) (string, error) {
		return "<think>hmm</think>\n  resumo do trecho  ", nil
	}
	s := New(model, testOptions(), testLogger())

	out, err := s.SummarizeChunk(context.Background(), "texto", Position{DocumentID: "a.pdf", Index: 0, Total: 1})
	if err != nil {
		t.Fatal(err)
	}
	if out != "resumo do trecho" {
		t.Fatalf("unexpected summary %q", out)
	}
	p := model.Prompts()[0]
	if !strings.Contains(p.Prompt, "part 1 of 1") || p.System == "" {
		t.Fatalf("unexpected request %+v", p)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	model := llm.NewScriptedClient()
	var calls atomic.Int32
	model.Respond = func(llm.Request) (string, error) {
		if calls.Add(1) < 3 {
			return "", &llm.CallError{Backend: "scripted", Model: "m", Retryable: true, Err: errors.New("overloaded")}
		}
		return "ok", nil
	}
	s := New(model, testOptions(), testLogger())

	out, err := s.SummarizeChunk(context.Background(), "x", Position{DocumentID: "a", Index: 2, Total: 3})
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok" || model.Requests() != 3 {
		t.Fatalf("expected success on third attempt, got %q after %d calls", out, model.Requests())
	}
}

func TestRetryExhaustionReturnsStageError(t *testing.T) {
	model := llm.NewScriptedClient()
	model.Respond = func(llm.Request) (string, error) {
		return "", &llm.CallError{Backend: "scripted", Model: "m", Retryable: true, Err: errors.New("down")}
	}
	s := New(model, testOptions(), testLogger())

	_, err := s.SummarizeChunk(context.Background(), "x", Position{DocumentID: "a.pdf", Index: 4, Total: 5})
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if stageErr.DocumentID != "a.pdf" || stageErr.ChunkIndex != 4 || stageErr.Stage != StageChunk {
		t.Fatalf("unexpected stage error %+v", stageErr)
	}
	if stageErr.Attempts != 3 || model.Requests() != 3 {
		t.Fatalf("expected 3 attempts, got %d (calls %d)", stageErr.Attempts, model.Requests())
	}
	var callErr *llm.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected wrapped CallError, got %v", err)
	}
}

func TestNonRetryableStopsImmediately(t *testing.T) {
	model := llm.NewScriptedClient()
	model.Respond = func(llm.Request) (string, error) {
		return "", &llm.CallError{Backend: "scripted", Model: "m", Retryable: false, Err: errors.New("unauthorized")}
	}
	s := New(model, testOptions(), testLogger())

	_, err := s.SynthesizeChapter(context.Background(), []document.DocumentSummary{{DocumentID: "a", Summary: "s"}})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Attempts != 1 {
		t.Fatalf("expected one attempt, got %v", err)
	}
	if stageErr.Stage != StageChapter || stageErr.ChunkIndex != -1 {
		t.Fatalf("unexpected stage error %+v", stageErr)
	}
}

func TestEmptyResponseIsRetried(t *testing.T) {
	model := llm.NewScriptedClient()
	var calls atomic.Int32
	model.Respond = func(llm.Request) (string, error) {
		if calls.Add(1) == 1 {
			return "<think>only thoughts</think>", nil
		}
		return "real", nil
	}
	s := New(model, testOptions(), testLogger())

	out, err := s.SynthesizeDocument(context.Background(), "a", []string{"one"})
	if err != nil || out != "real" {
		t.Fatalf("expected retry after empty response, got %q, %v", out, err)
	}
}

func TestSynthesizeDocumentWithoutSummaries(t *testing.T) {
	model := llm.NewScriptedClient()
	s := New(model, testOptions(), testLogger())

	for _, in := range [][]string{nil, {"", ""}} {
		out, err := s.SynthesizeDocument(context.Background(), "empty.pdf", in)
		if err != nil {
			t.Fatal(err)
		}
		if out != document.NoContentSummary {
			t.Fatalf("expected sentinel, got %q", out)
		}
	}
	if model.Requests() != 0 {
		t.Fatalf("expected no model calls, got %d", model.Requests())
	}
}

func TestSynthesizeDocumentPreservesOrder(t *testing.T) {
	model := llm.NewScriptedClient()
	s := New(model, testOptions(), testLogger())

	if _, err := s.SynthesizeDocument(context.Background(), "a", []string{"s0", "", "s2"}); err != nil {
		t.Fatal(err)
	}
	p := model.Prompts()[0].Prompt
	if strings.Index(p, "s0") > strings.Index(p, "s2") {
		t.Fatalf("summaries out of order:\n%s", p)
	}
}

func TestSynthesizeChapterRequiresSummaries(t *testing.T) {
	s := New(llm.NewScriptedClient(), testOptions(), testLogger())
	if _, err := s.SynthesizeChapter(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty chapter input")
	}
}

type blockingModel struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	hold     time.Duration
}

func (b *blockingModel) Complete(ctx context.Context, req llm.Request) (string, error) {
	b.mu.Lock()
	b.inFlight++
	b.peak = max(b.peak, b.inFlight)
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()
	select {
	case <-time.After(b.hold):
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *blockingModel) Name() string  { return "blocking" }
func (b *blockingModel) Model() string { return "b" }

func TestConcurrencyLimitIsShared(t *testing.T) {
	model := &blockingModel{hold: 20 * time.Millisecond}
	opts := testOptions()
	opts.Concurrency = 2
	s := New(model, opts, testLogger())

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.SummarizeChunk(context.Background(), "x", Position{DocumentID: "a", Index: i, Total: 8}); err != nil {
				t.Errorf("chunk %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if model.peak > 2 {
		t.Fatalf("expected at most 2 calls in flight, saw %d", model.peak)
	}
}

func TestCallTimeoutIsRetried(t *testing.T) {
	model := &blockingModel{hold: time.Second}
	opts := testOptions()
	opts.CallTimeout = 10 * time.Millisecond
	opts.MaxAttempts = 2
	s := New(model, opts, testLogger())

	_, err := s.SummarizeChunk(context.Background(), "x", Position{DocumentID: "a", Index: 0, Total: 1})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Attempts != 2 {
		t.Fatalf("expected two timed-out attempts, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	if d := Backoff(0, time.Second, 3); d != 0 {
		t.Fatalf("zero base should not wait, got %v", d)
	}
	for n := uint(1); n <= 6; n++ {
		d := Backoff(100*time.Millisecond, 400*time.Millisecond, n)
		want := min(100*time.Millisecond<<(n-1), 400*time.Millisecond)
		if d < want || d >= want+want/2 {
			t.Fatalf("Backoff(n=%d) = %v, want in [%v, %v)", n, d, want, want+want/2)
		}
	}
}
