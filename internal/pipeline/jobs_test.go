package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgallion1/chaptergest/internal/llm"
)

func TestNewRunID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewRunID()
		if len(id) != 36 {
			t.Fatalf("expected uuid string, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate run id %q", id)
		}
		seen[id] = true
	}
}

func TestJob_ObserverProgress(t *testing.T) {
	job := NewJob([]string{"/in/a.pdf", "/in/b.pdf"})
	if snap := job.Snapshot(); snap.Status != JobQueued {
		t.Fatalf("expected queued, got %s", snap.Status)
	}

	job.RunStage(StageInit)
	job.Documents(2)
	job.DocumentStage("a.pdf", StageSummarizingChunks)
	job.Chunks("a.pdf", 3)
	job.ChunkDone("a.pdf")
	job.ChunkDone("a.pdf")

	snap := job.Snapshot()
	if snap.Status != JobRunning {
		t.Fatalf("expected running, got %s", snap.Status)
	}
	if snap.Progress.DocumentsTotal != 2 || snap.Progress.ChunksTotal != 3 || snap.Progress.ChunksDone != 2 {
		t.Fatalf("unexpected progress %+v", snap.Progress)
	}
	if snap.Progress.Current["a.pdf"] != StageSummarizingChunks {
		t.Fatalf("expected a.pdf in chunk stage, got %v", snap.Progress.Current)
	}

	job.DocumentDone(DocumentResult{DocumentID: "a.pdf", Outcome: OutcomeSkipped, Error: "boom"})
	snap = job.Snapshot()
	if snap.Progress.DocumentsDone != 1 || len(snap.Progress.Current) != 0 {
		t.Fatalf("unexpected progress after document done %+v", snap.Progress)
	}
	if len(snap.Progress.Errors) != 1 || snap.Progress.Errors[0] != "a.pdf: boom" {
		t.Fatalf("unexpected errors %v", snap.Progress.Errors)
	}
}

func TestJob_FinishStates(t *testing.T) {
	ok := NewJob(nil)
	ok.Finish(&Result{Status: StatusCompletedWithSkips, Chapter: "text", Budget: 100}, nil, "/out/x.txt")
	snap := ok.Snapshot()
	if snap.Status != JobCompletedWithSkips || snap.Stage != StageCompleted || snap.Budget != 100 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if ch, err := ok.Chapter(); err != nil || ch != "text" {
		t.Fatalf("expected chapter text, got %q, %v", ch, err)
	}

	failed := NewJob(nil)
	failed.Finish(&Result{Status: StatusFailed}, errors.New("no document was summarized"), "")
	snap = failed.Snapshot()
	if snap.Status != JobFailed || snap.Error == "" {
		t.Fatalf("unexpected failed snapshot %+v", snap)
	}
	if _, err := failed.Chapter(); !errors.Is(err, ErrChapterNotReady) {
		t.Fatalf("expected ErrChapterNotReady, got %v", err)
	}
}

func TestJob_SnapshotErrorsNotNil(t *testing.T) {
	snap := NewJob(nil).Snapshot()
	if snap.Progress.Errors == nil {
		t.Error("expected non-nil errors slice in snapshot")
	}
}

func TestJobStore_PutGet(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := NewJob(nil)
	store.Put(job)

	if got := store.Get(job.ID); got != job {
		t.Fatal("expected to get job back")
	}
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing job")
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 job, got %d", store.Len())
	}
}

func TestJobStore_TTLCleanup(t *testing.T) {
	store := NewJobStore(50 * time.Millisecond)

	old := NewJob(nil)
	old.Finish(&Result{Status: StatusCompleted}, nil, "")
	running := NewJob(nil)
	running.RunStage(StageExtracting)
	store.Put(old)
	store.Put(running)

	time.Sleep(100 * time.Millisecond)

	fresh := NewJob(nil)
	fresh.Finish(&Result{Status: StatusCompleted}, nil, "")
	store.Put(fresh)

	store.Cleanup()

	if store.Get(old.ID) != nil {
		t.Error("expected expired job to be cleaned up")
	}
	if store.Get(running.ID) == nil {
		t.Error("unfinished jobs must survive cleanup")
	}
	if store.Get(fresh.ID) == nil {
		t.Error("expected fresh job to survive cleanup")
	}
}

func waitFinished(t *testing.T, job *Job) JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap := job.Snapshot(); snap.Status.Finished() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", job.ID)
	return JobSnapshot{}
}

func TestScheduler_RunsSubmittedJob(t *testing.T) {
	ex := &fakeExtractor{texts: map[string]string{"/in/a.txt": "alpha", "/in/b.txt": "beta"}}
	model := llm.NewScriptedClient()
	model.Respond = stageResponder("")
	outDir := t.TempDir()

	s := NewScheduler(newTestRunner(ex, model, Options{}), SchedulerConfig{MaxQueue: 2, OutputDir: outDir}, quietLogger())
	s.Start(context.Background())
	defer s.Stop()

	job, err := s.Submit([]string{"/in/a.txt", "/in/b.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if s.GetJob(job.ID) != job {
		t.Fatal("submitted job not registered")
	}

	snap := waitFinished(t, job)
	if snap.Status != JobCompleted {
		t.Fatalf("expected completed, got %+v", snap)
	}
	if len(snap.Documents) != 2 || snap.Progress.DocumentsDone != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	data, err := os.ReadFile(filepath.Join(outDir, job.ID+".txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "the chapter\n" {
		t.Fatalf("unexpected chapter file %q", data)
	}
}

func TestScheduler_QueueFull(t *testing.T) {
	s := NewScheduler(newTestRunner(&fakeExtractor{}, llm.NewScriptedClient(), Options{}), SchedulerConfig{MaxQueue: 1}, quietLogger())
	// Not started: the queue never drains.
	if _, err := s.Submit([]string{"/in/a.txt"}); err != nil {
		t.Fatal(err)
	}
	job, err := s.Submit([]string{"/in/b.txt"})
	if err == nil {
		t.Fatal("expected queue full error")
	}
	if snap := job.Snapshot(); snap.Status != JobFailed {
		t.Fatalf("rejected job should be failed, got %s", snap.Status)
	}
	if s.QueueDepth() != 1 {
		t.Fatalf("expected queue depth 1, got %d", s.QueueDepth())
	}
}
