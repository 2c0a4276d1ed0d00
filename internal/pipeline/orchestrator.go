package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// SchedulerConfig configures server-mode run scheduling.
type SchedulerConfig struct {
	MaxQueue      int
	JobTTL        time.Duration
	OutputDir     string // When set, each chapter is also written to <OutputDir>/<run_id>.txt.
	StripMarkdown bool
}

// Scheduler queues runs and executes them one at a time, since every run
// shares the same model backend and accelerator.
type Scheduler struct {
	jobs   *JobStore
	queue  chan *Job
	runner *Runner
	cfg    SchedulerConfig
	log    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(runner *Runner, cfg SchedulerConfig, log *slog.Logger) *Scheduler {
	if cfg.MaxQueue < 1 {
		cfg.MaxQueue = 1
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = time.Hour
	}
	return &Scheduler{
		jobs:   NewJobStore(cfg.JobTTL),
		queue:  make(chan *Job, cfg.MaxQueue),
		runner: runner,
		cfg:    cfg,
		log:    log,
	}
}

// Start launches the run worker and the job cleanup loop.
func (s *Scheduler) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-workerCtx.Done():
				return
			case job, ok := <-s.queue:
				if !ok {
					return
				}
				s.execute(workerCtx, job)
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				s.jobs.Cleanup()
			}
		}
	}()
}

// Stop cancels the active run and waits for the workers to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	close(s.queue)
	s.wg.Wait()
}

// Submit queues a run over sources.
func (s *Scheduler) Submit(sources []string) (*Job, error) {
	job := NewJob(sources)
	s.jobs.Put(job)
	select {
	case s.queue <- job:
		s.log.Info("run queued", "run_id", job.ID, "documents", len(sources))
		return job, nil
	default:
		job.Finish(&Result{RunID: job.ID, Status: StatusFailed}, fmt.Errorf("queue full"), "")
		return job, fmt.Errorf("run queue is full (%d)", s.cfg.MaxQueue)
	}
}

// GetJob returns a job by ID.
func (s *Scheduler) GetJob(id string) *Job {
	return s.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (s *Scheduler) QueueDepth() int {
	return len(s.queue)
}

func (s *Scheduler) execute(ctx context.Context, job *Job) {
	res, err := s.runner.Run(ctx, job.Sources, WithRunID(job.ID), WithObserver(job))

	var outputPath string
	if err == nil && s.cfg.OutputDir != "" {
		outputPath = filepath.Join(s.cfg.OutputDir, job.ID+".txt")
		if werr := WriteChapter(outputPath, res.Chapter, s.cfg.StripMarkdown); werr != nil {
			s.log.Error("write chapter failed", "run_id", job.ID, "path", outputPath, "error", werr)
			outputPath = ""
		}
	}
	job.Finish(res, err, outputPath)
}
