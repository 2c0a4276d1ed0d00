package pipeline

import (
	"errors"
	"sync"
	"time"
)

// JobStatus represents the state of a queued run.
type JobStatus string

const (
	JobQueued             JobStatus = "queued"
	JobRunning            JobStatus = "running"
	JobCompleted          JobStatus = "completed"
	JobCompletedWithSkips JobStatus = "completed_with_skips"
	JobFailed             JobStatus = "failed"
)

// Finished reports whether the job reached a terminal state.
func (s JobStatus) Finished() bool {
	return s == JobCompleted || s == JobCompletedWithSkips || s == JobFailed
}

// Job tracks one run submitted in server mode. It is the run's Observer.
type Job struct {
	mu sync.Mutex

	ID        string
	Sources   []string
	Status    JobStatus
	Stage     Stage
	Progress  Progress
	CreatedAt time.Time
	UpdatedAt time.Time

	result     *Result
	chapter    string
	outputPath string
	err        string
}

// Progress counts documents and chunks through the run.
type Progress struct {
	DocumentsTotal int              `json:"documents_total"`
	DocumentsDone  int              `json:"documents_done"`
	ChunksTotal    int              `json:"chunks_total"`
	ChunksDone     int              `json:"chunks_done"`
	Current        map[string]Stage `json:"current,omitempty"`
	Errors         []string         `json:"errors"`
}

func NewJob(sources []string) *Job {
	now := time.Now()
	return &Job{
		ID:        NewRunID(),
		Sources:   sources,
		Status:    JobQueued,
		Stage:     StageInit,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (j *Job) update(fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn()
	j.UpdatedAt = time.Now()
}

func (j *Job) RunStage(stage Stage) {
	j.update(func() {
		j.Stage = stage
		if j.Status == JobQueued {
			j.Status = JobRunning
		}
	})
}

func (j *Job) Documents(total int) {
	j.update(func() { j.Progress.DocumentsTotal = total })
}

func (j *Job) DocumentStage(documentID string, stage Stage) {
	j.update(func() {
		if j.Progress.Current == nil {
			j.Progress.Current = make(map[string]Stage)
		}
		j.Progress.Current[documentID] = stage
	})
}

func (j *Job) Chunks(_ string, total int) {
	j.update(func() { j.Progress.ChunksTotal += total })
}

func (j *Job) ChunkDone(string) {
	j.update(func() { j.Progress.ChunksDone++ })
}

func (j *Job) DocumentDone(res DocumentResult) {
	j.update(func() {
		j.Progress.DocumentsDone++
		delete(j.Progress.Current, res.DocumentID)
		if res.Error != "" {
			j.Progress.Errors = append(j.Progress.Errors, res.DocumentID+": "+res.Error)
		}
	})
}

// Finish records the run outcome.
func (j *Job) Finish(res *Result, err error, outputPath string) {
	j.update(func() {
		j.result = res
		j.outputPath = outputPath
		if err != nil {
			j.Status = JobFailed
			j.Stage = StageFailed
			j.err = err.Error()
			return
		}
		j.chapter = res.Chapter
		j.Stage = StageCompleted
		j.Status = JobCompleted
		if res.Status == StatusCompletedWithSkips {
			j.Status = JobCompletedWithSkips
		}
	})
}

var ErrChapterNotReady = errors.New("chapter not ready")

// Chapter returns the finished chapter text.
func (j *Job) Chapter() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status != JobCompleted && j.Status != JobCompletedWithSkips {
		return "", ErrChapterNotReady
	}
	return j.chapter, nil
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID         string           `json:"run_id"`
	Status     JobStatus        `json:"status"`
	Stage      Stage            `json:"stage"`
	Progress   Progress         `json:"progress"`
	Documents  []DocumentResult `json:"documents,omitempty"`
	Budget     int              `json:"budget,omitempty"`
	OutputPath string           `json:"output_path,omitempty"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	p := j.Progress
	p.Errors = append([]string{}, j.Progress.Errors...)
	if len(j.Progress.Current) > 0 {
		p.Current = make(map[string]Stage, len(j.Progress.Current))
		for k, v := range j.Progress.Current {
			p.Current[k] = v
		}
	}

	snap := JobSnapshot{
		ID:         j.ID,
		Status:     j.Status,
		Stage:      j.Stage,
		Progress:   p,
		OutputPath: j.outputPath,
		Error:      j.err,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	if j.result != nil {
		snap.Documents = append([]DocumentResult(nil), j.result.Documents...)
		snap.Budget = int(j.result.Budget)
	}
	return snap
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes finished jobs idle for longer than the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Finished() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}
