package llm

import (
	"context"
	"slices"
	"sync"
	"time"
)

type call struct {
	at       time.Time
	duration time.Duration
	failed   bool
}

// LatencySnapshot is a point-in-time aggregate of model call latencies.
type LatencySnapshot struct {
	Calls    int     `json:"calls"`
	Failures int     `json:"failures"`
	MinMs    int64   `json:"min_ms"`
	MaxMs    int64   `json:"max_ms"`
	AvgMs    float64 `json:"avg_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P95Ms    float64 `json:"p95_ms"`
}

// CallStats tracks model calls within a rolling window. Failed calls are
// counted but kept out of the latency figures.
type CallStats struct {
	mu     sync.Mutex
	calls  []call
	window time.Duration
	now    func() time.Time
}

func NewCallStats(window time.Duration) *CallStats {
	if window <= 0 {
		window = time.Hour
	}
	return &CallStats{window: window, now: time.Now}
}

// Record adds one finished call.
func (s *CallStats) Record(d time.Duration, err error) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)
	s.calls = append(s.calls, call{at: now, duration: d, failed: err != nil})
}

func (s *CallStats) Snapshot() LatencySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(s.now())

	var snap LatencySnapshot
	var ok []int64
	var sum int64
	for _, c := range s.calls {
		snap.Calls++
		if c.failed {
			snap.Failures++
			continue
		}
		ms := c.duration.Milliseconds()
		ok = append(ok, ms)
		sum += ms
	}
	if len(ok) == 0 {
		return snap
	}
	slices.Sort(ok)

	snap.MinMs = ok[0]
	snap.MaxMs = ok[len(ok)-1]
	snap.AvgMs = float64(sum) / float64(len(ok))
	snap.P50Ms = percentile(ok, 50)
	snap.P95Ms = percentile(ok, 95)
	return snap
}

func (s *CallStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	kept := s.calls[:0]
	for _, c := range s.calls {
		if !c.at.Before(cutoff) {
			kept = append(kept, c)
		}
	}
	s.calls = kept
}

// percentile interpolates linearly between the two nearest ranks.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}
	idx := float64(len(sorted)-1) * pct / 100
	lo := int(idx)
	if lo+1 >= len(sorted) {
		return float64(sorted[lo])
	}
	w := idx - float64(lo)
	return float64(sorted[lo]) + (float64(sorted[lo+1])-float64(sorted[lo]))*w
}

// Instrumented wraps a Completer so every call is recorded in stats.
type Instrumented struct {
	Completer
	stats *CallStats
}

func Instrument(c Completer, stats *CallStats) *Instrumented {
	return &Instrumented{Completer: c, stats: stats}
}

func (i *Instrumented) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := i.Completer.Complete(ctx, req)
	i.stats.Record(time.Since(start), err)
	return out, err
}

func (i *Instrumented) Stats() *CallStats { return i.stats }
