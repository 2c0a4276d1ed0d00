package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCallStatsSnapshotPercentiles(t *testing.T) {
	stats := NewCallStats(time.Hour)
	for _, ms := range []int{100, 200, 300, 400, 500} {
		stats.Record(time.Duration(ms)*time.Millisecond, nil)
	}

	snap := stats.Snapshot()
	if snap.Calls != 5 {
		t.Fatalf("expected calls=5, got %d", snap.Calls)
	}
	if snap.MinMs != 100 || snap.MaxMs != 500 {
		t.Fatalf("expected min=100 max=500, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Ms)
	}
	if snap.P95Ms != 480 {
		t.Fatalf("expected p95=480, got %f", snap.P95Ms)
	}
}

func TestCallStatsFailuresExcludedFromLatency(t *testing.T) {
	stats := NewCallStats(time.Hour)
	stats.Record(50*time.Millisecond, nil)
	stats.Record(9*time.Second, errors.New("boom"))

	snap := stats.Snapshot()
	if snap.Calls != 2 || snap.Failures != 1 {
		t.Fatalf("expected calls=2 failures=1, got %+v", snap)
	}
	if snap.MaxMs != 50 {
		t.Fatalf("expected max=50, got %d", snap.MaxMs)
	}
}

func TestCallStatsPrunesOldCalls(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	stats := NewCallStats(time.Minute)
	stats.now = func() time.Time { return now }

	stats.Record(100*time.Millisecond, nil)
	now = now.Add(2 * time.Minute)

	if snap := stats.Snapshot(); snap.Calls != 0 {
		t.Fatalf("expected calls=0 after prune, got %d", snap.Calls)
	}

	stats.Record(200*time.Millisecond, nil)
	snap := stats.Snapshot()
	if snap.Calls != 1 || snap.MinMs != 200 {
		t.Fatalf("expected one fresh call of 200ms, got %+v", snap)
	}
}

func TestCallStatsClampsNegativeDuration(t *testing.T) {
	stats := NewCallStats(time.Hour)
	stats.Record(-time.Second, nil)
	if snap := stats.Snapshot(); snap.Calls != 1 || snap.MaxMs != 0 {
		t.Fatalf("expected one clamped call, got %+v", snap)
	}
}

func TestInstrumentedRecordsCalls(t *testing.T) {
	scripted := NewScriptedClient()
	calls := 0
	scripted.Respond = func(Request) (string, error) {
		calls++
		if calls == 2 {
			return "", errors.New("fail")
		}
		return "ok", nil
	}
	c := Instrument(scripted, NewCallStats(time.Hour))

	for range 3 {
		_, _ = c.Complete(context.Background(), Request{Prompt: "x"})
	}

	snap := c.Stats().Snapshot()
	if snap.Calls != 3 || snap.Failures != 1 {
		t.Fatalf("expected calls=3 failures=1, got %+v", snap)
	}
	if c.Name() != ScriptedName {
		t.Fatalf("expected wrapped name %q, got %q", ScriptedName, c.Name())
	}
}
