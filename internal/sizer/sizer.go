package sizer

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/dgallion1/chaptergest/internal/document"
)

// MemoryBasis selects which accelerator memory figure drives the budget.
type MemoryBasis string

const (
	BasisFree  MemoryBasis = "free"
	BasisTotal MemoryBasis = "total"
)

// Limits bounds the chunk budget derived from accelerator memory.
type Limits struct {
	CharsPerGB    float64 // Characters of chunk text per gigabyte of memory.
	MinChunkChars int
	MaxChunkChars int
	FallbackChars int // Used when no accelerator is detected.
	Basis         MemoryBasis
}

// DefaultLimits returns sensible defaults.
func DefaultLimits() Limits {
	return Limits{
		CharsPerGB:    80000,
		MinChunkChars: 20000,
		MaxChunkChars: 800000,
		FallbackChars: 20000,
		Basis:         BasisFree,
	}
}

// SystemInfo describes the accelerator as observed by a probe.
type SystemInfo struct {
	Accelerator string  // Device name, empty if none detected.
	FreeGB      float64 // Free memory in GiB.
	TotalGB     float64 // Total memory in GiB.
	Reason      string  // Why no accelerator was detected, if any.
}

// Detected reports whether a usable accelerator was found.
func (s SystemInfo) Detected() bool {
	return s.Accelerator != "" && s.TotalGB > 0
}

// Decision is the outcome of sizing a run.
type Decision struct {
	Budget   document.Budget
	MemoryGB float64 // Memory figure used, 0 when falling back.
	Fallback bool
	Reason   string
}

// Size derives the chunk budget from system information. It is a pure
// function: the same info and limits always produce the same decision.
func Size(info SystemInfo, limits Limits) Decision {
	if !info.Detected() {
		reason := info.Reason
		if reason == "" {
			reason = "no accelerator detected"
		}
		return Decision{
			Budget:   clamp(limits.FallbackChars, limits),
			Fallback: true,
			Reason:   reason,
		}
	}

	gb := info.FreeGB
	if limits.Basis == BasisTotal {
		gb = info.TotalGB
	}
	raw := int(math.Round(gb * limits.CharsPerGB))
	return Decision{
		Budget:   clamp(raw, limits),
		MemoryGB: gb,
		Reason:   fmt.Sprintf("%s with %.1f GB %s memory", info.Accelerator, gb, limits.Basis),
	}
}

func clamp(n int, limits Limits) document.Budget {
	if n < limits.MinChunkChars {
		n = limits.MinChunkChars
	}
	if n > limits.MaxChunkChars {
		n = limits.MaxChunkChars
	}
	return document.Budget(n)
}

// Prober inspects accelerator memory.
type Prober interface {
	Probe(ctx context.Context) (SystemInfo, error)
}

// Sizer probes the system once and turns the result into a budget.
type Sizer struct {
	prober Prober
	limits Limits
	log    *slog.Logger
}

func New(prober Prober, limits Limits, log *slog.Logger) *Sizer {
	return &Sizer{prober: prober, limits: limits, log: log}
}

// Size never fails: probe errors are treated as "no accelerator detected".
func (s *Sizer) Size(ctx context.Context) Decision {
	info, err := s.prober.Probe(ctx)
	if err != nil {
		info = SystemInfo{Reason: fmt.Sprintf("accelerator probe failed: %v", err)}
	}
	d := Size(info, s.limits)
	if d.Fallback {
		s.log.Info("chunk budget fallback", "budget", int(d.Budget), "reason", d.Reason)
	} else {
		s.log.Info("chunk budget sized from accelerator memory",
			"accelerator", info.Accelerator,
			"memory_gb", math.Round(d.MemoryGB*10)/10,
			"basis", string(s.limits.Basis),
			"budget", int(d.Budget),
		)
	}
	return d
}
