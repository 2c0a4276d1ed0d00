package sizer

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// NvidiaSMI probes NVIDIA GPUs through the nvidia-smi command line tool.
type NvidiaSMI struct {
	Binary  string        // Defaults to "nvidia-smi".
	Timeout time.Duration // Defaults to 5s.

	// run is swapped in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func (p *NvidiaSMI) Probe(ctx context.Context) (SystemInfo, error) {
	bin := p.Binary
	if bin == "" {
		bin = "nvidia-smi"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	run := p.run
	if run == nil {
		if _, err := exec.LookPath(bin); err != nil {
			return SystemInfo{Reason: bin + " not found"}, nil
		}
		run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := run(ctx, bin,
		"--query-gpu=name,memory.free,memory.total",
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		return SystemInfo{}, fmt.Errorf("%s: %w", bin, err)
	}
	return parseNvidiaSMI(string(out))
}

// parseNvidiaSMI reads the first device line: "<name>, <free MiB>, <total MiB>".
func parseNvidiaSMI(out string) (SystemInfo, error) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	if line == "" {
		return SystemInfo{Reason: "no GPU reported"}, nil
	}
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return SystemInfo{}, fmt.Errorf("unexpected nvidia-smi output: %q", line)
	}
	freeMiB, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return SystemInfo{}, fmt.Errorf("parse free memory: %w", err)
	}
	totalMiB, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return SystemInfo{}, fmt.Errorf("parse total memory: %w", err)
	}
	return SystemInfo{
		Accelerator: strings.TrimSpace(fields[0]),
		FreeGB:      freeMiB / 1024,
		TotalGB:     totalMiB / 1024,
	}, nil
}

// Static is a Prober that always reports the same information.
type Static SystemInfo

func (s Static) Probe(context.Context) (SystemInfo, error) {
	return SystemInfo(s), nil
}
