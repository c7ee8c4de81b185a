// Package probe reads OS-level resource usage of worker processes.
package probe

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"

	"twinpool/pkg/logger"
)

// Stats one process readout. Gone is set when the process could not be
// read this round; the other fields are zero then.
type Stats struct {
	CPUPercent float64
	MemPercent float64
	Gone       bool
}

// Probe samples one process by pid
type Probe interface {
	Sample(ctx context.Context, pid int) Stats
}

// Func adapts a function to Probe
type Func func(ctx context.Context, pid int) Stats

func (f Func) Sample(ctx context.Context, pid int) Stats {
	return f(ctx, pid)
}

type tracked struct {
	mu   sync.Mutex
	proc *process.Process
}

// ProcessProbe gopsutil-backed probe. Process handles are cached per pid so
// CPU percent is measured as the delta since the previous sample; the first
// sample of a pid reports 0% CPU.
type ProcessProbe struct {
	mu    sync.Mutex
	procs map[int32]*tracked
}

// NewProcessProbe creates a probe with an empty handle cache
func NewProcessProbe() *ProcessProbe {
	return &ProcessProbe{procs: make(map[int32]*tracked)}
}

// Sample never fails; a vanished or unreadable process yields Gone
func (p *ProcessProbe) Sample(ctx context.Context, pid int) Stats {
	if pid <= 0 {
		return Stats{Gone: true}
	}
	t, err := p.handle(ctx, int32(pid))
	if err != nil {
		if !errors.Is(err, process.ErrorProcessNotRunning) {
			logger.DebugCtx(ctx, "probe pid %d: %v", pid, err)
		}
		return Stats{Gone: true}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	running, err := t.proc.IsRunningWithContext(ctx)
	if err != nil || !running {
		p.Forget(pid)
		return Stats{Gone: true}
	}
	cpuPercent, err := t.proc.PercentWithContext(ctx, 0)
	if err != nil {
		logger.DebugCtx(ctx, "probe pid %d cpu: %v", pid, err)
		return Stats{Gone: true}
	}
	memPercent, err := t.proc.MemoryPercentWithContext(ctx)
	if err != nil {
		logger.DebugCtx(ctx, "probe pid %d mem: %v", pid, err)
		return Stats{Gone: true}
	}
	return Stats{CPUPercent: cpuPercent, MemPercent: float64(memPercent)}
}

// Forget drops the cached handle of pid
func (p *ProcessProbe) Forget(pid int) {
	p.mu.Lock()
	delete(p.procs, int32(pid))
	p.mu.Unlock()
}

// Reset drops every cached handle
func (p *ProcessProbe) Reset() {
	p.mu.Lock()
	p.procs = make(map[int32]*tracked)
	p.mu.Unlock()
}

func (p *ProcessProbe) handle(ctx context.Context, pid int32) (*tracked, error) {
	p.mu.Lock()
	t, ok := p.procs[pid]
	p.mu.Unlock()
	if ok {
		return t, nil
	}

	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.procs[pid]; ok {
		return existing, nil
	}
	t = &tracked{proc: proc}
	p.procs[pid] = t
	return t, nil
}

// CPUCount logical core count of the host, falling back to the Go runtime's view
func CPUCount(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}
