package pool

import (
	"context"
	"sync"
	"time"

	"twinpool/pkg/probe"
	"twinpool/pkg/workspace"
)

// sample one worker readout taken outside the controller lock
type sample struct {
	id    string
	idle  bool
	stats probe.Stats
	at    time.Time
}

// sampler runs probes on a bounded number of goroutines with at most one
// in-flight sample per worker. A sample outliving its round keeps its worker
// marked in flight, so the next round skips that worker.
type sampler struct {
	probe   probe.Probe
	sem     chan struct{}
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func newSampler(p probe.Probe, concurrency int, timeout time.Duration, now func() time.Time) *sampler {
	if concurrency <= 0 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &sampler{
		probe:    p,
		sem:      make(chan struct{}, concurrency),
		timeout:  timeout,
		now:      now,
		inflight: make(map[string]struct{}),
	}
}

func (s *sampler) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *sampler) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

func (s *sampler) inFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[id]
	return ok
}

// run samples workers and returns what arrived before the round deadline
func (s *sampler) run(ctx context.Context, workers []workspace.Worker) []sample {
	results := make(chan sample, len(workers))
	launched := 0
	for _, w := range workers {
		if !s.acquire(w.ID()) {
			continue
		}
		launched++
		go s.one(ctx, w, results)
	}
	if launched == 0 {
		return nil
	}

	rounds := (launched + cap(s.sem) - 1) / cap(s.sem)
	deadline := time.NewTimer(time.Duration(rounds) * s.timeout)
	defer deadline.Stop()

	out := make([]sample, 0, launched)
	for len(out) < launched {
		select {
		case r := <-results:
			out = append(out, r)
		case <-deadline.C:
			return out
		case <-ctx.Done():
			return out
		}
	}
	return out
}

func (s *sampler) one(ctx context.Context, w workspace.Worker, results chan<- sample) {
	defer s.release(w.ID())

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.sem }()

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	idle := w.IsIdle()
	stats := s.probe.Sample(sctx, w.PID())
	results <- sample{id: w.ID(), idle: idle, stats: stats, at: s.now()}
}
