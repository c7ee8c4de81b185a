package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RunsImmediatelyAndPeriodically(t *testing.T) {
	m := NewManager(context.Background())
	var runs atomic.Int32
	m.Register(Every("tick", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	m.Register(nil)

	m.Start()
	m.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Wait()
	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())
}

func TestManager_StatusesRecordErrors(t *testing.T) {
	m := NewManager(context.Background())
	var fail atomic.Bool
	fail.Store(true)
	m.Register(Every("flaky", 10*time.Millisecond, func(context.Context) error {
		if fail.Load() {
			return errors.New("workspace unreachable")
		}
		return nil
	}))
	m.Register(Every("quiet", time.Hour, func(context.Context) error { return nil }))
	m.Start()
	defer func() {
		m.Stop()
		m.Wait()
	}()

	assert.Eventually(t, func() bool {
		return m.Statuses()[0].LastError == "workspace unreachable"
	}, time.Second, 5*time.Millisecond)

	fail.Store(false)
	assert.Eventually(t, func() bool {
		return m.Statuses()[0].LastError == ""
	}, time.Second, 5*time.Millisecond)

	statuses := m.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "quiet", statuses[1].Name)
	assert.Equal(t, "1h0m0s", statuses[1].Interval)
}

func TestManager_AlignedJobWaitsForBoundary(t *testing.T) {
	m := NewManager(context.Background())
	var runs atomic.Int32
	m.Register(Aligned("hourly", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	m.Start()
	time.Sleep(20 * time.Millisecond)
	m.Stop()
	m.Wait()
	assert.Zero(t, runs.Load())
}

func TestManager_NonPositiveIntervalDefaults(t *testing.T) {
	m := NewManager(context.Background())
	done := make(chan struct{})
	m.Register(Every("once", 0, func(context.Context) error {
		close(done)
		return nil
	}))
	m.Start()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
	m.Stop()
	m.Wait()
}
