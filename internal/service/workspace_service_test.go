package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinpool/internal/model"
	"twinpool/pkg/jobmonitor"
	"twinpool/pkg/pool"
	"twinpool/pkg/probe"
	"twinpool/pkg/recent"
	"twinpool/pkg/workspace"
)

type testEnv struct {
	svc    *WorkspaceService
	store  *recent.FileStore
	opened []*workspace.Memory
	// missing paths fail to open as deleted from disk
	missing map[string]bool
}

func newTestEnv(t *testing.T, cpus int) *testEnv {
	t.Helper()
	store, err := recent.NewFileStore(filepath.Join(t.TempDir(), recent.FileName), recent.DefaultWorkerCount(cpus))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{store: store, missing: make(map[string]bool)}
	opener := workspace.OpenerFunc(func(_ context.Context, path, name string) (workspace.Handle, error) {
		if env.missing[path] {
			return nil, fmt.Errorf("failed to open workspace: %w", &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist})
		}
		m := workspace.NewMemory(name, path)
		env.opened = append(env.opened, m)
		return m, nil
	})

	controller := pool.NewController(pool.Options{
		Probe: probe.Func(func(context.Context, int) probe.Stats {
			return probe.Stats{CPUPercent: 1, MemPercent: 1}
		}),
		Recent:   store,
		CPUCount: func(context.Context) int { return cpus },
	})
	env.svc = NewWorkspaceService(opener, store, controller, jobmonitor.New(jobmonitor.Options{}))
	t.Cleanup(func() { env.svc.Close(context.Background()) })
	return env
}

func TestWorkspaceService_OpenRestoresDefaultCount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 8)

	info, err := env.svc.Open(ctx, "/data/brain.ws", "")
	require.NoError(t, err)
	assert.Equal(t, "brain.ws", info.Name)
	assert.Equal(t, 8, info.Workers.Max)
	assert.True(t, info.PoolEnabled)
	assert.True(t, info.JobsEnabled)

	assert.Eventually(t, func() bool { return env.svc.Workers().Summary.All == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 5, env.svc.Workers().Summary.Idle)

	entries, err := env.svc.Recent(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, recent.Entry{Name: "brain.ws", Path: "/data/brain.ws", WorkerCount: 5}, entries[0])
}

func TestWorkspaceService_OpenClampsToCapacity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 4)
	require.NoError(t, env.store.Record(ctx, "brain", "/data/brain.ws", 10))

	_, err := env.svc.Open(ctx, "/data/brain.ws", "brain")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return env.svc.Workers().Summary.All == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, env.svc.Workers().Summary.Target)
}

func TestWorkspaceService_ReopenAndSwitch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2)

	_, err := env.svc.Open(ctx, "/data/a.ws", "a")
	require.NoError(t, err)
	_, err = env.svc.Open(ctx, "/data/a.ws", "a")
	require.NoError(t, err)
	require.Len(t, env.opened, 1, "reopening the current workspace is a no-op")

	info, err := env.svc.Open(ctx, "/data/b.ws", "b")
	require.NoError(t, err)
	assert.Equal(t, "/data/b.ws", info.Path)
	require.Len(t, env.opened, 2)
	assert.ErrorIs(t, env.opened[0].StartWorkers(ctx, 1), workspace.ErrClosed)

	entries, err := env.svc.Recent(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/data/b.ws", entries[0].Path)
}

func TestWorkspaceService_CloseWithoutWorkspace(t *testing.T) {
	env := newTestEnv(t, 2)
	assert.ErrorIs(t, env.svc.Close(context.Background()), pool.ErrNoWorkspaceOpen)
	assert.Nil(t, env.svc.Current())

	_, err := env.svc.SubmitJob(context.Background(), "simulate", nil)
	assert.ErrorIs(t, err, pool.ErrNoWorkspaceOpen)
}

func TestWorkspaceService_CloseKeepsRecentCount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 3)

	_, err := env.svc.Open(ctx, "/data/brain.ws", "brain")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return env.svc.Workers().Summary.All == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, env.svc.Close(ctx))
	assert.Nil(t, env.svc.Current())
	assert.Equal(t, model.WorkerSummary{}, env.svc.Workers().Summary)

	count, err := env.store.Lookup(ctx, "brain", "/data/brain.ws")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestWorkspaceService_SubmitJobMarksDirty(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2)
	_, err := env.svc.Open(ctx, "/data/brain.ws", "brain")
	require.NoError(t, err)

	id, err := env.svc.SubmitJob(ctx, "simulate", []byte(`{}`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	view := env.svc.Jobs(model.CategoryAll)
	assert.True(t, view.Dirty)
	assert.Empty(t, view.Rows)

	require.NoError(t, env.svc.SetJobsVisible(ctx, true))
	view = env.svc.Jobs(model.CategoryAll)
	assert.False(t, view.Dirty)
	require.Len(t, view.Rows, 1)
	assert.Equal(t, id, view.Rows[0].GID)
	assert.Equal(t, "all(1)", view.Labels[model.CategoryAll])

	_, err = env.svc.SubmitJob(ctx, "", nil)
	assert.Error(t, err)
}

func TestWorkspaceService_ForgetRecent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2)
	require.NoError(t, env.store.Record(ctx, "a", "/data/a.ws", 1))

	require.NoError(t, env.svc.ForgetRecent(ctx, "/data/a.ws"))
	entries, err := env.svc.Recent(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Error(t, env.svc.ForgetRecent(ctx, ""))
}

func TestWorkspaceService_OpenMissingWorkspaceForgetsIt(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2)
	require.NoError(t, env.store.Record(ctx, "gone", "/data/gone.ws", 2))
	require.NoError(t, env.store.Record(ctx, "kept", "/data/kept.ws", 1))
	env.missing["/data/gone.ws"] = true

	_, err := env.svc.Open(ctx, "/data/gone.ws", "gone")
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
	assert.Nil(t, env.svc.Current())

	entries, err := env.svc.Recent(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/data/kept.ws", entries[0].Path)
}

func TestWorkspaceService_OpenFailureKeepsRecentEntry(t *testing.T) {
	ctx := context.Background()
	store, err := recent.NewFileStore(filepath.Join(t.TempDir(), recent.FileName), 2)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Record(ctx, "brain", "/data/brain.ws", 2))

	opener := workspace.OpenerFunc(func(context.Context, string, string) (workspace.Handle, error) {
		return nil, errors.New("task queue unreachable")
	})
	controller := pool.NewController(pool.Options{Recent: store, CPUCount: func(context.Context) int { return 2 }})
	svc := NewWorkspaceService(opener, store, controller, jobmonitor.New(jobmonitor.Options{}))

	_, err = svc.Open(ctx, "/data/brain.ws", "brain")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrWorkspaceNotFound)
	entries, err := svc.Recent(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
