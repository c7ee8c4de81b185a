package queue

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinpool/internal/model"
	redisstore "twinpool/pkg/store/redis"
	"twinpool/pkg/workspace"
)

type fakeProcess struct {
	pid     int
	mu      sync.Mutex
	signals []os.Signal
	once    sync.Once
	exit    chan struct{}
	// ignoreTerm keeps the process alive on SIGTERM
	ignoreTerm bool
	// onTerm runs when SIGTERM is delivered
	onTerm func()
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	onTerm := p.onTerm
	p.mu.Unlock()
	if sig == syscall.SIGTERM && onTerm != nil {
		onTerm()
	}
	if sig == os.Kill || !p.ignoreTerm {
		p.crash()
	}
	return nil
}

func (p *fakeProcess) Wait() error {
	<-p.exit
	return nil
}

func (p *fakeProcess) crash() {
	p.once.Do(func() { close(p.exit) })
}

func (p *fakeProcess) received() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}

type fakeSpawner struct {
	mu      sync.Mutex
	nextPID int
	procs   []*fakeProcess
	fail    error
	// ignoreTerm applies to spawned processes
	ignoreTerm bool
}

func (s *fakeSpawner) Spawn(_ context.Context, _, _ string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	s.nextPID++
	p := &fakeProcess{pid: 4000 + s.nextPID, exit: make(chan struct{}), ignoreTerm: s.ignoreTerm}
	s.procs = append(s.procs, p)
	return p, nil
}

type fakeInspector struct {
	mu        sync.Mutex
	servers   []*asynq.ServerInfo
	tasks     map[string]*asynq.TaskInfo
	serverErr error
	closed    bool
}

func (f *fakeInspector) Servers() ([]*asynq.ServerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servers, f.serverErr
}

func (f *fakeInspector) GetTaskInfo(_, id string) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.tasks[id]
	if !ok {
		return nil, asynq.ErrTaskNotFound
	}
	return info, nil
}

func (f *fakeInspector) Close() error {
	f.closed = true
	return nil
}

type fakeClient struct {
	ins  *fakeInspector
	opts []asynq.Option
}

func (c *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.opts = append(c.opts, opts...)
	var id string
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id = o.Value().(string)
		}
	}
	info := &asynq.TaskInfo{ID: id, Type: task.Type(), State: asynq.TaskStatePending}
	c.ins.mu.Lock()
	c.ins.tasks[id] = info
	c.ins.mu.Unlock()
	return info, nil
}

func (c *fakeClient) Close() error { return nil }

type fixture struct {
	ws      *Workspace
	spawner *fakeSpawner
	ins     *fakeInspector
	client  *fakeClient
	deltas  *[]workspace.Delta
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ins := &fakeInspector{tasks: make(map[string]*asynq.TaskInfo)}
	client := &fakeClient{ins: ins}
	spawner := &fakeSpawner{}
	ws := newWorkspace("brain", "/data/brain.ws", spawner, ins, client,
		redisstore.NewJobRepository(rdb, 0),
		settings{refresh: time.Hour, retention: time.Hour, shutdownWait: 50 * time.Millisecond})
	t.Cleanup(func() { ws.Close() })

	var (
		mu     sync.Mutex
		deltas []workspace.Delta
	)
	ws.Observe(func(d workspace.Delta) {
		mu.Lock()
		deltas = append(deltas, d)
		mu.Unlock()
	})
	return fixture{ws: ws, spawner: spawner, ins: ins, client: client, deltas: &deltas}
}

func (f fixture) register(pid int, active int) {
	f.ins.mu.Lock()
	defer f.ins.mu.Unlock()
	info := &asynq.ServerInfo{Host: f.ws.host, PID: pid, Queues: map[string]int{f.ws.queue: 1}}
	for i := 0; i < active; i++ {
		info.ActiveWorkers = append(info.ActiveWorkers, &asynq.WorkerInfo{TaskID: "t"})
	}
	f.ins.servers = append(f.ins.servers, info)
}

func TestWorkspace_StartWorkersPublishesOneDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ws.StartWorkers(ctx, 2))
	require.NoError(t, f.ws.StartWorkers(ctx, 1))
	f.ws.observers.Settle()

	require.Len(t, *f.deltas, 2)
	assert.Equal(t, 0, (*f.deltas)[0].Index)
	assert.Len(t, (*f.deltas)[0].Added, 2)
	assert.Equal(t, 2, (*f.deltas)[1].Index)

	workers := f.ws.Workers()
	require.Len(t, workers, 3)
	assert.Equal(t, 4001, workers[0].PID())
	for _, w := range workers {
		assert.True(t, w.IsIdle(), "unregistered workers are idle")
	}
}

func TestWorkspace_SpawnFailureKeepsStartedWorkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ws.StartWorkers(ctx, 1))

	f.spawner.fail = errors.New("exec format error")
	err := f.ws.StartWorkers(ctx, 2)
	assert.ErrorContains(t, err, "started 0 of 2 workers")
	assert.Len(t, f.ws.Workers(), 1)
}

func TestWorkspace_RefreshTracksActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ws.StartWorkers(ctx, 2))

	f.register(4001, 1)
	f.register(4002, 0)
	// a server of another queue with a matching pid is ignored
	f.ins.servers = append(f.ins.servers, &asynq.ServerInfo{Host: f.ws.host, PID: 4002, Queues: map[string]int{"other": 1},
		ActiveWorkers: []*asynq.WorkerInfo{{TaskID: "x"}}})
	require.NoError(t, f.ws.refresh())

	workers := f.ws.Workers()
	assert.False(t, workers[0].IsIdle())
	assert.True(t, workers[1].IsIdle())
}

func TestWorkspace_RemoveIdleWorkersNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ws.StartWorkers(ctx, 3))
	f.register(4003, 1)

	require.NoError(t, f.ws.RemoveIdleWorkers(ctx, 1))
	assert.Eventually(t, func() bool { return len(f.ws.Workers()) == 2 }, time.Second, 5*time.Millisecond)
	f.ws.observers.Settle()

	// 4003 is busy, so 4002 goes
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, f.spawner.procs[1].received())
	assert.Empty(t, f.spawner.procs[2].received())

	last := (*f.deltas)[len(*f.deltas)-1]
	assert.Equal(t, 1, last.Index)
	require.Len(t, last.Removed, 1)
	assert.Equal(t, 4002, last.Removed[0].PID())
}

func TestWorkspace_IdleWorkerLeavesWhenSignalled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.spawner.ignoreTerm = true
	require.NoError(t, f.ws.StartWorkers(ctx, 2))

	require.NoError(t, f.ws.RemoveIdleWorkers(ctx, 1))

	// still running, but confirmed idle after the signal
	workers := f.ws.Workers()
	require.Len(t, workers, 1)
	assert.Equal(t, 4001, workers[0].PID())
	f.ws.observers.Settle()
	last := (*f.deltas)[len(*f.deltas)-1]
	require.Len(t, last.Removed, 1)
	assert.Equal(t, 4002, last.Removed[0].PID())
}

func TestWorkspace_WorkerThatTookAJobDrainsBeforeLeaving(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.spawner.ignoreTerm = true
	require.NoError(t, f.ws.StartWorkers(ctx, 2))
	f.ws.observers.Settle()

	// 4002 dequeues a task between the idle check and the signal
	f.spawner.procs[1].onTerm = func() { f.register(4002, 1) }

	require.NoError(t, f.ws.RemoveIdleWorkers(ctx, 1))
	f.ws.observers.Settle()

	workers := f.ws.Workers()
	require.Len(t, workers, 2)
	assert.Equal(t, 4002, workers[1].PID())
	assert.False(t, workers[1].IsIdle(), "draining worker counts as busy")
	assert.Len(t, *f.deltas, 1, "no removal while the job runs")
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, f.spawner.procs[1].received())

	// the draining worker is not picked again
	require.NoError(t, f.ws.RemoveIdleWorkers(ctx, 1))
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, f.spawner.procs[0].received())
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, f.spawner.procs[1].received())
	require.Len(t, f.ws.Workers(), 1)

	// the job finishes and the process exits
	f.spawner.procs[1].crash()
	assert.Eventually(t, func() bool { return len(f.ws.Workers()) == 0 }, time.Second, 5*time.Millisecond)
	f.ws.observers.Settle()
	last := (*f.deltas)[len(*f.deltas)-1]
	assert.Equal(t, 0, last.Index)
	require.Len(t, last.Removed, 1)
	assert.Equal(t, 4002, last.Removed[0].PID())
}

func TestWorkspace_CrashedWorkerIsRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ws.StartWorkers(ctx, 2))

	f.spawner.procs[0].crash()
	assert.Eventually(t, func() bool { return len(f.ws.Workers()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4002, f.ws.Workers()[0].PID())
}

func TestWorkspace_UnreachableAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	f.ins.serverErr = errors.New("connection refused")

	for i := 0; i < maxRefreshFailures-1; i++ {
		assert.Error(t, f.ws.refresh())
		assert.NoError(t, f.ws.Err())
	}
	assert.Error(t, f.ws.refresh())
	assert.ErrorContains(t, f.ws.Err(), "task queue unreachable")

	// the fault is permanent
	f.ins.serverErr = nil
	require.NoError(t, f.ws.refresh())
	assert.Error(t, f.ws.Err())
	assert.Error(t, f.ws.StartWorkers(context.Background(), 1))
}

func TestWorkspace_SubmitAndJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mgr := f.ws.Manager()

	a, err := mgr.Submit(ctx, KindCommand, []byte(`{"args":["true"]}`))
	require.NoError(t, err)
	b, err := mgr.Submit(ctx, "simulate", nil)
	require.NoError(t, err)
	c, err := mgr.Submit(ctx, "simulate", nil)
	require.NoError(t, err)

	f.ins.tasks[a].State = asynq.TaskStateCompleted
	f.ins.tasks[b].State = asynq.TaskStateArchived
	f.ins.tasks[b].LastErr = "exit status 1"
	delete(f.ins.tasks, c)

	jobs, err := mgr.Jobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Job{
		{ID: a, Kind: KindCommand, State: model.Done()},
		{ID: b, Kind: "simulate", State: model.Failed("exit status 1")},
	}, jobs)

	ids, err := f.ws.jobs.IDs(ctx, f.ws.queue)
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, ids, "expired jobs are forgotten")

	_, err = mgr.Job(ctx, c)
	assert.ErrorIs(t, err, workspace.ErrJobNotFound)

	job, err := mgr.Job(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, model.JobDone, job.State.Kind)
}

func TestWorkspace_CloseStopsWorkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.spawner.ignoreTerm = true
	require.NoError(t, f.ws.StartWorkers(ctx, 2))

	require.NoError(t, f.ws.Close())
	for _, p := range f.spawner.procs {
		assert.Equal(t, []os.Signal{syscall.SIGTERM, os.Kill}, p.received())
	}
	assert.True(t, f.ins.closed)

	assert.ErrorIs(t, f.ws.StartWorkers(ctx, 1), workspace.ErrClosed)
	_, err := f.ws.Submit(ctx, "simulate", nil)
	assert.ErrorIs(t, err, workspace.ErrClosed)
	assert.NoError(t, f.ws.Close())
}
