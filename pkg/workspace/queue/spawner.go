package queue

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Process running worker process
type Process interface {
	PID() int
	Signal(sig os.Signal) error
	// Wait blocks until the process exits
	Wait() error
}

// Spawner starts worker processes serving a queue
type Spawner interface {
	Spawn(ctx context.Context, queue, dir string) (Process, error)
}

// ExecSpawner starts `<Binary> worker --queue <queue> --dir <dir>` child processes
type ExecSpawner struct {
	Binary string
	// ConfigPath passed to the worker through CONFIG_PATH
	ConfigPath string
}

// NewExecSpawner spawner for binary; empty means the running executable
func NewExecSpawner(binary, configPath string) (*ExecSpawner, error) {
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve worker binary: %w", err)
		}
		binary = self
	}
	return &ExecSpawner{Binary: binary, ConfigPath: configPath}, nil
}

// Spawn starts one worker. The process is not bound to ctx; it lives until
// signalled.
func (s *ExecSpawner) Spawn(_ context.Context, queue, dir string) (Process, error) {
	cmd := exec.Command(s.Binary, "worker", "--queue", queue, "--dir", dir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if s.ConfigPath != "" {
		cmd.Env = append(cmd.Env, "CONFIG_PATH="+s.ConfigPath)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) PID() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *execProcess) Wait() error                { return p.cmd.Wait() }
