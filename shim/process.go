package shim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/containerd/fifo"
	"github.com/containerd/log"
)

// task is one container running one Screwtape program.
type task struct {
	pid int

	done       context.Context
	exitTime   time.Time
	exitStatus int

	stdin  string
	stdout string
	stderr string
}

func (t *task) exited() bool {
	return t.done.Err() != nil
}

func (t *task) String() string {
	if t.exited() {
		return fmt.Sprintf("pid:%d, exitTime:%s, exitStatus:%d", t.pid, t.exitTime.Format(time.RFC3339), t.exitStatus)
	}
	return fmt.Sprintf("pid:%d running", t.pid)
}

// The task process stops itself before exec so that Create can return a pid
// while the program only starts on Start (SIGCONT).
const startStoppedScript = `
#!/bin/sh
kill -STOP $$
exec $@
`

const commandWaitDelay = 100 * time.Millisecond

func openFifo(ctx context.Context, path string, flag int) (io.ReadWriteCloser, error) {
	ok, err := fifo.IsFifo(path)
	if err != nil {
		return nil, fmt.Errorf("checking whether file %s is a fifo: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("file %s is not a fifo", path)
	}
	f, err := fifo.OpenFifo(ctx, path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening fifo %s: %w", path, err)
	}
	return f, nil
}

// stdio holds the containerd fifos of one task and the copies that connect
// them to the pipes of its process.
type stdio struct {
	fifos []io.Closer
	pumps []func()
}

// start launches the copies. Call it only once the process has started.
func (s *stdio) start() {
	for _, p := range s.pumps {
		go p()
	}
}

func (s *stdio) Close() error {
	var errs []error
	for _, f := range s.fifos {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.fifos = nil
	return errors.Join(errs...)
}

// connectStdio opens the containerd fifos and attaches them to the pipes of
// cmd. A stream without a fifo path is left unconnected. stderr falls back to
// the stdout fifo when containerd did not set one. On error every fifo opened
// so far is closed again.
func connectStdio(ctx context.Context, cmd *exec.Cmd, t *task) (_ *stdio, retErr error) {
	s := &stdio{}
	defer func() {
		if retErr != nil {
			s.Close()
		}
	}()

	if t.stdout != "" {
		stdout, err := openFifo(ctx, t.stdout, syscall.O_WRONLY)
		if err != nil {
			return nil, err
		}
		s.fifos = append(s.fifos, stdout)
		stdoutPipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("getting stdout pipe: %w", err)
		}
		s.pumps = append(s.pumps, func() { pump(ctx, "stdout", stdout, stdoutPipe) })
	}

	if t.stdin != "" {
		stdin, err := openFifo(ctx, t.stdin, syscall.O_RDONLY)
		if err != nil {
			return nil, err
		}
		s.fifos = append(s.fifos, stdin)
		stdinPipe, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("getting stdin pipe: %w", err)
		}
		s.pumps = append(s.pumps, func() { pump(ctx, "stdin", stdinPipe, stdin) })
	}

	if t.stderr == "" {
		t.stderr = t.stdout
	}
	if t.stderr != "" {
		stderr, err := openFifo(ctx, t.stderr, syscall.O_WRONLY)
		if err != nil {
			return nil, err
		}
		s.fifos = append(s.fifos, stderr)
		stderrPipe, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("getting stderr pipe: %w", err)
		}
		s.pumps = append(s.pumps, func() { pump(ctx, "stderr", stderr, stderrPipe) })
	}

	return s, nil
}

func pump(ctx context.Context, name string, dst io.Writer, src io.Reader) {
	if _, err := io.Copy(dst, src); err != nil {
		log.G(ctx).WithError(err).Errorf("failed to copy %s", name)
	}
}

// exitStatus follows the shell convention of 128+signal for signalled exits.
func exitStatus(ctx context.Context, cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		log.G(ctx).Warn("init process wait returned without setting process state")
		return 255
	}
	if cmd.ProcessState.Exited() {
		return cmd.ProcessState.ExitCode()
	}
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return exitCodeSignal + int(ws.Signal())
	}
	return 255
}

// finalize waits for the task process, records its exit and shuts the shim
// down once every task has exited.
func (s *stTaskService) finalize(ctx context.Context, id string, cmd *exec.Cmd, markDone func()) {
	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			log.G(ctx).WithError(err).Errorf("failed to wait for init process %d", pid)
		}
	}
	status := exitStatus(ctx, cmd)
	log.G(ctx).WithField("pid", pid).WithField("status", status).Debug("init process exited")

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		log.G(ctx).Errorf("failed to write final status of done init process: task %s was removed", id)
		markDone()
		return
	}
	t.exitStatus = status
	t.exitTime = time.Now()
	markDone()
	log.G(ctx).WithField("id", id).Debugf("task done: %s", t)

	for _, other := range s.tasks {
		if !other.exited() {
			return
		}
	}
	log.G(ctx).Debug("all tasks exited. shutting down the shim")
	s.shutdown.Shutdown()
}
