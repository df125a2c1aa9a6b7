package shim

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"
	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/protobuf"
	ptypes "github.com/containerd/containerd/v2/pkg/protobuf/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/containerd/v2/pkg/shutdown"
	"github.com/containerd/containerd/v2/plugins"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/containerd/plugin"
	"github.com/containerd/plugin/registry"
	"github.com/containerd/ttrpc"
	"google.golang.org/protobuf/types/known/anypb"
)

func init() {
	registry.Register(&plugin.Registration{
		Type: plugins.TTRPCPlugin,
		ID:   "task",
		Requires: []plugin.Type{
			plugins.InternalPlugin,
		},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			ss, err := ic.GetByID(plugins.InternalPlugin, "shutdown")
			if err != nil {
				return nil, err
			}
			return newTaskService(ic.Context, ss.(shutdown.Service))
		},
	})
}

// shutdowner is the part of shutdown.Service the task service uses.
type shutdowner interface {
	Shutdown()
}

type stTaskService struct {
	mu       sync.RWMutex
	tasks    map[string]*task
	shutdown shutdowner
}

func newTaskService(ctx context.Context, sd shutdown.Service) (taskAPI.TaskService, error) {
	return &stTaskService{
		tasks:    make(map[string]*task, 1),
		shutdown: sd,
	}, nil
}

var (
	_ = shim.TTRPCService(&stTaskService{})
)

// RegisterTTRPC allows TTRPC services to be registered with the underlying server
func (s *stTaskService) RegisterTTRPC(server *ttrpc.Server) error {
	taskAPI.RegisterTaskService(server, s)
	return nil
}

func (s *stTaskService) get(id string) (*task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", id, errdefs.ErrNotFound)
	}
	return t, nil
}

func (s *stTaskService) doneContext(id string) (context.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return t.done, nil
}

// Create prepares the task process in a stopped state. The program does not
// run until Start.
func (s *stTaskService) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (*taskAPI.CreateTaskResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("create (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[r.ID]; ok {
		return nil, errdefs.ErrAlreadyExists
	}

	bundle, err := ReadBundle(r.Bundle)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}
	log.G(ctx).WithField("program", bundle.FullPath()).WithField("settings", bundle.Settings).Debug("bundle")

	script := filepath.Join(r.Bundle, "start-stopped.sh")
	if err := os.WriteFile(script, []byte(startStoppedScript), 0755); err != nil {
		return nil, fmt.Errorf("writing start-stopped.sh: %w", err)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("getting executable of current process: %w", err)
	}

	// Not CommandContext: the task outlives this request.
	args := append([]string{script, self}, bundle.Args()...)
	cmd := exec.Command("/bin/sh", args...)
	cmd.WaitDelay = commandWaitDelay

	t := &task{
		stdin:  r.Stdin,
		stdout: r.Stdout,
		stderr: r.Stderr,
	}
	stdio, err := connectStdio(ctx, cmd, t)
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		stdio.Close()
		return nil, fmt.Errorf("running init command: %w", err)
	}
	stdio.start()
	t.pid = cmd.Process.Pid

	done, markDone := context.WithCancel(context.Background())
	t.done = done
	s.tasks[r.ID] = t

	go s.finalize(ctx, r.ID, cmd, markDone)

	if err := writePidFile(r.ID, t.pid); err != nil {
		log.G(ctx).WithError(err).Warn("failed to write pid file")
	}

	return &taskAPI.CreateTaskResponse{
		Pid: uint32(t.pid),
	}, nil
}

// Start the primary user process inside the container
func (s *stTaskService) Start(ctx context.Context, r *taskAPI.StartRequest) (*taskAPI.StartResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("start (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	if err := syscall.Kill(t.pid, syscall.SIGCONT); err != nil {
		return nil, fmt.Errorf("continuing init process %d: %w", t.pid, err)
	}

	return &taskAPI.StartResponse{
		Pid: uint32(t.pid),
	}, nil
}

// Delete a process or container
func (s *stTaskService) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (*taskAPI.DeleteResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("delete (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if !t.exited() {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("init process %d is not done yet", t.pid))
	}
	delete(s.tasks, r.ID)

	return &taskAPI.DeleteResponse{
		Pid:        uint32(t.pid),
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

// Exec an additional process inside the container
func (s *stTaskService) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("exec (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Exec (task)")
}

// ResizePty of a process
func (s *stTaskService) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resizepty (service)")
	return &ptypes.Empty{}, nil
}

// State returns runtime state of a process
func (s *stTaskService) State(ctx context.Context, r *taskAPI.StateRequest) (*taskAPI.StateResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("state (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	status := tasktypes.Status_RUNNING
	if t.exited() {
		status = tasktypes.Status_STOPPED
	}

	return &taskAPI.StateResponse{
		ID:         r.ID,
		Pid:        uint32(t.pid),
		Status:     status,
		Stdin:      t.stdin,
		Stdout:     t.stdout,
		Stderr:     t.stderr,
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

// Pause the container
func (s *stTaskService) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("pause (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Pause (task)")
}

// Resume the container
func (s *stTaskService) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resume (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Resume (task)")
}

// Kill sends the requested signal (SIGKILL when none is given) to the task
// process and waits for it to exit.
func (s *stTaskService) Kill(ctx context.Context, r *taskAPI.KillRequest) (*ptypes.Empty, error) {
	log.G(ctx).WithField("id", r.ID).WithField("signal", r.Signal).Debug("kill (service)")

	exited, err := s.signal(r.ID, r.Signal)
	if err != nil {
		log.G(ctx).WithError(err).Errorf("failed to signal init process of %s", r.ID)
		return nil, err
	}
	if exited {
		log.G(ctx).Warnf("task already exited: %s", r.ID)
		return &ptypes.Empty{}, nil
	}

	done, err := s.doneContext(r.ID)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done.Done():
	}
	return &ptypes.Empty{}, nil
}

func (s *stTaskService) signal(id string, signal uint32) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.get(id)
	if err != nil {
		return false, err
	}
	if t.exited() {
		return true, nil
	}
	if t.pid <= 0 || !alive(t.pid) {
		return false, nil
	}

	sig := syscall.SIGKILL
	if signal != 0 {
		sig = syscall.Signal(signal)
	}
	if err := syscall.Kill(t.pid, sig); err != nil {
		return false, fmt.Errorf("sending %s to init process: %w", sig, err)
	}
	// A stopped process never sees anything but SIGKILL until it is continued.
	if sig != syscall.SIGKILL {
		_ = syscall.Kill(t.pid, syscall.SIGCONT)
	}
	return false, nil
}

// Pids returns all pids inside the container
func (s *stTaskService) Pids(ctx context.Context, r *taskAPI.PidsRequest) (*taskAPI.PidsResponse, error) {
	log.G(ctx).Debug("pids (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Pids (task)")
}

// CloseIO of a process
func (s *stTaskService) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("closeio (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("CloseIO (task)")
}

// Checkpoint the container
func (s *stTaskService) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("checkpoint (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Checkpoint (task)")
}

// Connect returns shim information of the underlying service
func (s *stTaskService) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	log.G(ctx).Debug("connect (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	return &taskAPI.ConnectResponse{
		ShimPid: uint32(os.Getpid()),
		TaskPid: uint32(t.pid),
	}, nil
}

// Shutdown is called after the underlying resources of the shim are cleaned up and the service can be stopped
func (s *stTaskService) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("shutdown (service)")
	s.shutdown.Shutdown()
	return &ptypes.Empty{}, nil
}

// Stats are not collected; an empty payload keeps `ctr task metrics` happy.
func (s *stTaskService) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	log.G(ctx).Debug("stats (service)")
	return &taskAPI.StatsResponse{
		Stats: &anypb.Any{},
	}, nil
}

// Update the live container
func (s *stTaskService) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("update (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Update (task)")
}

// Wait for a process to exit
func (s *stTaskService) Wait(ctx context.Context, r *taskAPI.WaitRequest) (*taskAPI.WaitResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("wait (service)")

	done, err := s.doneContext(r.ID)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done.Done():
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, fmt.Errorf("task was removed: %w", err)
	}

	return &taskAPI.WaitResponse{
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}
