package shim

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"
	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/errdefs"

	"github.com/MarcinKonowalczyk/screwtape/utils"
)

type fakeShutdown struct {
	calls atomic.Int32
}

func (f *fakeShutdown) Shutdown() {
	f.calls.Add(1)
}

func newTestService() (*stTaskService, *fakeShutdown) {
	sd := &fakeShutdown{}
	return &stTaskService{tasks: map[string]*task{}, shutdown: sd}, sd
}

// addTask registers a task with a running pid and returns the function that
// marks it done.
func addTask(s *stTaskService, id string) (*task, context.CancelFunc) {
	done, markDone := context.WithCancel(context.Background())
	t := &task{pid: os.Getpid(), done: done, stdout: "/run/" + id + "/stdout"}
	s.tasks[id] = t
	return t, markDone
}

// startShell starts a short lived process for finalize to wait on.
func startShell(t *testing.T, script string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", script)
	utils.AssertNoError(t, cmd.Start())
	return cmd
}

func TestService_MissingTask(t *testing.T) {
	s, _ := newTestService()
	ctx := t.Context()

	_, err := s.State(ctx, &taskAPI.StateRequest{ID: "nope"})
	utils.AssertErrorIs(t, err, errdefs.IsNotFound)
	_, err = s.Start(ctx, &taskAPI.StartRequest{ID: "nope"})
	utils.AssertErrorIs(t, err, errdefs.IsNotFound)
	_, err = s.Delete(ctx, &taskAPI.DeleteRequest{ID: "nope"})
	utils.AssertErrorIs(t, err, errdefs.IsNotFound)
	_, err = s.Wait(ctx, &taskAPI.WaitRequest{ID: "nope"})
	utils.AssertErrorIs(t, err, errdefs.IsNotFound)
	_, err = s.Kill(ctx, &taskAPI.KillRequest{ID: "nope"})
	utils.AssertErrorIs(t, err, errdefs.IsNotFound)
	_, err = s.Connect(ctx, &taskAPI.ConnectRequest{ID: "nope"})
	utils.AssertErrorIs(t, err, errdefs.IsNotFound)
}

func TestService_CreateExisting(t *testing.T) {
	s, _ := newTestService()
	addTask(s, "a")
	_, err := s.Create(t.Context(), &taskAPI.CreateTaskRequest{ID: "a", Bundle: t.TempDir()})
	utils.AssertErrorIs(t, err, errdefs.IsAlreadyExists)
}

func TestService_CreateBadBundle(t *testing.T) {
	s, _ := newTestService()
	_, err := s.Create(t.Context(), &taskAPI.CreateTaskRequest{ID: "a", Bundle: t.TempDir()})
	utils.AssertError(t, err)
	utils.AssertEqual(t, len(s.tasks), 0)
}

func TestService_StateAndDelete(t *testing.T) {
	s, _ := newTestService()
	ctx := t.Context()
	tk, markDone := addTask(s, "a")

	state, err := s.State(ctx, &taskAPI.StateRequest{ID: "a"})
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, state.Status, tasktypes.Status_RUNNING)
	utils.AssertEqual(t, state.Stdout, "/run/a/stdout")

	_, err = s.Delete(ctx, &taskAPI.DeleteRequest{ID: "a"})
	utils.AssertErrorIs(t, err, errdefs.IsFailedPrecondition)

	tk.exitStatus = 3
	markDone()

	state, err = s.State(ctx, &taskAPI.StateRequest{ID: "a"})
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, state.Status, tasktypes.Status_STOPPED)
	utils.AssertEqual(t, state.ExitStatus, uint32(3))

	deleted, err := s.Delete(ctx, &taskAPI.DeleteRequest{ID: "a"})
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, deleted.ExitStatus, uint32(3))
	_, err = s.State(ctx, &taskAPI.StateRequest{ID: "a"})
	utils.AssertErrorIs(t, err, errdefs.IsNotFound)
}

func TestService_Wait(t *testing.T) {
	s, _ := newTestService()
	tk, markDone := addTask(s, "a")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := s.Wait(ctx, &taskAPI.WaitRequest{ID: "a"})
	utils.AssertErrorIs(t, err, func(err error) bool { return errors.Is(err, context.Canceled) })

	tk.exitStatus = 7
	markDone()
	resp, err := s.Wait(t.Context(), &taskAPI.WaitRequest{ID: "a"})
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, resp.ExitStatus, uint32(7))
}

func TestService_KillExited(t *testing.T) {
	s, _ := newTestService()
	_, markDone := addTask(s, "a")
	markDone()
	_, err := s.Kill(t.Context(), &taskAPI.KillRequest{ID: "a", Signal: uint32(syscall.SIGTERM)})
	utils.AssertNoError(t, err)
}

func TestFinalize(t *testing.T) {
	s, sd := newTestService()
	ctx := t.Context()
	first, markFirst := addTask(s, "a")
	second, markSecond := addTask(s, "b")

	s.finalize(ctx, "a", startShell(t, "exit 3"), markFirst)
	utils.Assert(t, first.exited(), "Expected the first task to be done")
	utils.AssertEqual(t, first.exitStatus, 3)
	utils.AssertEqual(t, sd.calls.Load(), int32(0))

	s.finalize(ctx, "b", startShell(t, "kill -9 $$"), markSecond)
	utils.Assert(t, second.exited(), "Expected the second task to be done")
	utils.AssertEqual(t, second.exitStatus, exitCodeSignal+int(syscall.SIGKILL))
	utils.AssertEqual(t, sd.calls.Load(), int32(1))
}

func TestFinalize_RemovedTask(t *testing.T) {
	s, sd := newTestService()
	marked := false
	s.finalize(t.Context(), "gone", startShell(t, "exit 0"), func() { marked = true })
	utils.Assert(t, marked, "Expected the done context to be released")
	utils.AssertEqual(t, sd.calls.Load(), int32(0))
}

func TestTask_String(t *testing.T) {
	s, _ := newTestService()
	tk, markDone := addTask(s, "a")
	tk.pid = 42
	utils.AssertEqual(t, tk.String(), "pid:42 running")
	markDone()
	utils.Assert(t, tk.String() != "pid:42 running", "Expected an exited task to report its status")
}

func TestConnectStdio_NoFifos(t *testing.T) {
	cmd := exec.Command("/bin/true")
	stdio, err := connectStdio(t.Context(), cmd, &task{})
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, len(stdio.fifos), 0)
	utils.Assert(t, cmd.Stdin == nil, "Expected stdin to stay unconnected")
	utils.Assert(t, cmd.Stdout == nil, "Expected stdout to stay unconnected")
}

// mkfifo creates a fifo and keeps a read-write handle on it, so opening the
// other end does not block.
func mkfifo(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	utils.AssertNoError(t, syscall.Mkfifo(path, 0600))
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	utils.AssertNoError(t, err)
	t.Cleanup(func() { f.Close() })
	return path
}

func TestConnectStdio_NoStdin(t *testing.T) {
	cmd := exec.Command("/bin/true")
	tk := &task{stdout: mkfifo(t, "stdout")}
	stdio, err := connectStdio(t.Context(), cmd, tk)
	utils.AssertNoError(t, err)
	defer stdio.Close()

	utils.AssertEqual(t, tk.stderr, tk.stdout)
	utils.AssertEqual(t, len(stdio.fifos), 2)
	utils.AssertEqual(t, len(stdio.pumps), 2)
	utils.Assert(t, cmd.Stdin == nil, "Expected stdin to stay unconnected")
}

func TestConnectStdio_NotAFifo(t *testing.T) {
	plain := filepath.Join(t.TempDir(), "stderr")
	utils.AssertNoError(t, os.WriteFile(plain, nil, 0644))

	cmd := exec.Command("/bin/true")
	stdio, err := connectStdio(t.Context(), cmd, &task{stdout: mkfifo(t, "stdout"), stderr: plain})
	utils.AssertError(t, err)
	utils.Assert(t, stdio == nil, "Expected no stdio on error")
}

func TestStdio_Close(t *testing.T) {
	cmd := exec.Command("/bin/true")
	stdio, err := connectStdio(t.Context(), cmd, &task{stdout: mkfifo(t, "stdout")})
	utils.AssertNoError(t, err)
	utils.AssertNoError(t, stdio.Close())
	utils.AssertEqual(t, len(stdio.fifos), 0)
	// Closing twice is harmless.
	utils.AssertNoError(t, stdio.Close())
}
