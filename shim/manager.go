package shim

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	apitypes "github.com/containerd/containerd/api/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/log"
)

// https://pubs.opengroup.org/onlinepubs/9699919799/utilities/V3_chap02.html#tag_18_21_18
const exitCodeSignal = 128
const initPidFile = "screwtape.pid"

const runtimeVersion = "v0.1.0"

// comptime override for debug flag
// set with `-ldflags="-X 'github.com/MarcinKonowalczyk/screwtape/shim.debug=true'"`
var debug string

// Debug reports whether the binary was built with the debug override.
func Debug() bool {
	return debug != ""
}

type stManager struct {
	name string
}

func NewManager(name string) shim.Manager {
	return stManager{name: name}
}

var (
	_ = shim.Manager(&stManager{})
)

func (m stManager) Name() string {
	return m.name
}

// Start re-executes the shim binary as a long lived TTRPC server for the
// container and hands its socket back to containerd.
func (m stManager) Start(ctx context.Context, id string, opts shim.StartOpts) (shim.BootstrapParams, error) {
	log.G(ctx).WithField("id", id).Debug("start (manager)")

	self, err := os.Executable()
	if err != nil {
		return shim.BootstrapParams{}, fmt.Errorf("getting executable of current process: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return shim.BootstrapParams{}, fmt.Errorf("getting current working directory: %w", err)
	}

	var args []string
	if opts.Debug || Debug() {
		args = append(args, "-debug")
	}

	cmd, err := shim.Command(ctx, &shim.CommandConfig{
		Runtime:      self,
		Address:      opts.Address,
		TTRPCAddress: opts.TTRPCAddress,
		Path:         cwd,
		Args:         args,
	})
	if err != nil {
		return shim.BootstrapParams{}, fmt.Errorf("creating shim command: %w", err)
	}

	sockAddr, err := shim.SocketAddress(ctx, opts.Address, id, opts.Debug)
	if err != nil {
		return shim.BootstrapParams{}, fmt.Errorf("getting a socket address: %w", err)
	}

	socket, err := shim.NewSocket(sockAddr)
	if err != nil {
		return shim.BootstrapParams{}, fmt.Errorf("creating socket: %w", err)
	}

	sockF, err := socket.File()
	if err != nil {
		return shim.BootstrapParams{}, fmt.Errorf("getting shim socket file descriptor: %w", err)
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, sockF)

	if err := startLocked(cmd); err != nil {
		sockF.Close()
		return shim.BootstrapParams{}, fmt.Errorf("starting shim command: %w", err)
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				log.G(ctx).WithError(err).Errorf("failed to wait for shim process %d", cmd.Process.Pid)
			}
		}
	}()

	if err := shim.AdjustOOMScore(cmd.Process.Pid); err != nil {
		return shim.BootstrapParams{}, fmt.Errorf("adjusting shim process OOM score: %w", err)
	}

	return shim.BootstrapParams{
		Version:  2,
		Address:  sockAddr,
		Protocol: "ttrpc",
	}, nil
}

// The child inherits the locked thread's attributes.
func startLocked(cmd *exec.Cmd) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	return cmd.Start()
}

func (m stManager) Stop(ctx context.Context, id string) (shim.StopStatus, error) {
	log.G(ctx).WithField("id", id).Debug("stop (manager)")

	pid, err := readPidFile(id)
	if err != nil {
		return shim.StopStatus{}, fmt.Errorf("reading pid file: %w", err)
	}

	if pid > 0 && alive(pid) {
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			log.G(ctx).WithError(err).Warnf("failed to send kill syscall to init process %d", pid)
		}
	}

	return shim.StopStatus{
		Pid:        pid,
		ExitedAt:   time.Now(),
		ExitStatus: int(exitCodeSignal + syscall.SIGKILL),
	}, nil
}

func (m stManager) Info(ctx context.Context, optionsR io.Reader) (*apitypes.RuntimeInfo, error) {
	log.G(ctx).Debug("info (manager)")
	return &apitypes.RuntimeInfo{
		Name: m.name,
		Version: &apitypes.RuntimeVersion{
			Version: runtimeVersion,
		},
	}, nil
}

// The POSIX standard specifies that a null-signal can be sent to check
// whether a PID is valid.
func alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

func pidFilePath(id string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current working directory: %w", err)
	}
	return filepath.Join(filepath.Dir(cwd), id, initPidFile), nil
}

func readPidFile(id string) (int, error) {
	path, err := pidFilePath(id)
	if err != nil {
		return -1, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(string(data))
}

// If containerd needs to resort to calling the shim's "stop" command to
// clean things up, having the process' pid readable from a file is the
// only way for it to know what init process is associated with the task.
func writePidFile(id string, pid int) error {
	path, err := pidFilePath(id)
	if err != nil {
		return err
	}
	if err := shim.WritePidFile(path, pid); err != nil {
		return fmt.Errorf("writing pid file of init process: %w", err)
	}
	// rw-r--r--
	if err := os.Chmod(path, 0644); err != nil {
		return fmt.Errorf("changing pid file permissions: %w", err)
	}
	if err := os.Chown(path, 0, 0); err != nil {
		return fmt.Errorf("changing pid file ownership: %w", err)
	}
	return nil
}
