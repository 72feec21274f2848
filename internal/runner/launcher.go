package runner

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Handle is a started external process: a live line stream plus its exit.
type Handle interface {
	// Lines yields merged stdout/stderr in production order. The channel
	// is closed when the process's output ends.
	Lines() <-chan string
	// Wait blocks until the process exits and returns its exit code.
	// A negative code with a non-nil error means the process did not
	// produce a normal exit status.
	Wait() (int, error)
	// Terminate signals the whole process group, escalating to SIGKILL
	// if it does not exit promptly.
	Terminate()
}

// Launcher starts external commands. The orchestration logic only ever
// talks to this interface, so tests substitute a scripted fake.
type Launcher interface {
	Launch(ctx context.Context, dir, name string, args ...string) (Handle, error)
}

// killGrace is how long Terminate waits after SIGTERM before SIGKILL.
const killGrace = 10 * time.Second

// ExecLauncher runs real processes with os/exec.
type ExecLauncher struct{}

// Launch starts the command in its own process group with stderr merged
// into stdout. Context cancellation terminates the process group.
func (ExecLauncher) Launch(ctx context.Context, dir, name string, args ...string) (Handle, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	// Own process group so Terminate reaches children, not just the parent.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout // merge stderr into stdout

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &execHandle{
		cmd:      cmd,
		lines:    make(chan string, 256),
		scanDone: make(chan struct{}),
		exited:   make(chan struct{}),
	}

	go func() {
		defer close(h.lines)
		defer close(h.scanDone)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
		for scanner.Scan() {
			h.lines <- scanner.Text()
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			h.Terminate()
		case <-h.scanDone:
		}
	}()

	return h, nil
}

type execHandle struct {
	cmd      *exec.Cmd
	lines    chan string
	scanDone chan struct{}
	exited   chan struct{} // closed once cmd.Wait has returned
	termOnce sync.Once
	exitOnce sync.Once
}

func (h *execHandle) Lines() <-chan string { return h.lines }

func (h *execHandle) Wait() (int, error) {
	<-h.scanDone // drain output before reaping, Wait closes the pipe
	err := h.cmd.Wait()
	h.exitOnce.Do(func() { close(h.exited) })
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (h *execHandle) Terminate() {
	h.termOnce.Do(func() {
		pid := h.cmd.Process.Pid
		syscall.Kill(-pid, syscall.SIGTERM)
		go func() {
			select {
			case <-h.exited:
			case <-time.After(killGrace):
				syscall.Kill(-pid, syscall.SIGKILL)
			}
		}()
	})
}
