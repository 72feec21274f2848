// Package runner executes compose lifecycle commands against stacks,
// serialized per stack through the gate, with live output streaming.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/casadock/casadock/internal/config"
	"github.com/casadock/casadock/internal/gate"
	"github.com/casadock/casadock/internal/registry"
	"github.com/google/uuid"
)

var (
	// ErrInvalidArgs means the command kind or extra arguments were rejected.
	ErrInvalidArgs = errors.New("invalid command arguments")
	// ErrRunNotFound means no run with that id is retained.
	ErrRunNotFound = errors.New("run not found")
)

// Kind is a lifecycle command.
type Kind string

const (
	KindUp      Kind = "up"
	KindDown    Kind = "down"
	KindRestart Kind = "restart"
	KindPull    Kind = "pull"
)

// ParseKind converts a request string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindUp, KindDown, KindRestart, KindPull:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown command %q", ErrInvalidArgs, s)
	}
}

// verbs maps each kind to its compose arguments.
var verbs = map[Kind][]string{
	KindUp:      {"up", "-d", "--remove-orphans"},
	KindDown:    {"down"},
	KindRestart: {"restart"},
	KindPull:    {"pull"},
}

// allowedFlags are the only extra flags callers may pass through.
var allowedFlags = map[string]bool{
	"--build":          true,
	"--force-recreate": true,
	"--no-deps":        true,
	"--pull":           true,
	"--quiet-pull":     true,
	"--remove-orphans": true,
	"--volumes":        true,
}

// serviceNamePattern matches bare compose service names.
var serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// retention is how long completed runs stay queryable for late subscribers.
const retention = 5 * time.Minute

// Runner owns all operation runs.
type Runner struct {
	reg      *registry.Registry
	gate     *gate.Gate
	launcher Launcher
	cfg      *config.Config
	logger   *slog.Logger

	mu   sync.Mutex
	runs map[string]*Run
}

// New creates a Runner.
func New(reg *registry.Registry, g *gate.Gate, launcher Launcher, cfg *config.Config, logger *slog.Logger) *Runner {
	return &Runner{
		reg:      reg,
		gate:     g,
		launcher: launcher,
		cfg:      cfg,
		logger:   logger,
		runs:     make(map[string]*Run),
	}
}

// Run starts a lifecycle command against a stack. It rejects synchronously
// with registry.ErrBusy when the stack's gate is held, registry.ErrNotFound
// when the stack does not resolve, and ErrInvalidArgs for unsupported extra
// arguments. On acceptance the command executes in the background and the
// returned Run streams its output.
func (rn *Runner) Run(stackName string, kind Kind, extraArgs []string) (*Run, error) {
	st, err := rn.reg.Resolve(stackName)
	if err != nil {
		return nil, err
	}
	if _, ok := verbs[kind]; !ok {
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidArgs, kind)
	}
	if err := screenExtraArgs(extraArgs); err != nil {
		return nil, err
	}

	if !rn.gate.TryAcquire(st.Name) {
		return nil, fmt.Errorf("%w: %q", registry.ErrBusy, st.Name)
	}

	run := newRun(uuid.NewString(), st.Name, kind)
	rn.mu.Lock()
	rn.runs[run.ID] = run
	rn.mu.Unlock()

	args := append([]string{"compose", "-f", st.ComposeFile}, verbs[kind]...)
	args = append(args, extraArgs...)

	go rn.execute(run, st.Dir, args, rn.cfg.Timeout(string(kind)))
	return run, nil
}

// Get returns a retained run by id.
func (rn *Runner) Get(id string) (*Run, error) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	run, ok := rn.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRunNotFound, id)
	}
	return run, nil
}

// Cancel terminates a run's process group and marks it cancelled.
func (rn *Runner) Cancel(id string) error {
	run, err := rn.Get(id)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// execute drives one run to its terminal state. The gate is released on
// every exit path, including a panic, and strictly before the run becomes
// observably terminal, so a caller woken by Done can start the next
// operation on the same stack immediately.
func (rn *Runner) execute(run *Run, dir string, args []string, timeout time.Duration) {
	state, exitCode := StateExecError, -1
	defer func() {
		if p := recover(); p != nil {
			rn.logger.Error("run panicked", "run", run.ID, "stack", run.Stack, "panic", p)
			state, exitCode = StateExecError, -1
		}
		rn.gate.Release(run.Stack)
		run.finish(state, exitCode)
		time.AfterFunc(retention, func() {
			rn.mu.Lock()
			delete(rn.runs, run.ID)
			rn.mu.Unlock()
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	handle, err := rn.launcher.Launch(ctx, dir, "docker", args...)
	if err != nil {
		// The tool could not even be launched. Loudly: this usually
		// means a misconfigured host, not a failing stack.
		rn.logger.Error("compose launch failed", "run", run.ID, "stack", run.Stack, "err", err)
		return
	}
	run.setTerminate(handle.Terminate)

	for line := range handle.Lines() {
		run.appendLine(line)
	}
	code, waitErr := handle.Wait()

	switch {
	case run.wasCancelled() || ctx.Err() != nil:
		state, exitCode = StateCancelled, code
	case waitErr != nil:
		rn.logger.Error("compose wait failed", "run", run.ID, "stack", run.Stack, "err", waitErr)
		state, exitCode = StateExecError, -1
	case code == 0:
		state, exitCode = StateSucceeded, 0
	default:
		rn.logger.Warn("compose command failed",
			"run", run.ID,
			"stack", run.Stack,
			"kind", run.Kind,
			"exit_code", code,
			"tail", run.Tail(20),
		)
		state, exitCode = StateFailed, code
	}
}

// DownSync runs "compose down" to completion without touching the gate.
// The caller must already hold the stack's gate; the registry uses this as
// its delete teardown.
func (rn *Runner) DownSync(ctx context.Context, st *registry.Stack) {
	ctx, cancel := context.WithTimeout(ctx, rn.cfg.DownTimeout)
	defer cancel()

	handle, err := rn.launcher.Launch(ctx, st.Dir, "docker", "compose", "-f", st.ComposeFile, "down", "--remove-orphans")
	if err != nil {
		rn.logger.Warn("teardown launch failed", "stack", st.Name, "err", err)
		return
	}
	for range handle.Lines() {
	}
	if code, err := handle.Wait(); err != nil || code != 0 {
		rn.logger.Warn("teardown did not complete cleanly", "stack", st.Name, "exit_code", code, "err", err)
	}
}

func screenExtraArgs(args []string) error {
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			if !allowedFlags[a] {
				return fmt.Errorf("%w: %q", ErrInvalidArgs, a)
			}
			continue
		}
		if !serviceNamePattern.MatchString(a) {
			return fmt.Errorf("%w: %q", ErrInvalidArgs, a)
		}
	}
	return nil
}
