// Package registry owns the catalog of compose stacks under a single root
// directory. Every other component addresses stacks by name and re-resolves
// through the registry; nothing else constructs stack paths.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/casadock/casadock/internal/composefile"
	"github.com/casadock/casadock/internal/docker"
	"github.com/casadock/casadock/internal/gate"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Stack is one directory containing a compose file.
type Stack struct {
	Name        string    `json:"name"`
	Dir         string    `json:"dir"`
	ComposeFile string    `json:"compose_file"` // filename within Dir
	HasEnv      bool      `json:"has_env"`
	ModTime     time.Time `json:"mod_time"`
	Status      string    `json:"status"` // running, stopped, partial, unknown
	Containers  int       `json:"containers"`
}

// ComposePath returns the absolute path of the stack's compose file.
func (s *Stack) ComposePath() string {
	return filepath.Join(s.Dir, s.ComposeFile)
}

// Registry scans and mutates the stack catalog.
type Registry struct {
	root         string
	composeFiles []string
	docker       *docker.Client
	gate         *gate.Gate
	logger       *slog.Logger

	// Teardown, when set, is invoked best-effort before a stack's
	// directory is removed (typically a compose down).
	Teardown func(ctx context.Context, st *Stack)
}

// New creates a Registry over the given root directory. composeFiles is the
// ordered list of recognized compose filenames; the first match wins.
func New(root string, composeFiles []string, dockerCli *docker.Client, g *gate.Gate, logger *slog.Logger) *Registry {
	return &Registry{
		root:         filepath.Clean(root),
		composeFiles: composeFiles,
		docker:       dockerCli,
		gate:         g,
		logger:       logger,
	}
}

// Root returns the registry root directory.
func (r *Registry) Root() string { return r.root }

// ValidateName checks the filesystem-safe token pattern and rejects names
// that could resolve outside the root.
func (r *Registry) ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return r.checkContainment(filepath.Join(r.root, name))
}

// checkContainment resolves symlinks and verifies the path stays inside the
// root. The walk ascends to the nearest existing ancestor so not-yet-created
// paths are checked against where they would actually land.
func (r *Registry) checkContainment(abs string) error {
	rootResolved, err := filepath.EvalSymlinks(r.root)
	if err != nil {
		rootResolved = r.root
	}

	check := abs
	for {
		resolved, err := filepath.EvalSymlinks(check)
		if err == nil {
			if resolved != rootResolved && !strings.HasPrefix(resolved+string(filepath.Separator), rootResolved+string(filepath.Separator)) {
				return fmt.Errorf("%w: path escapes registry root", ErrInvalidName)
			}
			return nil
		}
		parent := filepath.Dir(check)
		if parent == check {
			return nil // reached filesystem root without finding an existing ancestor
		}
		check = parent
	}
}

// Resolve returns the stack for a name, or ErrNotFound / ErrInvalidName.
func (r *Registry) Resolve(name string) (*Stack, error) {
	if err := r.ValidateName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(r.root, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	composeFile, ok := r.findComposeFile(dir)
	if !ok {
		return nil, fmt.Errorf("%w: %q has no compose file", ErrNotFound, name)
	}
	st := &Stack{
		Name:        name,
		Dir:         dir,
		ComposeFile: composeFile,
		ModTime:     info.ModTime(),
		Status:      "unknown",
	}
	if envInfo, err := os.Stat(filepath.Join(dir, composefile.EnvFileName)); err == nil && !envInfo.IsDir() {
		st.HasEnv = true
	}
	return st, nil
}

// ResolveDir implements composefile.Resolver.
func (r *Registry) ResolveDir(name string) (composefile.StackDir, error) {
	st, err := r.Resolve(name)
	if err != nil {
		return composefile.StackDir{}, err
	}
	return composefile.StackDir{Name: st.Name, Dir: st.Dir, ComposeFile: st.ComposeFile}, nil
}

// List scans the root and returns the stack catalog with live status.
// Directories without a recognized compose file are silently skipped;
// unreadable directories are skipped with a warning.
func (r *Registry) List(ctx context.Context) ([]*Stack, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("scan registry root: %w", err)
	}

	stacks := make([]*Stack, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(r.root, e.Name())
		if _, err := os.ReadDir(dir); err != nil {
			r.logger.Warn("skipping unreadable stack directory", "dir", dir, "err", err)
			continue
		}
		composeFile, ok := r.findComposeFile(dir)
		if !ok {
			continue
		}
		st := &Stack{Name: e.Name(), Dir: dir, ComposeFile: composeFile, Status: "unknown"}
		if info, err := e.Info(); err == nil {
			st.ModTime = info.ModTime()
		}
		if envInfo, err := os.Stat(filepath.Join(dir, composefile.EnvFileName)); err == nil && !envInfo.IsDir() {
			st.HasEnv = true
		}
		stacks = append(stacks, st)
	}

	r.enrichStatus(ctx, stacks)
	return stacks, nil
}

// Create makes a new stack directory with an initial compose file.
func (r *Registry) Create(name, composeContent string) (*Stack, error) {
	if err := r.ValidateName(name); err != nil {
		return nil, err
	}
	if err := composefile.ValidateCompose(composeContent); err != nil {
		return nil, err
	}

	dir := filepath.Join(r.root, name)
	if err := os.Mkdir(dir, 0755); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, name)
		}
		return nil, fmt.Errorf("create stack dir: %w", err)
	}

	composePath := filepath.Join(dir, r.composeFiles[0])
	if err := composefile.WriteFileAtomic(composePath, []byte(composeContent), 0644); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write compose file: %w", err)
	}

	r.logger.Info("stack created", "stack", name)
	return r.Resolve(name)
}

// Delete removes a stack's directory tree. It fails with ErrBusy while an
// operation holds the stack's gate, and holds the gate itself for the
// duration so no new operation starts mid-delete.
func (r *Registry) Delete(ctx context.Context, name string) error {
	st, err := r.Resolve(name)
	if err != nil {
		return err
	}
	if !r.gate.TryAcquire(name) {
		return fmt.Errorf("%w: %q", ErrBusy, name)
	}
	defer r.gate.Release(name)

	if r.Teardown != nil {
		r.Teardown(ctx, st)
	}

	if err := os.RemoveAll(st.Dir); err != nil {
		return fmt.Errorf("remove stack dir: %w", err)
	}
	r.logger.Info("stack deleted", "stack", name)
	return nil
}

func (r *Registry) findComposeFile(dir string) (string, bool) {
	for _, candidate := range r.composeFiles {
		info, err := os.Stat(filepath.Join(dir, candidate))
		if err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}
