// Package composefile guards every read and write of a stack's compose and
// environment files: content is validated before it touches disk, the
// previous version is snapshotted before each write, and replacement is
// always temp-write-then-rename so the target file is never half-written.
package composefile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/casadock/casadock/internal/gate"
)

var (
	// ErrInvalidContent means the content failed syntactic validation.
	ErrInvalidContent = errors.New("invalid content")
	// ErrNotFound means the requested file or snapshot does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrBusy means an operation currently holds the stack's gate.
	ErrBusy = errors.New("stack is busy")
)

// Kind selects which of a stack's guarded files an operation targets.
type Kind string

const (
	KindCompose Kind = "compose"
	KindEnv     Kind = "env"
)

// ParseKind converts a request string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCompose, KindEnv:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown file kind %q", s)
	}
}

// EnvFileName is the environment file every stack may carry.
const EnvFileName = ".env"

// backupDirName is the per-stack directory holding snapshots.
const backupDirName = ".backups"

// snapshotTimeLayout names backup files so they sort chronologically.
const snapshotTimeLayout = "20060102-150405.000000000"

// StackDir locates a stack's files on disk.
type StackDir struct {
	Name        string // stack name
	Dir         string // absolute stack directory
	ComposeFile string // compose filename within Dir
}

// Path returns the absolute path of the guarded file of the given kind.
func (s StackDir) Path(kind Kind) string {
	if kind == KindEnv {
		return filepath.Join(s.Dir, EnvFileName)
	}
	return filepath.Join(s.Dir, s.ComposeFile)
}

// Resolver locates stacks by name. The registry implements it; the guard
// never constructs stack paths on its own.
type Resolver interface {
	ResolveDir(name string) (StackDir, error)
}

// Snapshot describes one immutable backup copy.
type Snapshot struct {
	ID   string    `json:"id"`   // backup filename, e.g. "20240101-..._compose.yaml"
	File string    `json:"file"` // original filename
	Time time.Time `json:"time"`
	Size int64     `json:"size"`
}

// Guard performs validated, snapshotted, atomic file operations for stacks.
// Writes and restores go through the same per-stack gate as lifecycle
// commands, so an edit never lands while a run is in flight and two edits
// never interleave their snapshot and rename steps.
type Guard struct {
	resolver Resolver
	gate     *gate.Gate
	keep     int
	logger   *slog.Logger
}

// NewGuard creates a Guard retaining the last keep snapshots per stack.
func NewGuard(resolver Resolver, g *gate.Gate, keep int, logger *slog.Logger) *Guard {
	if keep < 1 {
		keep = 1
	}
	return &Guard{resolver: resolver, gate: g, keep: keep, logger: logger}
}

// ReadFile returns the current content of a stack's compose or env file.
func (g *Guard) ReadFile(stack string, kind Kind) (string, error) {
	sd, err := g.resolver.ResolveDir(stack)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(sd.Path(kind))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, kind)
		}
		return "", err
	}
	return string(data), nil
}

// WriteFile validates content, snapshots the existing file, and atomically
// replaces it. The snapshot exists on disk strictly before the new content
// becomes visible. It fails with ErrBusy while an operation holds the
// stack's gate.
func (g *Guard) WriteFile(stack string, kind Kind, content string) error {
	sd, err := g.resolver.ResolveDir(stack)
	if err != nil {
		return err
	}
	if err := validate(kind, content); err != nil {
		return err
	}

	if !g.gate.TryAcquire(sd.Name) {
		return fmt.Errorf("%w: %q", ErrBusy, sd.Name)
	}
	defer g.gate.Release(sd.Name)

	target := sd.Path(kind)
	if _, err := g.snapshot(sd, target); err != nil {
		return err
	}
	if err := WriteFileAtomic(target, []byte(content), fileMode(kind)); err != nil {
		return err
	}
	g.rotate(sd)
	return nil
}

// RestoreFile replaces the current file with a snapshot's content. The
// pre-restore state is snapshotted first, so a restore is itself undoable.
// It fails with ErrBusy while an operation holds the stack's gate.
func (g *Guard) RestoreFile(stack string, kind Kind, snapshotID string) error {
	sd, err := g.resolver.ResolveDir(stack)
	if err != nil {
		return err
	}
	if snapshotID != filepath.Base(snapshotID) || strings.HasPrefix(snapshotID, ".") {
		return fmt.Errorf("%w: snapshot %q", ErrNotFound, snapshotID)
	}

	data, err := os.ReadFile(filepath.Join(sd.Dir, backupDirName, snapshotID))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: snapshot %q", ErrNotFound, snapshotID)
		}
		return err
	}
	if err := validate(kind, string(data)); err != nil {
		return err
	}

	if !g.gate.TryAcquire(sd.Name) {
		return fmt.Errorf("%w: %q", ErrBusy, sd.Name)
	}
	defer g.gate.Release(sd.Name)

	target := sd.Path(kind)
	if _, err := g.snapshot(sd, target); err != nil {
		return err
	}
	if err := WriteFileAtomic(target, data, fileMode(kind)); err != nil {
		return err
	}
	g.rotate(sd)
	return nil
}

// ListBackups returns a stack's snapshots, newest first.
func (g *Guard) ListBackups(stack string) ([]Snapshot, error) {
	sd, err := g.resolver.ResolveDir(stack)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(sd.Dir, backupDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return []Snapshot{}, nil
		}
		return nil, err
	}

	snaps := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stamp, file, found := strings.Cut(e.Name(), "_")
		if !found {
			continue
		}
		ts, err := time.Parse(snapshotTimeLayout, stamp)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{ID: e.Name(), File: file, Time: ts, Size: info.Size()})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID > snaps[j].ID })
	return snaps, nil
}

// snapshot copies the target file into the backup directory. A missing
// target (first write) produces no snapshot and no error. The returned ID
// is empty in that case.
func (g *Guard) snapshot(sd StackDir, target string) (string, error) {
	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read for snapshot: %w", err)
	}

	backupDir := filepath.Join(sd.Dir, backupDirName)
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	id := time.Now().UTC().Format(snapshotTimeLayout) + "_" + filepath.Base(target)
	if err := os.WriteFile(filepath.Join(backupDir, id), data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return id, nil
}

// rotate evicts the oldest snapshots beyond the retention cap.
func (g *Guard) rotate(sd StackDir) {
	snaps, err := g.ListBackups(sd.Name)
	if err != nil {
		g.logger.Warn("backup rotation skipped", "stack", sd.Name, "err", err)
		return
	}
	for _, old := range snaps[min(g.keep, len(snaps)):] {
		if err := os.Remove(filepath.Join(sd.Dir, backupDirName, old.ID)); err != nil {
			g.logger.Warn("evict snapshot failed", "stack", sd.Name, "snapshot", old.ID, "err", err)
		}
	}
}

func validate(kind Kind, content string) error {
	if kind == KindEnv {
		return ValidateEnv(content)
	}
	return ValidateCompose(content)
}

func fileMode(kind Kind) os.FileMode {
	if kind == KindEnv {
		return 0600
	}
	return 0644
}
