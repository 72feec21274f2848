package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/casadock/casadock/internal/gate"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var composeFileNames = []string{"compose.yaml", "compose.yml", "docker-compose.yml", "docker-compose.yaml"}

const minimalCompose = "services:\n  app:\n    image: nginx:alpine\n"

func setupRegistry(t *testing.T) (*Registry, string, *gate.Gate) {
	t.Helper()
	root := t.TempDir()
	g := gate.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(root, composeFileNames, nil, g, logger), root, g
}

func TestCreateResolveDelete(t *testing.T) {
	reg, root, _ := setupRegistry(t)

	st, err := reg.Create("media", minimalCompose)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if st.Dir != filepath.Join(root, "media") {
		t.Fatalf("stack dir = %q", st.Dir)
	}
	if st.ComposeFile != "compose.yaml" {
		t.Fatalf("compose file = %q, want first recognized name", st.ComposeFile)
	}
	data, err := os.ReadFile(st.ComposePath())
	if err != nil || string(data) != minimalCompose {
		t.Fatalf("compose content on disk: %q, %v", data, err)
	}

	if _, err := reg.Create("media", minimalCompose); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create: want ErrAlreadyExists, got %v", err)
	}

	if err := reg.Delete(context.Background(), "media"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reg.Resolve("media"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("resolve after delete: want ErrNotFound, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "media")); !os.IsNotExist(err) {
		t.Fatal("stack directory should be gone")
	}
}

func TestCreateRejectsInvalidCompose(t *testing.T) {
	reg, root, _ := setupRegistry(t)
	if _, err := reg.Create("media", "volumes:\n  data: {}\n"); err == nil {
		t.Fatal("compose without services should be rejected")
	}
	if _, err := os.Stat(filepath.Join(root, "media")); !os.IsNotExist(err) {
		t.Fatal("rejected create must not leave a directory behind")
	}
}

func TestValidateNameRejections(t *testing.T) {
	reg, _, _ := setupRegistry(t)
	for _, name := range []string{
		"", ".", "..", ".hidden",
		"a/b", "../escape", "a/../b",
		"a b", "a\tb", "a\nb", "stack!",
	} {
		if err := reg.ValidateName(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("name %q: want ErrInvalidName, got %v", name, err)
		}
	}
}

func TestSymlinkEscapeRejected(t *testing.T) {
	reg, root, _ := setupRegistry(t)

	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "compose.yaml"), []byte(minimalCompose), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "escapee")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if err := reg.ValidateName("escapee"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("symlinked name: want ErrInvalidName, got %v", err)
	}
	if _, err := reg.Resolve("escapee"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("resolve through symlink: want ErrInvalidName, got %v", err)
	}
}

func TestListSkipsNonStacks(t *testing.T) {
	reg, root, _ := setupRegistry(t)

	if _, err := reg.Create("media", minimalCompose); err != nil {
		t.Fatal(err)
	}
	// A directory without a compose file is not a stack.
	if err := os.Mkdir(filepath.Join(root, "notes"), 0755); err != nil {
		t.Fatal(err)
	}
	// Hidden directories and plain files are never scanned.
	if err := os.Mkdir(filepath.Join(root, ".trash"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	stacks, err := reg.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stacks) != 1 || stacks[0].Name != "media" {
		t.Fatalf("list = %+v, want only media", stacks)
	}
	if stacks[0].Status != "unknown" {
		t.Fatalf("status without a daemon = %q, want unknown", stacks[0].Status)
	}
}

func TestComposeFilePriority(t *testing.T) {
	reg, root, _ := setupRegistry(t)

	dir := filepath.Join(root, "legacy")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"docker-compose.yml", "compose.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(minimalCompose), 0644); err != nil {
			t.Fatal(err)
		}
	}

	st, err := reg.Resolve("legacy")
	if err != nil {
		t.Fatal(err)
	}
	if st.ComposeFile != "compose.yaml" {
		t.Fatalf("compose file = %q, want the earlier candidate", st.ComposeFile)
	}
}

func TestEnvFileDetection(t *testing.T) {
	reg, _, _ := setupRegistry(t)
	st, err := reg.Create("media", minimalCompose)
	if err != nil {
		t.Fatal(err)
	}
	if st.HasEnv {
		t.Fatal("fresh stack should have no env file")
	}
	if err := os.WriteFile(filepath.Join(st.Dir, ".env"), []byte("TZ=UTC\n"), 0600); err != nil {
		t.Fatal(err)
	}
	st, err = reg.Resolve("media")
	if err != nil {
		t.Fatal(err)
	}
	if !st.HasEnv {
		t.Fatal("env file should be detected")
	}
}

func TestDeleteBusyStack(t *testing.T) {
	reg, _, g := setupRegistry(t)
	if _, err := reg.Create("media", minimalCompose); err != nil {
		t.Fatal(err)
	}

	if !g.TryAcquire("media") {
		t.Fatal("setup: gate acquire failed")
	}
	if err := reg.Delete(context.Background(), "media"); !errors.Is(err, ErrBusy) {
		t.Fatalf("delete while held: want ErrBusy, got %v", err)
	}
	g.Release("media")

	if err := reg.Delete(context.Background(), "media"); err != nil {
		t.Fatalf("delete after release: %v", err)
	}
}

func TestDeleteInvokesTeardownBeforeRemoval(t *testing.T) {
	reg, _, g := setupRegistry(t)
	st, err := reg.Create("media", minimalCompose)
	if err != nil {
		t.Fatal(err)
	}

	var tornDown string
	reg.Teardown = func(ctx context.Context, s *Stack) {
		tornDown = s.Name
		// The directory must still exist while teardown runs.
		if _, err := os.Stat(s.Dir); err != nil {
			t.Errorf("stack dir gone during teardown: %v", err)
		}
		// The gate is held for the whole delete.
		if !g.Held(s.Name) {
			t.Error("gate not held during teardown")
		}
	}

	if err := reg.Delete(context.Background(), "media"); err != nil {
		t.Fatal(err)
	}
	if tornDown != "media" {
		t.Fatalf("teardown stack = %q", tornDown)
	}
	if _, err := os.Stat(st.Dir); !os.IsNotExist(err) {
		t.Fatal("stack directory should be removed after teardown")
	}
}

func TestPropertyNamesStayInsideRoot(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("valid names create and resolve inside the root", prop.ForAll(
		func(name string) bool {
			reg, root, _ := setupRegistry(t)
			st, err := reg.Create(name, minimalCompose)
			if err != nil {
				return false
			}
			rel, err := filepath.Rel(root, st.Dir)
			if err != nil || rel != name {
				return false
			}
			resolved, err := reg.Resolve(name)
			return err == nil && resolved.Dir == st.Dir
		},
		gen.RegexMatch(`[a-z][a-z0-9_-]{0,15}`),
	))

	properties.Property("names with separators or traversal are rejected", prop.ForAll(
		func(a, sep, b string) bool {
			reg, _, _ := setupRegistry(t)
			err := reg.ValidateName(a + sep + b)
			return errors.Is(err, ErrInvalidName)
		},
		gen.RegexMatch(`[a-z][a-z0-9]{0,8}`),
		gen.OneConstOf("/", "/../", " ", "\t"),
		gen.RegexMatch(`[a-z][a-z0-9]{0,8}`),
	))

	properties.Property("leading-dot names are rejected", prop.ForAll(
		func(suffix string) bool {
			reg, _, _ := setupRegistry(t)
			return errors.Is(reg.ValidateName("."+suffix), ErrInvalidName)
		},
		gen.RegexMatch(`[a-z0-9.]{0,10}`),
	))

	properties.TestingRun(t)
}

func TestStatusOfUnknownStack(t *testing.T) {
	reg, _, _ := setupRegistry(t)
	if _, err := reg.StatusOf(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestResolveDirMatchesResolve(t *testing.T) {
	reg, _, _ := setupRegistry(t)
	st, err := reg.Create("media", minimalCompose)
	if err != nil {
		t.Fatal(err)
	}
	sd, err := reg.ResolveDir("media")
	if err != nil {
		t.Fatal(err)
	}
	if sd.Dir != st.Dir || sd.ComposeFile != st.ComposeFile || sd.Name != st.Name {
		t.Fatalf("ResolveDir = %+v, stack = %+v", sd, st)
	}
}

func TestCreateManyThenListAll(t *testing.T) {
	reg, _, _ := setupRegistry(t)
	names := []string{"alpha", "beta", "gamma"}
	for _, n := range names {
		if _, err := reg.Create(n, minimalCompose); err != nil {
			t.Fatalf("create %s: %v", n, err)
		}
	}
	stacks, err := reg.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	found := make(map[string]bool)
	for _, st := range stacks {
		found[st.Name] = true
	}
	if len(stacks) != len(names) {
		t.Fatalf("list returned %d stacks, want %d", len(stacks), len(names))
	}
	for _, n := range names {
		if !found[n] {
			t.Errorf("stack %s missing from list", n)
		}
	}
}
