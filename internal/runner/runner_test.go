package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/casadock/casadock/internal/config"
	"github.com/casadock/casadock/internal/gate"
	"github.com/casadock/casadock/internal/registry"
)

const minimalCompose = "services:\n  app:\n    image: nginx:alpine\n"

// fakeHandle is a scripted process: a fixed output script, then an exit.
type fakeHandle struct {
	lines      chan string
	exitCode   int
	waitErr    error
	feedDone   chan struct{}
	terminated chan struct{}
	termOnce   sync.Once
}

func (h *fakeHandle) Lines() <-chan string { return h.lines }

func (h *fakeHandle) Wait() (int, error) {
	<-h.feedDone
	return h.exitCode, h.waitErr
}

func (h *fakeHandle) Terminate() {
	h.termOnce.Do(func() { close(h.terminated) })
}

// fakeLauncher yields scripted handles instead of real processes.
type fakeLauncher struct {
	script   []string
	interval time.Duration
	exitCode int
	waitErr  error
	spawnErr error
	hang     bool // after the script, wait for Terminate or ctx before exiting

	mu    sync.Mutex
	calls [][]string
}

func (l *fakeLauncher) Launch(ctx context.Context, dir, name string, args ...string) (Handle, error) {
	l.mu.Lock()
	l.calls = append(l.calls, append([]string{name}, args...))
	l.mu.Unlock()

	if l.spawnErr != nil {
		return nil, l.spawnErr
	}
	h := &fakeHandle{
		lines:      make(chan string),
		exitCode:   l.exitCode,
		waitErr:    l.waitErr,
		feedDone:   make(chan struct{}),
		terminated: make(chan struct{}),
	}
	go func() {
		defer close(h.feedDone)
		defer close(h.lines)
		for _, line := range l.script {
			if l.interval > 0 {
				time.Sleep(l.interval)
			}
			h.lines <- line
		}
		if l.hang {
			select {
			case <-h.terminated:
			case <-ctx.Done():
			}
		}
	}()
	return h, nil
}

func (l *fakeLauncher) lastCall() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.calls) == 0 {
		return nil
	}
	return l.calls[len(l.calls)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		UpTimeout:      5 * time.Second,
		DownTimeout:    5 * time.Second,
		RestartTimeout: 5 * time.Second,
		PullTimeout:    5 * time.Second,
	}
}

func setupRunner(t *testing.T, launcher Launcher, cfg *config.Config) (*Runner, *gate.Gate) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := gate.New()
	reg := registry.New(t.TempDir(), []string{"compose.yaml"}, nil, g, logger)
	if _, err := reg.Create("media", minimalCompose); err != nil {
		t.Fatalf("create stack: %v", err)
	}
	return New(reg, g, launcher, cfg, logger), g
}

func collect(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestRunStreamsAndSucceeds(t *testing.T) {
	launcher := &fakeLauncher{
		script:   []string{"pulling app", "starting app", "done"},
		interval: 10 * time.Millisecond,
	}
	rn, _ := setupRunner(t, launcher, testConfig())

	run, err := rn.Run("media", KindUp, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	ch, unsubscribe := run.Subscribe()
	defer unsubscribe()

	events := collect(ch)
	want := []Event{
		{Type: "line", Line: "pulling app"},
		{Type: "line", Line: "starting app"},
		{Type: "line", Line: "done"},
		{Type: "end", Status: "succeeded:0"},
	}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %+v, want %+v", events, want)
	}
	if run.State() != StateSucceeded {
		t.Fatalf("state = %q", run.State())
	}
}

func TestLateSubscriberReplaysEverything(t *testing.T) {
	launcher := &fakeLauncher{script: []string{"pulling", "starting", "done"}}
	rn, _ := setupRunner(t, launcher, testConfig())

	run, err := rn.Run("media", KindUp, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-run.Done()

	// Subscribing after completion still yields every line, in order,
	// then the terminal event.
	ch, unsubscribe := run.Subscribe()
	defer unsubscribe()
	events := collect(ch)

	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(events), events)
	}
	for i, line := range []string{"pulling", "starting", "done"} {
		if events[i].Type != "line" || events[i].Line != line {
			t.Fatalf("event %d = %+v, want line %q", i, events[i], line)
		}
	}
	if last := events[3]; last.Type != "end" || last.Status != "succeeded:0" {
		t.Fatalf("terminal event = %+v", last)
	}
}

func TestMidRunSubscriberSeesEarlierLines(t *testing.T) {
	launcher := &fakeLauncher{
		script:   []string{"pulling", "starting", "done"},
		interval: 60 * time.Millisecond,
	}
	rn, _ := setupRunner(t, launcher, testConfig())

	run, err := rn.Run("media", KindUp, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Join while the run is producing output.
	time.Sleep(150 * time.Millisecond)
	ch, unsubscribe := run.Subscribe()
	defer unsubscribe()

	events := collect(ch)
	want := []Event{
		{Type: "line", Line: "pulling"},
		{Type: "line", Line: "starting"},
		{Type: "line", Line: "done"},
		{Type: "end", Status: "succeeded:0"},
	}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %+v, want %+v", events, want)
	}
}

func TestConcurrentRunsRejectedWhileBusy(t *testing.T) {
	launcher := &fakeLauncher{hang: true}
	rn, g := setupRunner(t, launcher, testConfig())

	run, err := rn.Run("media", KindUp, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !g.Held("media") {
		t.Fatal("gate should be held during the run")
	}

	if _, err := rn.Run("media", KindPull, nil); !errors.Is(err, registry.ErrBusy) {
		t.Fatalf("second run: want ErrBusy, got %v", err)
	}

	if err := rn.Cancel(run.ID); err != nil {
		t.Fatal(err)
	}
	<-run.Done()
	if run.State() != StateCancelled {
		t.Fatalf("state after cancel = %q", run.State())
	}

	// The gate is free by the time the run is observably terminal.
	if g.Held("media") {
		t.Fatal("gate still held after Done")
	}
	if _, err := rn.Run("media", KindPull, nil); err != nil {
		t.Fatalf("run after release: %v", err)
	}
}

func TestFailureCarriesExitCode(t *testing.T) {
	launcher := &fakeLauncher{script: []string{"error: port in use"}, exitCode: 2}
	rn, _ := setupRunner(t, launcher, testConfig())

	run, err := rn.Run("media", KindUp, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-run.Done()

	if run.State() != StateFailed {
		t.Fatalf("state = %q", run.State())
	}
	if run.StatusLabel() != "failed:2" {
		t.Fatalf("status label = %q", run.StatusLabel())
	}
	if snap := run.Snapshot(); snap.Status != "failed:2" || snap.Lines != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSpawnFailureIsExecutionError(t *testing.T) {
	launcher := &fakeLauncher{spawnErr: errors.New("exec: docker not found")}
	rn, g := setupRunner(t, launcher, testConfig())

	run, err := rn.Run("media", KindUp, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-run.Done()

	if run.State() != StateExecError {
		t.Fatalf("state = %q, want execution-error", run.State())
	}
	if g.Held("media") {
		t.Fatal("gate still held after Done")
	}
}

func TestWaitFailureIsExecutionError(t *testing.T) {
	launcher := &fakeLauncher{waitErr: errors.New("wait: no child"), exitCode: -1}
	rn, _ := setupRunner(t, launcher, testConfig())

	run, err := rn.Run("media", KindUp, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-run.Done()
	if run.State() != StateExecError {
		t.Fatalf("state = %q", run.State())
	}
}

func TestTimeoutCancelsRun(t *testing.T) {
	launcher := &fakeLauncher{hang: true}
	cfg := testConfig()
	cfg.UpTimeout = 50 * time.Millisecond
	rn, g := setupRunner(t, launcher, cfg)

	run, err := rn.Run("media", KindUp, nil)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not terminate on timeout")
	}
	if run.State() != StateCancelled {
		t.Fatalf("state after timeout = %q", run.State())
	}
	if g.Held("media") {
		t.Fatal("gate still held after Done")
	}
}

func TestComposedCommandLine(t *testing.T) {
	launcher := &fakeLauncher{}
	rn, _ := setupRunner(t, launcher, testConfig())

	run, err := rn.Run("media", KindUp, []string{"--build", "app"})
	if err != nil {
		t.Fatal(err)
	}
	<-run.Done()

	want := []string{"docker", "compose", "-f", "compose.yaml", "up", "-d", "--remove-orphans", "--build", "app"}
	if got := launcher.lastCall(); !reflect.DeepEqual(got, want) {
		t.Fatalf("command = %v, want %v", got, want)
	}
}

func TestExtraArgScreening(t *testing.T) {
	rn, _ := setupRunner(t, &fakeLauncher{}, testConfig())

	for _, args := range [][]string{
		{"--rm"},
		{"-v"},
		{"--file=/etc/passwd"},
		{"app; rm -rf /"},
		{"$(whoami)"},
	} {
		if _, err := rn.Run("media", KindUp, args); !errors.Is(err, ErrInvalidArgs) {
			t.Errorf("args %v: want ErrInvalidArgs, got %v", args, err)
		}
	}

	// Allowed flags and bare service names pass.
	run, err := rn.Run("media", KindUp, []string{"--force-recreate", "db"})
	if err != nil {
		t.Fatalf("allowed args rejected: %v", err)
	}
	<-run.Done()
}

func TestRunUnknownStack(t *testing.T) {
	rn, _ := setupRunner(t, &fakeLauncher{}, testConfig())
	if _, err := rn.Run("ghost", KindUp, nil); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGetUnknownRun(t *testing.T) {
	rn, _ := setupRunner(t, &fakeLauncher{}, testConfig())
	if _, err := rn.Get("no-such-id"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("want ErrRunNotFound, got %v", err)
	}
	if err := rn.Cancel("no-such-id"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("cancel: want ErrRunNotFound, got %v", err)
	}
}

func TestParseKindRejectsUnknown(t *testing.T) {
	for _, s := range []string{"up", "down", "restart", "pull"} {
		if _, err := ParseKind(s); err != nil {
			t.Errorf("%q: %v", s, err)
		}
	}
	if _, err := ParseKind("exec"); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("want ErrInvalidArgs, got %v", err)
	}
}

func TestDownSyncBypassesGate(t *testing.T) {
	launcher := &fakeLauncher{}
	rn, g := setupRunner(t, launcher, testConfig())

	// Simulates the delete path: the caller already holds the gate.
	g.TryAcquire("media")
	defer g.Release("media")

	st, err := rn.reg.Resolve("media")
	if err != nil {
		t.Fatal(err)
	}
	rn.DownSync(context.Background(), st)

	want := []string{"docker", "compose", "-f", "compose.yaml", "down", "--remove-orphans"}
	if got := launcher.lastCall(); !reflect.DeepEqual(got, want) {
		t.Fatalf("command = %v, want %v", got, want)
	}
	if !g.Held("media") {
		t.Fatal("DownSync must not release the caller's gate")
	}
}

func TestRingBufferEvictsButCounts(t *testing.T) {
	script := make([]string, maxBufferedLines+50)
	for i := range script {
		script[i] = "line"
	}
	launcher := &fakeLauncher{script: script}
	rn, _ := setupRunner(t, launcher, testConfig())

	run, err := rn.Run("media", KindUp, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-run.Done()

	if snap := run.Snapshot(); snap.Lines != len(script) {
		t.Fatalf("snapshot lines = %d, want total produced %d", snap.Lines, len(script))
	}
	if tail := run.Tail(maxBufferedLines + 100); len(tail) != maxBufferedLines {
		t.Fatalf("retained lines = %d, want cap %d", len(tail), maxBufferedLines)
	}
}

func TestExecLauncherMergesStreamsAndExitCode(t *testing.T) {
	handle, err := ExecLauncher{}.Launch(context.Background(), t.TempDir(),
		"sh", "-c", "echo out; echo err 1>&2; exit 3")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	var lines []string
	for line := range handle.Lines() {
		lines = append(lines, line)
	}
	code, waitErr := handle.Wait()
	if waitErr != nil {
		t.Fatalf("wait: %v", waitErr)
	}
	if code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}

	seen := make(map[string]bool)
	for _, l := range lines {
		seen[l] = true
	}
	if !seen["out"] || !seen["err"] {
		t.Fatalf("lines = %v, want both stdout and stderr", lines)
	}
}

func TestSlowSubscriberDetachedWithoutEndEvent(t *testing.T) {
	r := newRun("r1", "plex", KindUp)
	ch, _ := r.Subscribe()

	// Fill the subscriber's buffer past capacity without consuming; the
	// overflowing line detaches it.
	for i := 0; i < subscriberBuffer+2; i++ {
		r.appendLine(fmt.Sprintf("line %d", i))
	}

	sawEnd := false
	received := 0
	for ev := range ch {
		received++
		if ev.Type == "end" {
			sawEnd = true
		}
	}
	if sawEnd {
		t.Fatal("detached subscriber must not receive an end event")
	}
	if received == 0 {
		t.Fatal("subscriber should have received buffered lines before detaching")
	}

	// The run is unaffected; a fresh subscriber replays everything and
	// gets the terminal event last.
	r.finish(StateSucceeded, 0)
	fresh, _ := r.Subscribe()
	var events []Event
	for ev := range fresh {
		events = append(events, ev)
	}
	if len(events) != subscriberBuffer+3 {
		t.Fatalf("replay delivered %d events, want %d lines plus end",
			len(events), subscriberBuffer+2)
	}
	last := events[len(events)-1]
	if last.Type != "end" || last.Status != "succeeded:0" {
		t.Fatalf("last event = %+v, want terminal status", last)
	}
}

func TestExecLauncherTerminateStopsProcess(t *testing.T) {
	handle, err := ExecLauncher{}.Launch(context.Background(), t.TempDir(),
		"sh", "-c", "sleep 30")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	handle.Terminate()
	handle.Terminate() // idempotent

	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		for range handle.Lines() {
		}
		code, waitErr := handle.Wait()
		done <- result{code, waitErr}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("wait: %v", res.err)
		}
		if res.code == 0 {
			t.Fatal("terminated process reported a clean exit")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("terminated process did not exit promptly")
	}
}
