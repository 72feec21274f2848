package runner

import (
	"fmt"
	"sync"
	"time"
)

// State is a run's lifecycle position. Terminal states are reached exactly
// once and never left.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateExecError State = "execution-error"
	StateCancelled State = "cancelled"
)

// Event is one item delivered to a run's subscribers. A "line" event carries
// one output line; the final "end" event carries the terminal status and is
// always last.
type Event struct {
	Type   string `json:"type"` // "line" or "end"
	Line   string `json:"line,omitempty"`
	Status string `json:"status,omitempty"`
}

// maxBufferedLines bounds the replay buffer; oldest lines are evicted first.
const maxBufferedLines = 2000

// subscriberBuffer is each subscriber's channel capacity. A subscriber that
// falls this far behind is detached; it can re-subscribe and replay.
const subscriberBuffer = 1024

// Run is one invocation of a lifecycle command against a stack.
type Run struct {
	ID        string    `json:"id"`
	Stack     string    `json:"stack"`
	Kind      Kind      `json:"kind"`
	StartedAt time.Time `json:"started_at"`

	mu        sync.Mutex
	state     State
	exitCode  int
	lines     []string
	evicted   int
	subs      map[int]chan Event
	nextSubID int
	done      chan struct{}
	terminate func() // signals the process group; nil until launched
	cancelled bool   // an explicit cancel or timeout was requested
}

func newRun(id, stack string, kind Kind) *Run {
	return &Run{
		ID:        id,
		Stack:     stack,
		Kind:      kind,
		StartedAt: time.Now(),
		state:     StateRunning,
		subs:      make(map[int]chan Event),
		done:      make(chan struct{}),
	}
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// StatusLabel renders the terminal status, carrying the exit code for
// completed commands (e.g. "failed:1").
func (r *Run) StatusLabel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLabelLocked()
}

func (r *Run) statusLabelLocked() string {
	switch r.state {
	case StateSucceeded:
		return "succeeded:0"
	case StateFailed:
		return fmt.Sprintf("failed:%d", r.exitCode)
	default:
		return string(r.state)
	}
}

// State returns the current lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Tail returns up to n of the most recent output lines.
func (r *Run) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.lines) {
		n = len(r.lines)
	}
	tail := make([]string, n)
	copy(tail, r.lines[len(r.lines)-n:])
	return tail
}

// Info is the JSON view of a run.
type Info struct {
	ID        string    `json:"id"`
	Stack     string    `json:"stack"`
	Kind      Kind      `json:"kind"`
	StartedAt time.Time `json:"started_at"`
	Status    string    `json:"status"`
	Lines     int       `json:"lines"`
}

// Snapshot returns the run's current JSON view.
func (r *Run) Snapshot() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		ID:        r.ID,
		Stack:     r.Stack,
		Kind:      r.Kind,
		StartedAt: r.StartedAt,
		Status:    r.statusLabelLocked(),
		Lines:     r.evicted + len(r.lines),
	}
}

// Subscribe registers a consumer. Already-produced lines are replayed first,
// then new events arrive as produced; the terminal "end" event is always
// last, after which the channel is closed. The returned func detaches the
// subscriber without affecting the run.
//
// A channel that closes without an "end" event means the subscriber fell
// behind and was detached; re-subscribing replays the buffered lines and
// picks the stream back up.
func (r *Run) Subscribe() (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan Event, subscriberBuffer+len(r.lines)+1)
	for _, line := range r.lines {
		ch <- Event{Type: "line", Line: line}
	}

	if r.state != StateRunning {
		ch <- Event{Type: "end", Status: r.statusLabelLocked()}
		close(ch)
		return ch, func() {}
	}

	id := r.nextSubID
	r.nextSubID++
	r.subs[id] = ch

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// appendLine records one output line and delivers it to subscribers in
// production order.
func (r *Run) appendLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines = append(r.lines, line)
	if len(r.lines) > maxBufferedLines {
		r.lines = r.lines[1:]
		r.evicted++
	}
	r.broadcastLocked(Event{Type: "line", Line: line})
}

// finish moves the run to a terminal state exactly once, emits the final
// status event, and closes every subscriber channel.
func (r *Run) finish(state State, exitCode int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return
	}
	r.state = state
	r.exitCode = exitCode

	r.broadcastLocked(Event{Type: "end", Status: r.statusLabelLocked()})
	for id, sub := range r.subs {
		delete(r.subs, id)
		close(sub)
	}
	close(r.done)
}

// broadcastLocked delivers an event to all subscribers. A subscriber whose
// buffer is full is detached rather than blocking the producer: its channel
// closes without an "end" event, which tells the consumer to re-subscribe.
func (r *Run) broadcastLocked(ev Event) {
	for id, sub := range r.subs {
		select {
		case sub <- ev:
		default:
			delete(r.subs, id)
			close(sub)
		}
	}
}

// Cancel requests termination of the run's process group. It is a no-op
// once the run is terminal.
func (r *Run) Cancel() {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	terminate := r.terminate
	r.mu.Unlock()

	if terminate != nil {
		terminate()
	}
}

// setTerminate registers the process terminator. A cancel that raced in
// before the process was launched fires immediately.
func (r *Run) setTerminate(fn func()) {
	r.mu.Lock()
	cancelled := r.cancelled
	r.terminate = fn
	r.mu.Unlock()
	if cancelled {
		fn()
	}
}

func (r *Run) wasCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}
