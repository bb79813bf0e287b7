// Package operation implements the daemon's asynchronous work-item
// engine: every user-facing method that mutates container state runs as
// an Operation, with its own progress stream, cancellation token, and
// exported lifecycle that the Service Facade publishes on the bus.
package operation

import (
	"context"
	"sync"
	"time"

	"github.com/frostyard/kapsule/internal/logging"
)

// Status is an Operation's position in its state machine.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// Terminal reports whether the status ends the Operation's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// MessageKind is the severity/category of a single progress Message,
// mirroring the ProgressReporter contract in spec.md §4.2.
type MessageKind int

const (
	MessageInfo MessageKind = iota
	MessageSuccess
	MessageWarning
	MessageError
	MessageDim
	MessageHint
)

// Linger is how long a terminal Operation stays exported on the bus
// before the engine removes it, giving slow subscribers a window to
// observe the final state.
const Linger = 5 * time.Second

// Message is one emitted event on an Operation's progress stream.
type Message struct {
	Kind   MessageKind
	Text   string
	Indent int
}

// ProgressStarted opens a named, possibly-indeterminate sub-progress.
type ProgressStarted struct {
	ID          string
	Description string
	Total       uint64
	Indent      int
}

// ProgressUpdate reports a sub-progress's current value.
type ProgressUpdate struct {
	ID      string
	Current uint64
	Rate    float64
}

// ProgressCompleted closes a sub-progress.
type ProgressCompleted struct {
	ID      string
	Success bool
	Message string
}

// Completed is the single terminal event every Operation emits exactly
// once, always last.
type Completed struct {
	Success bool
	Error   string
}

// Event is the union type delivered to subscribers. Exactly one field is
// non-nil.
type Event struct {
	Message           *Message
	ProgressStarted   *ProgressStarted
	ProgressUpdate    *ProgressUpdate
	ProgressCompleted *ProgressCompleted
	Completed         *Completed
}

// Reporter is the interface work items use to narrate their progress.
// Every method is safe for concurrent use: each one takes the
// Operation's lock, so concurrent callers are serialized and subscribers
// still see a single total order of events.
type Reporter interface {
	Info(text string, indent ...int)
	Success(text string, indent ...int)
	Warning(text string, indent ...int)
	Error(text string, indent ...int)
	Dim(text string, indent ...int)
	Hint(text string, indent ...int)

	ProgressStart(id, description string, total uint64, indent ...int)
	ProgressUpdate(id string, current uint64, rate ...float64)
	ProgressEnd(id string, success bool, message ...string)

	// Cancelled reports whether the Operation's cancellation token has
	// been armed. Work items must poll this at their natural suspension
	// points (between backend calls, between progress phases) and
	// unwind cooperatively when it returns true.
	Cancelled() bool
}

// Work is the function a caller supplies to run under the engine. It
// receives a context cancelled when the Operation's token is armed, and
// a Reporter to narrate progress. Its error becomes the Operation's
// Failed/Completion error; a nil error with ctx not cancelled means
// success; returning ctx.Err() (or any error once Cancelled() is true)
// is treated as a cancellation rather than a failure.
type Work func(ctx context.Context, report Reporter) error

// Operation is one user-facing unit of work, exported on the bus at a
// path the Service Facade assigns. All exported methods are safe for
// concurrent use.
type Operation struct {
	id     string
	opType string
	target string

	mu       sync.Mutex
	status   Status
	err      string
	created  time.Time
	subs     map[int]chan Event
	nextSub  int
	cancel   context.CancelFunc
	cancelled bool

	log logging.Logger
}

// ID returns the Operation's process-unique id.
func (o *Operation) ID() string { return o.id }

// Type returns the work-item tag ("create", "delete", "start", "stop",
// "enter", ...).
func (o *Operation) Type() string { return o.opType }

// Target returns the container name the Operation acts on.
func (o *Operation) Target() string { return o.target }

// Status returns the Operation's current state.
func (o *Operation) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Error returns the recorded failure message, empty unless Status is
// Failed or Cancelled.
func (o *Operation) Error() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// CreatedAt returns when the Operation was constructed.
func (o *Operation) CreatedAt() time.Time { return o.created }

// Cancel arms the cancellation token. A no-op once the Operation has
// reached a terminal state, per spec.md §4.2.
func (o *Operation) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status.Terminal() {
		return
	}

	o.cancelled = true
	if o.cancel != nil {
		o.cancel()
	}
}

// Subscribe registers a new event listener and returns its channel plus
// an unsubscribe function. The channel is buffered; a slow subscriber
// that falls behind drops events rather than blocking the Operation.
func (o *Operation) Subscribe() (<-chan Event, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan Event, 64)
	id := o.nextSub
	o.nextSub++

	if o.subs == nil {
		o.subs = make(map[int]chan Event)
	}
	o.subs[id] = ch

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
	}
}

// emit delivers an event to every current subscriber, serialized by o.mu
// so subscribers observe a total order for this Operation (spec.md
// §4.2's concurrency contract). Non-blocking: a full subscriber channel
// drops the event instead of stalling the work item.
func (o *Operation) emit(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, ch := range o.subs {
		select {
		case ch <- ev:
		default:
			o.log.Warn("subscriber channel full, dropping event", logging.Ctx{"operation": o.id})
		}
	}
}

func (o *Operation) setStatus(s Status, errMsg string) {
	o.mu.Lock()
	o.status = s
	o.err = errMsg
	o.mu.Unlock()
}
