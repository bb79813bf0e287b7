package operation

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/frostyard/kapsule/internal/logging"
)

// Engine is the process-wide Operation arena described in spec.md §4.2
// and §7 ("Cyclic references between Operations and the Engine"):
// Operations hold only their id, the engine owns the table. There is
// exactly one Engine per daemon process.
type Engine struct {
	mu      sync.Mutex
	ops     map[string]*Operation
	counter uint64
	log     logging.Logger
}

// New builds an empty Engine.
func New(log logging.Logger) *Engine {
	if log == nil {
		log = logging.Discard()
	}

	return &Engine{
		ops: make(map[string]*Operation),
		log: log.AddContext(logging.Ctx{"component": "operation"}),
	}
}

// Start assigns an id, publishes the Operation into the arena in
// Pending, then runs work concurrently and transitions it to Running.
// It returns the Operation immediately — callers publish it on the bus
// and return its path to the client before work necessarily completes,
// satisfying the "path exists when the reply arrives" guarantee in
// spec.md §5.
func (e *Engine) Start(parent context.Context, opType, target string, work Work) *Operation {
	ctx, cancel := context.WithCancel(parent)

	e.mu.Lock()
	e.counter++
	id := strconv.FormatUint(e.counter, 10)
	e.mu.Unlock()

	op := &Operation{
		id:      id,
		opType:  opType,
		target:  target,
		status:  StatusPending,
		created: time.Now(),
		cancel:  cancel,
		log:     e.log,
	}

	e.mu.Lock()
	e.ops[id] = op
	e.mu.Unlock()

	op.setStatus(StatusRunning, "")

	go e.run(ctx, op, work)

	return op
}

func (e *Engine) run(ctx context.Context, op *Operation, work Work) {
	report := &reporter{op: op}

	err := work(ctx, report)

	success := err == nil
	errMsg := ""

	switch {
	case success:
		op.setStatus(StatusCompleted, "")
	case report.Cancelled():
		errMsg = "operation cancelled"
		if err != nil {
			errMsg = err.Error()
		}
		op.setStatus(StatusCancelled, errMsg)
	default:
		errMsg = err.Error()
		op.setStatus(StatusFailed, errMsg)
	}

	op.emit(Event{Completed: &Completed{Success: success, Error: errMsg}})

	e.log.Debug("operation finished", logging.Ctx{
		"operation": op.id,
		"type":      op.opType,
		"target":    op.target,
		"status":    string(op.Status()),
	})

	e.lingerAndRemove(op)
}

// lingerAndRemove keeps a terminal Operation in the arena for Linger so
// slow subscribers can still read its final state, then removes it.
func (e *Engine) lingerAndRemove(op *Operation) {
	go func() {
		time.Sleep(Linger)

		e.mu.Lock()
		delete(e.ops, op.id)
		e.mu.Unlock()

		e.log.Debug("operation removed", logging.Ctx{"operation": op.id})
	}()
}

// Get looks up a live (not yet lingered-out) Operation by id.
func (e *Engine) Get(id string) (*Operation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	op, ok := e.ops[id]
	return op, ok
}

// List returns every currently-tracked Operation (Running or lingering
// in a terminal state).
func (e *Engine) List() []*Operation {
	e.mu.Lock()
	defer e.mu.Unlock()

	ops := make([]*Operation, 0, len(e.ops))
	for _, op := range e.ops {
		ops = append(ops, op)
	}

	return ops
}

// CancelAll arms the cancellation token on every live Operation, used
// during daemon shutdown per spec.md §7's teardown order.
func (e *Engine) CancelAll() {
	for _, op := range e.List() {
		op.Cancel()
	}
}

// AwaitAllTerminal blocks until every currently-tracked Operation has
// reached a terminal state or the deadline elapses, used by shutdown to
// give cancelled work items a short window to unwind before the bus
// connection and backend socket are torn down.
func (e *Engine) AwaitAllTerminal(deadline time.Duration) {
	end := time.Now().Add(deadline)

	for time.Now().Before(end) {
		pending := false
		for _, op := range e.List() {
			if !op.Status().Terminal() {
				pending = true
				break
			}
		}

		if !pending {
			return
		}

		time.Sleep(20 * time.Millisecond)
	}
}
