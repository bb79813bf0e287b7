package operation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan Event, timeout time.Duration) []Event {
	t.Helper()

	var events []Event
	deadline := time.After(timeout)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
			if ev.Completed != nil {
				return events
			}
		case <-deadline:
			t.Fatal("timed out waiting for Completed event")
			return nil
		}
	}
}

func TestEngineSuccessLifecycle(t *testing.T) {
	engine := New(nil)

	op := engine.Start(context.Background(), "create", "box", func(ctx context.Context, report Reporter) error {
		report.Info("building spec")
		report.Success("instance created")
		return nil
	})

	assert.Equal(t, "create", op.Type())
	assert.Equal(t, "box", op.Target())

	sub, unsub := op.Subscribe()
	defer unsub()

	events := drain(t, sub, time.Second)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	require.NotNil(t, last.Completed)
	assert.True(t, last.Completed.Success)
	assert.Equal(t, StatusCompleted, op.Status())
}

func TestEngineFailure(t *testing.T) {
	engine := New(nil)
	boom := errors.New("backend exploded")

	op := engine.Start(context.Background(), "start", "box", func(ctx context.Context, report Reporter) error {
		return boom
	})

	sub, unsub := op.Subscribe()
	defer unsub()

	events := drain(t, sub, time.Second)
	last := events[len(events)-1]
	require.NotNil(t, last.Completed)
	assert.False(t, last.Completed.Success)
	assert.Contains(t, last.Completed.Error, "backend exploded")
	assert.Equal(t, StatusFailed, op.Status())
}

func TestEngineCancellation(t *testing.T) {
	engine := New(nil)
	started := make(chan struct{})

	op := engine.Start(context.Background(), "delete", "box", func(ctx context.Context, report Reporter) error {
		close(started)

		for !report.Cancelled() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}

		return ctx.Err()
	})

	<-started
	op.Cancel()

	sub, unsub := op.Subscribe()
	defer unsub()

	events := drain(t, sub, time.Second)
	last := events[len(events)-1]
	require.NotNil(t, last.Completed)
	assert.False(t, last.Completed.Success)
	assert.Equal(t, StatusCancelled, op.Status())
}

func TestCancelAfterTerminalIsNoop(t *testing.T) {
	engine := New(nil)

	op := engine.Start(context.Background(), "stop", "box", func(ctx context.Context, report Reporter) error {
		return nil
	})

	sub, unsub := op.Subscribe()
	defer unsub()
	drain(t, sub, time.Second)

	require.Equal(t, StatusCompleted, op.Status())

	op.Cancel()
	assert.Equal(t, StatusCompleted, op.Status())
}

func TestEngineAssignsDistinctIds(t *testing.T) {
	engine := New(nil)

	op1 := engine.Start(context.Background(), "create", "a", func(ctx context.Context, report Reporter) error { return nil })
	op2 := engine.Start(context.Background(), "create", "b", func(ctx context.Context, report Reporter) error { return nil })

	assert.NotEqual(t, op1.ID(), op2.ID())

	got, ok := engine.Get(op1.ID())
	require.True(t, ok)
	assert.Same(t, op1, got)
}
