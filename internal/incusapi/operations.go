package incusapi

import (
	"context"
	"fmt"
	"time"
)

// ProgressFunc receives a raw metadata snapshot each time the backend
// operation's progress changes. Delivery is best-effort: if the event
// stream cannot be reached, Wait still succeeds via the wait endpoint alone.
type ProgressFunc func(meta map[string]any)

// OpHandle is a BackendOpHandle (spec.md §3): a handle to an asynchronous
// Incus operation, created when a request returns an async envelope.
type OpHandle struct {
	client *Client
	id     string
	url    string
	done   bool
}

// ID returns the backend-assigned operation id, or "" for an
// already-synchronous handle.
func (h *OpHandle) ID() string { return h.id }

// Wait blocks until the backend operation reaches a terminal state,
// forwarding progress metadata to onProgress (which may be nil). It
// follows the operation's wait endpoint, per spec.md §4.1, and honors the
// 120-second ceiling from spec.md §5 unless the caller's context carries
// a shorter deadline.
func (h *OpHandle) Wait(ctx context.Context, onProgress ProgressFunc) (*Operation, error) {
	if h.done {
		return &Operation{Status: "Success", StatusCode: 200}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	if onProgress != nil {
		stop := h.client.streamProgress(ctx, h.id, onProgress)
		defer stop()
	}

	op, err := h.client.WaitOperation(ctx, h.id, 120)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ErrTimeout{OperationID: h.id}
		}

		return nil, err
	}

	return op, nil
}

// GetOperation fetches an operation's current metadata without blocking.
func (c *Client) GetOperation(ctx context.Context, id string) (*Operation, error) {
	var op Operation
	if err := c.request(ctx, "GET", "/1.0/operations/"+queryEscape(id), nil, &op); err != nil {
		return nil, err
	}

	return &op, nil
}

// WaitOperation blocks on the backend's /wait endpoint until the operation
// reaches a terminal state or timeout elapses. It is idempotent: calling
// it again on an already-terminal operation returns immediately.
func (c *Client) WaitOperation(ctx context.Context, id string, timeoutSeconds int) (*Operation, error) {
	path := fmt.Sprintf("/1.0/operations/%s/wait?timeout=%d", queryEscape(id), timeoutSeconds)

	var op Operation
	if err := c.request(ctx, "GET", path, nil, &op); err != nil {
		return nil, err
	}

	return &op, nil
}

// streamProgress subscribes to the operation's progress via the events
// websocket (mirroring lxc-incus/client/incus_events.go's listener
// pattern) and forwards metadata updates until ctx is cancelled. The
// returned func stops the subscription; streamProgress never blocks the
// caller and swallows connection errors since progress is best-effort.
func (c *Client) streamProgress(ctx context.Context, operationID string, onProgress ProgressFunc) func() {
	subCtx, cancel := context.WithCancel(ctx)

	listener, err := c.subscribeEvents(subCtx, operationID)
	if err != nil {
		cancel()
		return func() {}
	}

	go func() {
		defer listener.Close()
		for {
			select {
			case <-subCtx.Done():
				return
			case meta, ok := <-listener.Metadata:
				if !ok {
					return
				}

				onProgress(meta)
			}
		}
	}()

	return cancel
}
