package incusapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

// eventListener forwards one Incus operation's progress metadata, the way
// lxc-incus/client's EventListener forwards api.Event values from a single
// shared websocket connection.
type eventListener struct {
	conn     *websocket.Conn
	Metadata chan map[string]any
	done     chan struct{}
}

// Close stops the reader goroutine and waits for it to exit. Only the
// reader goroutine ever sends on or closes Metadata, so Close never
// races a send against a close: closing conn unblocks its pending
// ReadMessage (or its send select, which also watches ctx), and done is
// closed only after the goroutine has returned for good.
func (l *eventListener) Close() {
	if l.conn != nil {
		_ = l.conn.Close()
	}
	<-l.done
}

// rawEvent is the subset of Incus's api.Event the daemon cares about: the
// type tag and the operation-progress payload.
type rawEvent struct {
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata"`
}

// subscribeEvents opens the Incus /events websocket over the same Unix
// socket and returns a listener that only forwards metadata belonging to
// operationID. One websocket connection is opened per call; the daemon's
// call volume (one per in-flight backend operation) makes connection
// reuse unnecessary complexity here, unlike the teacher's multi-tenant
// remote client which amortizes it across many listeners.
func (c *Client) subscribeEvents(ctx context.Context, operationID string) (*eventListener, error) {
	dialer := &websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			raddr, err := net.ResolveUnixAddr("unix", c.socketPath)
			if err != nil {
				return nil, err
			}

			return net.DialUnix("unix", nil, raddr)
		},
	}

	header := http.Header{}

	conn, _, err := dialer.DialContext(ctx, "ws://unix.socket/1.0/events?type=operation", header)
	if err != nil {
		return nil, err
	}

	listener := &eventListener{conn: conn, Metadata: make(chan map[string]any, 16), done: make(chan struct{})}

	go func() {
		defer close(listener.done)
		defer close(listener.Metadata)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var ev rawEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}

			if ev.Type != "operation" {
				continue
			}

			id, _ := ev.Metadata["id"].(string)
			if id != operationID {
				continue
			}

			select {
			case listener.Metadata <- ev.Metadata:
			case <-ctx.Done():
				return
			}
		}
	}()

	return listener, nil
}
