package containersvc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostyard/kapsule/internal/incusapi"
	"github.com/frostyard/kapsule/internal/operation"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeBackend is a minimal in-memory Incus stand-in tracking one
// instance's lifecycle, enough to exercise CreateContainer end to end
// without a real backend.
type fakeBackend struct {
	instances map[string]map[string]any
	profiles  map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		instances: map[string]map[string]any{},
		profiles:  map[string]bool{},
	}
}

func (b *fakeBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/1.0/profiles/"+BaseProfileName:
			if b.profiles[BaseProfileName] {
				writeJSON(w, 200, map[string]any{"type": "sync", "status": "Success", "metadata": map[string]any{"name": BaseProfileName}})
				return
			}
			writeJSON(w, 404, map[string]any{"type": "error", "error": "not found", "error_code": 404})

		case r.Method == http.MethodPost && r.URL.Path == "/1.0/profiles":
			b.profiles[BaseProfileName] = true
			writeJSON(w, 200, map[string]any{"type": "sync", "status": "Success"})

		case r.Method == http.MethodGet && r.URL.Path == "/1.0/instances/box":
			inst, ok := b.instances["box"]
			if !ok {
				writeJSON(w, 404, map[string]any{"type": "error", "error": "not found", "error_code": 404})
				return
			}
			writeJSON(w, 200, map[string]any{"type": "sync", "status": "Success", "metadata": inst})

		case r.Method == http.MethodPost && r.URL.Path == "/1.0/instances":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			b.instances["box"] = map[string]any{
				"name":   "box",
				"status": "Stopped",
				"config": body["config"],
			}
			writeJSON(w, 202, map[string]any{
				"type": "async", "status": "Operation created", "status_code": 100,
				"operation": "/1.0/operations/create-op",
				"metadata":  map[string]any{"id": "create-op", "status": "Running"},
			})

		case r.URL.Path == "/1.0/operations/create-op/wait":
			writeJSON(w, 200, map[string]any{"type": "sync", "status": "Success", "metadata": map[string]any{"id": "create-op", "status": "Success"}})

		case r.Method == http.MethodPut && r.URL.Path == "/1.0/instances/box/state":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if action, _ := body["action"].(string); action == "start" {
				b.instances["box"]["status"] = "Running"
			} else if action == "stop" {
				b.instances["box"]["status"] = "Stopped"
			}
			writeJSON(w, 202, map[string]any{
				"type": "async", "status": "Operation created", "status_code": 100,
				"operation": "/1.0/operations/state-op",
				"metadata":  map[string]any{"id": "state-op", "status": "Running"},
			})

		case r.URL.Path == "/1.0/operations/state-op/wait":
			writeJSON(w, 200, map[string]any{"type": "sync", "status": "Success", "metadata": map[string]any{"id": "state-op", "status": "Success"}})

		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	}
}

func newTestService(t *testing.T) (*Service, *fakeBackend) {
	t.Helper()

	backend := newFakeBackend()

	dir := t.TempDir()
	sockPath := filepath.Join(dir, "incus.socket")

	listener, err := net.Listen("unix", sockPath)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(backend.handler())
	srv.Listener = listener
	srv.Start()
	t.Cleanup(srv.Close)

	client := incusapi.NewUnixClient(sockPath, nil)

	return New(client, nil, nil, "incus"), backend
}

func TestCreateContainerEndToEnd(t *testing.T) {
	svc, backend := newTestService(t)
	engine := operation.New(nil)

	op := engine.Start(context.Background(), "create", "box",
		svc.CreateContainer("box", "images:archlinux", false, false, ""))

	sub, unsub := op.Subscribe()
	defer unsub()

	var last operation.Event
	deadline := time.After(2 * time.Second)

loop:
	for {
		select {
		case ev := <-sub:
			last = ev
			if ev.Completed != nil {
				break loop
			}
		case <-deadline:
			t.Fatal("timed out waiting for CreateContainer to complete")
		}
	}

	require.NotNil(t, last.Completed)
	assert.True(t, last.Completed.Success, "error: %s", last.Completed.Error)
	assert.Equal(t, operation.StatusCompleted, op.Status())
	assert.True(t, backend.profiles[BaseProfileName])
	assert.Equal(t, "Running", backend.instances["box"]["status"])
}

func TestCreateContainerRejectsBadName(t *testing.T) {
	svc, _ := newTestService(t)
	engine := operation.New(nil)

	op := engine.Start(context.Background(), "create", "1bad",
		svc.CreateContainer("1bad", "images:archlinux", false, false, ""))

	sub, unsub := op.Subscribe()
	defer unsub()

	ev := <-sub
	for ev.Completed == nil {
		ev = <-sub
	}

	assert.False(t, ev.Completed.Success)
	assert.Contains(t, ev.Completed.Error, "InvalidArgument")
}
