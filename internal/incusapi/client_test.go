package incusapi

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
)

// newTestServer starts an HTTP server listening on a Unix socket in a
// fresh temp dir and returns a Client pointed at it.
func newTestServer(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	dir := t.TempDir()
	sockPath := filepath.Join(dir, "incus.socket")

	listener, err := net.Listen("unix", sockPath)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(handler)
	srv.Listener = listener
	srv.Start()
	t.Cleanup(srv.Close)

	return NewUnixClient(sockPath, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListInstances(t *testing.T) {
	client := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1.0/instances", r.URL.Path)
		writeJSON(w, 200, map[string]any{
			"type":        "sync",
			"status":      "Success",
			"status_code": 200,
			"metadata": []map[string]any{
				{"name": "box1", "status": "Running"},
				{"name": "box2", "status": "Stopped"},
			},
		})
	}))

	instances, err := client.ListInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "box1", instances[0].Name)
	assert.Equal(t, "Stopped", instances[1].Status)
}

func TestGetInstanceNotFound(t *testing.T) {
	client := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 404, map[string]any{
			"type":       "error",
			"error":      "Instance not found",
			"error_code": 404,
		})
	}))

	_, err := client.GetInstance(context.Background(), "missing")
	require.Error(t, err)

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.True(t, be.NotFound())
}

func TestCreateInstanceWaitsOnOperation(t *testing.T) {
	var waited bool

	client := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/1.0/instances":
			writeJSON(w, 202, map[string]any{
				"type":        "async",
				"status":      "Operation created",
				"status_code": 100,
				"operation":   "/1.0/operations/op1",
				"metadata": map[string]any{
					"id":     "op1",
					"status": "Running",
				},
			})
		case r.URL.Path == "/1.0/operations/op1/wait":
			waited = true
			writeJSON(w, 200, map[string]any{
				"type":        "sync",
				"status":      "Success",
				"status_code": 200,
				"metadata": map[string]any{
					"id":     "op1",
					"status": "Success",
				},
			})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	handle, err := client.CreateInstance(context.Background(), InstancesPost{Name: "box"})
	require.NoError(t, err)
	assert.Equal(t, "op1", handle.ID())

	op, err := handle.Wait(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, waited)
	assert.Equal(t, "Success", op.Status)
	assert.True(t, op.Done())
}

func TestBackendErrorOnDelete(t *testing.T) {
	client := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 500, map[string]any{
			"type":       "error",
			"error":      "boom",
			"error_code": 500,
		})
	}))

	_, err := client.DeleteInstance(context.Background(), "box")
	require.Error(t, err)

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 500, be.StatusCode)
}

func TestPushAndPullFile(t *testing.T) {
	stored := map[string][]byte{}

	client := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")

		switch r.Method {
		case http.MethodPost:
			buf := make([]byte, r.ContentLength)
			_, _ = r.Body.Read(buf)
			stored[path] = buf
			w.WriteHeader(200)
		case http.MethodGet:
			data, ok := stored[path]
			if !ok {
				w.WriteHeader(404)
				return
			}

			_, _ = w.Write(data)
		}
	}))

	err := client.PushFile(context.Background(), "box", "/etc/motd", []byte("hi"), 0, 0, "0644")
	require.NoError(t, err)

	data, err := client.PullFile(context.Background(), "box", "/etc/motd")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	_, err = client.PullFile(context.Background(), "box", "/missing")
	require.Error(t, err)
}

func TestWaitOperationTimeout(t *testing.T) {
	client := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/1.0/operations/slow/wait" {
			time.Sleep(50 * time.Millisecond)
			writeJSON(w, 200, map[string]any{
				"type":     "sync",
				"status":   "Success",
				"metadata": map[string]any{"id": "slow", "status": "Success"},
			})

			return
		}
	}))

	op, err := client.WaitOperation(context.Background(), "slow", 1)
	require.NoError(t, err)
	assert.Equal(t, "Success", op.Status)
}
