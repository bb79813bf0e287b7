package incusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/frostyard/kapsule/internal/logging"
)

// DefaultSocketPath is where the Incus daemon listens by default.
const DefaultSocketPath = "/var/lib/incus/unix.socket"

// Client is the Backend Client described in spec.md §4.1. It is safe for
// concurrent use: the underlying *http.Client is connection-pooled.
type Client struct {
	http       *http.Client
	socketPath string
	log        logging.Logger
}

// NewUnixClient builds a Client that talks to the Incus API over the given
// Unix-domain socket, mirroring the dialer/transport setup the teacher's
// unixHTTPClient uses for its own local-socket connections.
func NewUnixClient(socketPath string, log logging.Logger) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	if log == nil {
		log = logging.Discard()
	}

	dial := func(_ context.Context, _ string, _ string) (net.Conn, error) {
		raddr, err := net.ResolveUnixAddr("unix", socketPath)
		if err != nil {
			return nil, err
		}

		return net.DialUnix("unix", nil, raddr)
	}

	transport := &http.Transport{
		DialContext:           dial,
		DisableKeepAlives:     true,
		ExpectContinueTimeout: 30 * time.Second,
		ResponseHeaderTimeout: time.Hour,
		TLSHandshakeTimeout:   5 * time.Second,
	}

	return &Client{
		http:       &http.Client{Transport: transport},
		socketPath: socketPath,
		log:        log.AddContext(logging.Ctx{"component": "incusapi"}),
	}
}

// isTransient reports whether an error from the Unix socket transport is
// the kind of hiccup spec.md §4.1 says to retry: a closed connection or an
// interrupted write, never a well-formed API error.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok { //nolint:errorlint
			*target = ne
			return true
		}

		u, ok := err.(interface{ Unwrap() error }) //nolint:errorlint
		if !ok {
			return false
		}

		err = u.Unwrap()
	}

	return false
}

// do performs one HTTP round-trip against the socket and decodes the
// envelope, retrying transient transport errors with bounded exponential
// backoff (at most 3 retries after the first attempt, per spec.md §4.1).
func (c *Client) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)

	var env *envelope
	var lastErr error

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, "http://unix.socket"+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}

		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if isTransient(err) {
				c.log.Debug("retrying transient socket error", logging.Ctx{"path": path, "error": err.Error()})
				return err
			}

			return backoff.Permanent(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(err)
		}

		if resp.StatusCode >= 400 {
			env = &envelope{}
			_ = json.Unmarshal(data, env)

			msg := env.Error
			if msg == "" {
				msg = resp.Status
			}

			return backoff.Permanent(&BackendError{StatusCode: resp.StatusCode, Message: msg})
		}

		env = &envelope{}
		if err := json.Unmarshal(data, env); err != nil {
			return backoff.Permanent(fmt.Errorf("decode envelope: %w", err))
		}

		return nil
	}

	err := backoff.Retry(op, policy)
	if err != nil {
		var be *BackendError
		if ok := asBackendError(err, &be); ok {
			return nil, be
		}

		return nil, &ErrUnavailable{Cause: lastErr}
	}

	if env.Type == "error" {
		return nil, &BackendError{StatusCode: env.ErrorCode, Message: env.Error}
	}

	return env, nil
}

func asBackendError(err error, target **BackendError) bool {
	be, ok := err.(*BackendError) //nolint:errorlint
	if ok {
		*target = be
	}

	return ok
}

// decode unmarshals the envelope's metadata field into out.
func decode(env *envelope, out any) error {
	if out == nil {
		return nil
	}

	raw, err := json.Marshal(env.Metadata)
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, out)
}

// request performs a synchronous request (type=sync) and decodes its
// metadata into out.
func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	env, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}

	if env.Type == "async" {
		return fmt.Errorf("unexpected async response for %s %s", method, path)
	}

	return decode(env, out)
}

// requestAsync performs a request expected to return an async operation
// envelope and returns a handle the caller can Wait() on.
func (c *Client) requestAsync(ctx context.Context, method, path string, body any) (*OpHandle, error) {
	env, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	if env.Type != "async" {
		// Some Incus endpoints (e.g. profile PUT) are synchronous even
		// though the upper layer treats every mutation uniformly; wrap
		// it as an already-done handle.
		return &OpHandle{client: c, done: true}, nil
	}

	var op Operation
	if err := decode(env, &op); err != nil {
		return nil, fmt.Errorf("decode operation metadata: %w", err)
	}

	return &OpHandle{client: c, id: op.ID, url: env.Operation}, nil
}

func queryEscape(name string) string {
	return url.PathEscape(name)
}
