package incusapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// PushFile uploads content to an absolute path inside an instance, per
// spec.md §4.1. Incus's file endpoint takes raw bytes with metadata in
// headers rather than a JSON envelope, so this bypasses do()/request().
func (c *Client) PushFile(ctx context.Context, instance, path string, content []byte, uid, gid int, mode string) error {
	return c.putFile(ctx, instance, path, content, uid, gid, mode, "file", "overwrite")
}

// CreateSymlink creates a symlink at path pointing at target, idempotently
// (repeated calls with the same target succeed), used throughout
// PrepareEnter's runtime-symlink materialization step.
func (c *Client) CreateSymlink(ctx context.Context, instance, path, target string, uid, gid int) error {
	return c.putFile(ctx, instance, path, []byte(target), uid, gid, "", "symlink", "")
}

// Mkdir creates a directory inside an instance. It is not an error for the
// directory to already exist.
func (c *Client) Mkdir(ctx context.Context, instance, path string, uid, gid int, mode string) error {
	if err := c.putFile(ctx, instance, path, nil, uid, gid, mode, "directory", ""); err != nil {
		var be *BackendError
		if asErr, ok := err.(*BackendError); ok { //nolint:errorlint
			be = asErr
		}

		if be != nil && be.StatusCode == 409 { // already exists
			return nil
		}

		return err
	}

	return nil
}

func (c *Client) putFile(ctx context.Context, instance, path string, content []byte, uid, gid int, mode, fileType, write string) error {
	u := fmt.Sprintf("http://unix.socket/1.0/instances/%s/files?path=%s", queryEscape(instance), url.QueryEscape(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(content))
	if err != nil {
		return err
	}

	req.Header.Set("X-Incus-uid", strconv.Itoa(uid))
	req.Header.Set("X-Incus-gid", strconv.Itoa(gid))
	req.Header.Set("X-Incus-type", fileType)
	if mode != "" {
		req.Header.Set("X-Incus-mode", mode)
	}
	if write != "" {
		req.Header.Set("X-Incus-write", write)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return &ErrUnavailable{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return &BackendError{StatusCode: resp.StatusCode, Message: string(data)}
	}

	return nil
}

// PullFile downloads a file's contents from an instance. Returns a
// *BackendError with NotFound()==true if the path doesn't exist.
func (c *Client) PullFile(ctx context.Context, instance, path string) ([]byte, error) {
	u := fmt.Sprintf("http://unix.socket/1.0/instances/%s/files?path=%s", queryEscape(instance), url.QueryEscape(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ErrUnavailable{Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, &BackendError{StatusCode: resp.StatusCode, Message: string(data)}
	}

	return data, nil
}
