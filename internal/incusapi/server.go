package incusapi

import "context"

// GetServer fetches server info and configuration, mirroring
// lxc-incus/client/incus_server.go's GetServer.
func (c *Client) GetServer(ctx context.Context) (*Server, error) {
	var s Server
	if err := c.request(ctx, "GET", "/1.0", nil, &s); err != nil {
		return nil, err
	}

	return &s, nil
}

// IsAvailable reports whether the backend responds at all, used at daemon
// startup to fail fast with a clear message rather than surfacing opaque
// socket errors from the first real request.
func (c *Client) IsAvailable(ctx context.Context) bool {
	_, err := c.GetServer(ctx)
	return err == nil
}
