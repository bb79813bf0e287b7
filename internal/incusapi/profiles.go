package incusapi

import (
	"context"
	"errors"
)

// ListProfiles returns all profile names, mirroring
// lxc-incus/client/incus_profiles.go's GetProfileNames.
func (c *Client) ListProfiles(ctx context.Context) ([]string, error) {
	var profiles []Profile
	if err := c.request(ctx, "GET", "/1.0/profiles?recursion=1", nil, &profiles); err != nil {
		return nil, err
	}

	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
	}

	return names, nil
}

// GetProfile fetches a profile by name.
func (c *Client) GetProfile(ctx context.Context, name string) (*Profile, error) {
	var p Profile
	if err := c.request(ctx, "GET", "/1.0/profiles/"+queryEscape(name), nil, &p); err != nil {
		return nil, err
	}

	return &p, nil
}

// ProfileExists reports whether a profile with the given name exists.
func (c *Client) ProfileExists(ctx context.Context, name string) (bool, error) {
	_, err := c.GetProfile(ctx, name)
	if err == nil {
		return true, nil
	}

	var be *BackendError
	if errors.As(err, &be) && be.NotFound() {
		return false, nil
	}

	return false, err
}

// CreateProfile defines a new profile.
func (c *Client) CreateProfile(ctx context.Context, profile ProfilesPost) error {
	return c.request(ctx, "POST", "/1.0/profiles", profile, nil)
}

// EnsureProfile creates the profile if it doesn't already exist. Returns
// true if it was created, false if it already existed.
func (c *Client) EnsureProfile(ctx context.Context, name string, def ProfilesPost) (bool, error) {
	exists, err := c.ProfileExists(ctx, name)
	if err != nil {
		return false, err
	}

	if exists {
		return false, nil
	}

	if err := c.CreateProfile(ctx, def); err != nil {
		return false, err
	}

	return true, nil
}
