package incusapi

import (
	"context"
	"errors"
)

// ListInstances returns every instance the backend knows about.
func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	var instances []Instance
	if err := c.request(ctx, "GET", "/1.0/instances?recursion=1", nil, &instances); err != nil {
		return nil, err
	}

	return instances, nil
}

// GetInstance fetches one instance by name. Returns a *BackendError with
// NotFound()==true if it doesn't exist.
func (c *Client) GetInstance(ctx context.Context, name string) (*Instance, error) {
	var inst Instance
	if err := c.request(ctx, "GET", "/1.0/instances/"+queryEscape(name), nil, &inst); err != nil {
		return nil, err
	}

	return &inst, nil
}

// InstanceExists is a convenience wrapper distinguishing "not found" from
// other backend errors.
func (c *Client) InstanceExists(ctx context.Context, name string) (bool, error) {
	_, err := c.GetInstance(ctx, name)
	if err == nil {
		return true, nil
	}

	var be *BackendError
	if errors.As(err, &be) && be.NotFound() {
		return false, nil
	}

	return false, err
}

// CreateInstance submits a new instance to the backend and returns a
// handle to the resulting async operation.
func (c *Client) CreateInstance(ctx context.Context, spec InstancesPost) (*OpHandle, error) {
	return c.requestAsync(ctx, "POST", "/1.0/instances", spec)
}

// UpdateInstanceState changes an instance's running state (start, stop,
// restart, freeze, unfreeze).
func (c *Client) UpdateInstanceState(ctx context.Context, name string, state InstanceStatePut) (*OpHandle, error) {
	return c.requestAsync(ctx, "PUT", "/1.0/instances/"+queryEscape(name)+"/state", state)
}

// UpdateInstanceConfig replaces an instance's full PUT body (config +
// devices), used by the Container Service to merge new config/devices in
// while preserving the rest of the instance.
func (c *Client) UpdateInstanceConfig(ctx context.Context, name string, put InstancePut) error {
	_, err := c.requestAsync(ctx, "PUT", "/1.0/instances/"+queryEscape(name), put)
	return err
}

// DeleteInstance removes an instance and returns a handle to the delete
// operation.
func (c *Client) DeleteInstance(ctx context.Context, name string) (*OpHandle, error) {
	return c.requestAsync(ctx, "DELETE", "/1.0/instances/"+queryEscape(name), nil)
}

// PatchInstanceConfig fetches the current instance, merges the given
// config keys into it, and writes it back. Used to set the host-users
// mapped marker and the ptyxis profile id while keeping the instance's
// other config keys. The fetch and the write are separate requests, so a
// change made by another writer in between is overwritten.
func (c *Client) PatchInstanceConfig(ctx context.Context, name string, patch map[string]string) error {
	inst, err := c.GetInstance(ctx, name)
	if err != nil {
		return err
	}

	merged := make(map[string]string, len(inst.Config)+len(patch))
	for k, v := range inst.Config {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}

	return c.UpdateInstanceConfig(ctx, name, InstancePut{
		Architecture: inst.Architecture,
		Config:       merged,
		Description:  inst.Description,
		Devices:      inst.Devices,
		Ephemeral:    inst.Ephemeral,
		Profiles:     inst.Profiles,
		Stateful:     inst.Stateful,
	})
}

// AddInstanceDevice fetches the current instance, adds/replaces one
// device, and writes it back.
func (c *Client) AddInstanceDevice(ctx context.Context, name, deviceName string, device Device) error {
	inst, err := c.GetInstance(ctx, name)
	if err != nil {
		return err
	}

	devices := make(map[string]Device, len(inst.Devices)+1)
	for k, v := range inst.Devices {
		devices[k] = v
	}
	devices[deviceName] = device

	return c.UpdateInstanceConfig(ctx, name, InstancePut{
		Architecture: inst.Architecture,
		Config:       inst.Config,
		Description:  inst.Description,
		Devices:      devices,
		Ephemeral:    inst.Ephemeral,
		Profiles:     inst.Profiles,
		Stateful:     inst.Stateful,
	})
}

// HasDeviceWithPath reports whether the instance already has a device
// whose "path" equals path. The "source" key is not compared.
func (i *Instance) HasDeviceWithPath(path string) bool {
	for _, d := range i.Devices {
		if d["path"] == path {
			return true
		}
	}

	return false
}
