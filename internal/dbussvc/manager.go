package dbussvc

import (
	"context"
	"errors"

	"github.com/godbus/dbus/v5"

	"github.com/frostyard/kapsule/internal/caller"
	"github.com/frostyard/kapsule/internal/kapserr"
)

// managerObject implements the Manager interface's exported methods.
// Every asynchronous method wraps its Container Service call in an
// Operation and returns its bus path immediately, per spec.md §6.
type managerObject struct {
	facade *Facade
}

func (m *managerObject) resolveCaller(ctx context.Context, sender dbus.Sender) (*caller.Credentials, *dbus.Error) {
	creds, err := m.facade.resolver.Resolve(ctx, sender)
	if err != nil {
		return nil, dbus.MakeFailedError(err)
	}

	return creds, nil
}

// CreateContainer implements `CreateContainer(s name, s image, b
// session_mode, b dbus_mux) → o operation`.
func (m *managerObject) CreateContainer(name, image string, sessionMode, dbusMux bool, sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	if _, derr := m.resolveCaller(context.Background(), sender); derr != nil {
		return "", derr
	}

	work := m.facade.services.CreateContainer(name, image, sessionMode, dbusMux, m.facade.cfg.DefaultImage)
	op := m.facade.engine.Start(context.Background(), "create", name, work)

	return m.facade.publishOperation(op), nil
}

// DeleteContainer implements `DeleteContainer(s name, b force) → o operation`.
func (m *managerObject) DeleteContainer(name string, force bool) (dbus.ObjectPath, *dbus.Error) {
	work := m.facade.services.DeleteContainer(name, force)
	op := m.facade.engine.Start(context.Background(), "delete", name, work)

	return m.facade.publishOperation(op), nil
}

// StartContainer implements `StartContainer(s name) → o operation`.
func (m *managerObject) StartContainer(name string) (dbus.ObjectPath, *dbus.Error) {
	work := m.facade.services.StartContainer(name)
	op := m.facade.engine.Start(context.Background(), "start", name, work)

	return m.facade.publishOperation(op), nil
}

// StopContainer implements `StopContainer(s name, b force) → o operation`.
func (m *managerObject) StopContainer(name string, force bool) (dbus.ObjectPath, *dbus.Error) {
	work := m.facade.services.StopContainer(name, force)
	op := m.facade.engine.Start(context.Background(), "stop", name, work)

	return m.facade.publishOperation(op), nil
}

// PrepareEnter implements `PrepareEnter(s container, as command) → (b
// success, s message, as exec_args)`, synchronous per spec.md §4.3.3's
// precondition note: the client needs exec_args back directly so it can
// replace its own process with them.
func (m *managerObject) PrepareEnter(container string, command []string, sender dbus.Sender) (bool, string, []string, *dbus.Error) {
	creds, derr := m.resolveCaller(context.Background(), sender)
	if derr != nil {
		return false, derr.Error(), nil, derr
	}

	success, message, execArgs, err := m.facade.services.PrepareEnter(context.Background(), creds, container, m.facade.cfg.DefaultContainer, command)
	if err != nil {
		return false, err.Error(), nil, toDBusError(err)
	}

	return success, message, execArgs, nil
}

// ListContainers implements `ListContainers() → a(sssss)`.
func (m *managerObject) ListContainers() ([][5]string, *dbus.Error) {
	infos, err := m.facade.services.ListContainers(context.Background())
	if err != nil {
		return nil, toDBusError(err)
	}

	tuples := make([][5]string, len(infos))
	for i, info := range infos {
		tuples[i] = [5]string{info.Name, info.Status, info.Image, info.CreatedAt, info.Mode}
	}

	return tuples, nil
}

// GetContainerInfo implements `GetContainerInfo(s name) → (sssss)`.
func (m *managerObject) GetContainerInfo(name string) (string, string, string, string, string, *dbus.Error) {
	info, err := m.facade.services.GetContainerInfo(context.Background(), name)
	if err != nil {
		return "", "", "", "", "", toDBusError(err)
	}

	return info.Name, info.Status, info.Image, info.CreatedAt, info.Mode, nil
}

// GetConfig implements `GetConfig() → a{ss}`.
func (m *managerObject) GetConfig() (map[string]string, *dbus.Error) {
	return m.facade.services.GetConfig(m.facade.cfg.DefaultContainer, m.facade.cfg.DefaultImage), nil
}

// toDBusError maps the kapserr taxonomy onto a generic D-Bus error name
// plus the human-readable message, since spec.md doesn't define a
// distinct bus error name per kind.
func toDBusError(err error) *dbus.Error {
	var kerr *kapserr.Error
	if errors.As(err, &kerr) {
		return dbus.NewError("org.frostyard.Kapsule.Error."+string(kerr.Kind), []any{kerr.Message})
	}

	return dbus.MakeFailedError(err)
}
