// Package dbussvc is the Service Facade (spec.md §4.5 / §6): it owns
// the bus name, exports the Manager object and one Operation object per
// live operation.Operation, dispatches inbound calls into the Container
// Service, and tears everything down on shutdown.
package dbussvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"

	"github.com/frostyard/kapsule/internal/caller"
	"github.com/frostyard/kapsule/internal/config"
	"github.com/frostyard/kapsule/internal/containersvc"
	"github.com/frostyard/kapsule/internal/logging"
	"github.com/frostyard/kapsule/internal/operation"
)

// BusName is the well-known name the daemon acquires on the system bus.
const BusName = "org.frostyard.Kapsule"

// ManagerPath is the fixed path of the single exported Manager object.
const ManagerPath = dbus.ObjectPath("/org/frostyard/Kapsule")

// ManagerInterface and OperationInterface name the two exported
// interfaces described in spec.md §6.
const (
	ManagerInterface   = "org.frostyard.Kapsule.Manager"
	OperationInterface = "org.frostyard.Kapsule.Operation"
)

// Version is the daemon's reported Manager.Version property.
const Version = "0.1.0"

// Facade owns the bus connection and every exported object.
type Facade struct {
	conn     *dbus.Conn
	engine   *operation.Engine
	services *containersvc.Service
	resolver *caller.Resolver
	cfg      *config.Config
	log      logging.Logger

	opsMu      sync.Mutex
	operations map[string]*exportedOperation
}

// New builds a Facade bound to an already-connected system bus
// connection. Call Run to acquire the name and start serving.
func New(conn *dbus.Conn, engine *operation.Engine, services *containersvc.Service, resolver *caller.Resolver, cfg *config.Config, log logging.Logger) *Facade {
	if log == nil {
		log = logging.Discard()
	}

	return &Facade{
		conn:       conn,
		engine:     engine,
		services:   services,
		resolver:   resolver,
		cfg:        cfg,
		log:        log.AddContext(logging.Ctx{"component": "dbussvc"}),
		operations: make(map[string]*exportedOperation),
	}
}

// Run exports the Manager object and requests the well-known bus name.
// It blocks until ctx is cancelled, then runs the shutdown sequence
// from spec.md §7's "Global state" design note: cancel every live
// operation, await their terminal transitions with a short deadline,
// release the bus name.
func (f *Facade) Run(ctx context.Context) error {
	manager := &managerObject{facade: f}

	if err := f.conn.Export(manager, ManagerPath, ManagerInterface); err != nil {
		return fmt.Errorf("export manager object: %w", err)
	}

	if err := f.conn.Export(introspectableManager{}, ManagerPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}

	managerProps := map[string]map[string]*prop.Prop{
		ManagerInterface: {
			"Version": {Value: Version, Writable: false, Emit: prop.EmitFalse},
		},
	}

	if _, err := prop.Export(f.conn, ManagerPath, managerProps); err != nil {
		return fmt.Errorf("export manager properties: %w", err)
	}

	reply, err := f.conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request bus name: %w", err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already owned", BusName)
	}

	f.log.Info("acquired bus name", logging.Ctx{"name": BusName})

	<-ctx.Done()

	f.log.Info("shutting down, cancelling live operations")
	f.engine.CancelAll()
	f.engine.AwaitAllTerminal(5 * time.Second)

	if _, err := f.conn.ReleaseName(BusName); err != nil {
		f.log.Warn("failed to release bus name", logging.Ctx{"error": err.Error()})
	}

	return nil
}

type introspectableManager struct{}

func (introspectableManager) Introspect() (string, *dbus.Error) {
	return `<node><interface name="org.freedesktop.DBus.Introspectable"></interface></node>`, nil
}
