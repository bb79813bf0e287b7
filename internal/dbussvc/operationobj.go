package dbussvc

import (
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"

	"github.com/frostyard/kapsule/internal/logging"
	"github.com/frostyard/kapsule/internal/operation"
)

// exportedOperation is the bus-side wrapper around one operation.Operation:
// it owns the exported path, the Properties object backing Id/Type/Target/
// Status, and the goroutine that turns engine events into signals.
type exportedOperation struct {
	op     *operation.Operation
	path   dbus.ObjectPath
	facade *Facade
	props  *prop.Properties
	cancel func()
}

func operationPath(id string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/frostyard/Kapsule/operations/%s", id))
}

// publishOperation exports op at its versioned path, wires its Cancel
// method, seeds its Properties, and starts forwarding its events as
// signals. It returns the path immediately — spec.md §5's guarantee
// that "a call to any asynchronous Manager method returns a path that
// exists on the bus when the reply arrives" holds because export
// happens synchronously, before the method returns.
func (f *Facade) publishOperation(op *operation.Operation) dbus.ObjectPath {
	path := operationPath(op.ID())

	propsSpec := map[string]map[string]*prop.Prop{
		OperationInterface: {
			"Id":     {Value: op.ID(), Writable: false, Emit: prop.EmitFalse},
			"Type":   {Value: op.Type(), Writable: false, Emit: prop.EmitFalse},
			"Target": {Value: op.Target(), Writable: false, Emit: prop.EmitFalse},
			"Status": {Value: string(op.Status()), Writable: false, Emit: prop.EmitTrue},
		},
	}

	props, err := prop.Export(f.conn, path, propsSpec)
	if err != nil {
		f.log.Warn("failed to export operation properties", logging.Ctx{"operation": op.ID(), "error": err.Error()})
	}

	exported := &exportedOperation{op: op, path: path, facade: f, props: props}

	if err := f.conn.Export(exported, path, OperationInterface); err != nil {
		f.log.Warn("failed to export operation object", logging.Ctx{"operation": op.ID(), "error": err.Error()})
	}

	sub, unsub := op.Subscribe()
	exported.cancel = unsub

	f.opsMu.Lock()
	f.operations[op.ID()] = exported
	f.opsMu.Unlock()

	go exported.forward(sub)

	return path
}

// Cancel implements the Operation interface's `Cancel()` method.
func (e *exportedOperation) Cancel() *dbus.Error {
	e.op.Cancel()
	return nil
}

// forward drains the Operation's event channel and re-emits each one as
// a bus signal, serialized by the channel itself so subscribers see a
// total order for this Operation (spec.md §4.2's concurrency contract).
// After Completed, it unpublishes the object following the linger.
func (e *exportedOperation) forward(events <-chan operation.Event) {
	for ev := range events {
		e.emit(ev)

		if ev.Completed != nil {
			e.setStatus(e.op.Status())
			time.AfterFunc(operation.Linger, e.unpublish)
		}
	}
}

func (e *exportedOperation) setStatus(status operation.Status) {
	if e.props == nil {
		return
	}

	_ = e.props.Set(OperationInterface, "Status", dbus.MakeVariant(string(status)))
}

func (e *exportedOperation) emit(ev operation.Event) {
	conn := e.facade.conn

	switch {
	case ev.Message != nil:
		_ = conn.Emit(e.path, OperationInterface+".Message", int32(ev.Message.Kind), ev.Message.Text, int32(ev.Message.Indent))
	case ev.ProgressStarted != nil:
		p := ev.ProgressStarted
		_ = conn.Emit(e.path, OperationInterface+".ProgressStarted", p.ID, p.Description, p.Total, int32(p.Indent))
	case ev.ProgressUpdate != nil:
		p := ev.ProgressUpdate
		_ = conn.Emit(e.path, OperationInterface+".ProgressUpdate", p.ID, p.Current, p.Rate)
	case ev.ProgressCompleted != nil:
		p := ev.ProgressCompleted
		_ = conn.Emit(e.path, OperationInterface+".ProgressCompleted", p.ID, p.Success, p.Message)
	case ev.Completed != nil:
		e.setStatus(e.op.Status())
		_ = conn.Emit(e.path, OperationInterface+".Completed", ev.Completed.Success, ev.Completed.Error)
	}
}

// unpublish removes the exported object from the bus and drops the
// facade's reference, per spec.md §4.2's cleanup rule.
func (e *exportedOperation) unpublish() {
	_ = e.facade.conn.Export(nil, e.path, OperationInterface)
	if e.cancel != nil {
		e.cancel()
	}

	e.facade.opsMu.Lock()
	delete(e.facade.operations, e.op.ID())
	e.facade.opsMu.Unlock()
}
