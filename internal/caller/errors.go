package caller

import "fmt"

// ErrUnknownCaller means the bus daemon no longer recognizes the
// caller's unique connection name — it disconnected between sending the
// request and the resolver's credential query.
type ErrUnknownCaller struct {
	Sender string
}

func (e *ErrUnknownCaller) Error() string {
	return fmt.Sprintf("caller %s is no longer known to the bus", e.Sender)
}

// ErrCallerGone means the bus resolved a pid for the caller but the
// process had already exited by the time /proc was consulted.
type ErrCallerGone struct {
	PID uint32
}

func (e *ErrCallerGone) Error() string {
	return fmt.Sprintf("caller process %d has exited", e.PID)
}
