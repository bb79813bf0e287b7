// Package kapserr defines the daemon's error taxonomy (spec.md §7):
// sentinel kinds the Container Service raises and the Service Facade
// turns into Completed(success=false, error=…) signals or direct method
// reply errors.
package kapserr

import "fmt"

// Kind identifies one of the taxonomy's error categories, by kind, not
// by concrete Go type, so callers can classify with errors.As against a
// single *Error rather than a type switch over many sentinel types.
type Kind string

const (
	KindContainerNotFound      Kind = "ContainerNotFound"
	KindContainerAlreadyExists Kind = "ContainerAlreadyExists"
	KindContainerRunning       Kind = "ContainerRunning"
	KindContainerInvalidState  Kind = "ContainerInvalidState"
	KindBackendError           Kind = "BackendError"
	KindBackendUnavailable     Kind = "BackendUnavailable"
	KindTimeout                Kind = "Timeout"
	KindUnknownCaller          Kind = "UnknownCaller"
	KindCallerGone             Kind = "CallerGone"
	KindInvalidArgument        Kind = "InvalidArgument"
	KindCancelled              Kind = "Cancelled"
	KindInternal               Kind = "Internal"
)

// Error is the concrete type every taxonomy kind is carried in.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no underlying cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that carries cause as its Unwrap target.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}

	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok { //nolint:errorlint
			*target = e
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
