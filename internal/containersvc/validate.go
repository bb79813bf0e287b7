package containersvc

import (
	"regexp"

	"github.com/frostyard/kapsule/internal/kapserr"
)

// nameRule matches the backend's container naming rule per spec.md §3:
// letters, digits, hyphens; must begin with a letter.
var nameRule = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)

// ValidateName enforces the naming invariant, returning an
// InvalidArgument error describing the violation.
func ValidateName(name string) error {
	if name == "" {
		return kapserr.New(kapserr.KindInvalidArgument, "container name must not be empty")
	}

	if !nameRule.MatchString(name) {
		return kapserr.New(kapserr.KindInvalidArgument,
			"container name %q must start with a letter and contain only letters, digits, and hyphens", name)
	}

	return nil
}

// Mode is one of the closed set of recognized container modes (spec.md
// §3's invariant: "the set of recognized container modes is closed").
type Mode string

const (
	ModeDefault  Mode = "default"
	ModeSession  Mode = "session"
	ModeDbusMux  Mode = "dbus-mux"
)

// resolveMode maps the two boolean flags on CreateContainer onto the
// closed Mode set. Per SPEC_FULL.md's Open Question #2 decision, the
// mode is persisted as metadata only; the daemon does not branch
// behavior on it beyond this mapping.
func resolveMode(sessionMode, dbusMux bool) (Mode, error) {
	switch {
	case sessionMode && dbusMux:
		return "", kapserr.New(kapserr.KindInvalidArgument, "session_mode and dbus_mux cannot both be set")
	case sessionMode:
		return ModeSession, nil
	case dbusMux:
		return ModeDbusMux, nil
	default:
		return ModeDefault, nil
	}
}
