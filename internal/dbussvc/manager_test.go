package dbussvc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/frostyard/kapsule/internal/kapserr"
)

func TestOperationPath(t *testing.T) {
	assert.Equal(t, "/org/frostyard/Kapsule/operations/42", string(operationPath("42")))
}

func TestToDBusErrorMapsKapserrKind(t *testing.T) {
	err := kapserr.New(kapserr.KindContainerNotFound, "container %q not found", "box")

	derr := toDBusError(err)
	assert.Equal(t, "org.frostyard.Kapsule.Error.ContainerNotFound", derr.Name)
}

func TestToDBusErrorFallsBackToFailed(t *testing.T) {
	derr := toDBusError(assertionError{"boom"})
	assert.Equal(t, "org.freedesktop.DBus.Error.Failed", derr.Name)
}

type assertionError struct{ msg string }

func (e assertionError) Error() string { return e.msg }
