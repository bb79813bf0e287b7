package containersvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostyard/kapsule/internal/kapserr"
)

func TestValidateName(t *testing.T) {
	require.NoError(t, ValidateName("dev-box"))
	require.NoError(t, ValidateName("a"))

	err := ValidateName("")
	require.Error(t, err)
	assert.True(t, kapserr.Is(err, kapserr.KindInvalidArgument))

	err = ValidateName("1box")
	require.Error(t, err)
	assert.True(t, kapserr.Is(err, kapserr.KindInvalidArgument))

	err = ValidateName("has_underscore")
	require.Error(t, err)
}

func TestResolveMode(t *testing.T) {
	mode, err := resolveMode(false, false)
	require.NoError(t, err)
	assert.Equal(t, ModeDefault, mode)

	mode, err = resolveMode(true, false)
	require.NoError(t, err)
	assert.Equal(t, ModeSession, mode)

	mode, err = resolveMode(false, true)
	require.NoError(t, err)
	assert.Equal(t, ModeDbusMux, mode)

	_, err = resolveMode(true, true)
	require.Error(t, err)
}
