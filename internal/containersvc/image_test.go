package containersvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseImage(t *testing.T) {
	src, err := ParseImage("images:archlinux")
	require.NoError(t, err)
	assert.Equal(t, "images", src.Server)
	assert.Equal(t, "archlinux", src.Alias)
	assert.Equal(t, "image", src.Type)

	src, err = ParseImage("images:ubuntu/24.04")
	require.NoError(t, err)
	assert.Equal(t, "ubuntu/24.04", src.Alias)
}

func TestParseImageRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "archlinux", ":archlinux", "images:"} {
		_, err := ParseImage(bad)
		require.Errorf(t, err, "expected error for %q", bad)
	}
}

func TestFormatImageRoundTrip(t *testing.T) {
	src, err := ParseImage("images:alpine/edge")
	require.NoError(t, err)
	assert.Equal(t, "images:alpine/edge", FormatImage(src))
}
