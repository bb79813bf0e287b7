package caller

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeProc(t *testing.T, pid uint32, status, environ string) string {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, "proc", strconv.FormatUint(uint64(pid), 10))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	if status != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0o644))
	}

	if environ != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "environ"), []byte(environ), 0o644))
	}

	return filepath.Join(root, "proc")
}

func TestPrimaryGID(t *testing.T) {
	status := "Name:\tbash\nState:\tS\nUid:\t1000\t1000\t1000\t1000\nGid:\t1000\t1000\t1000\t1000\n"
	root := fakeProc(t, 4242, status, "")

	r := &Resolver{procRoot: root}

	gid, err := r.primaryGID(4242)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), gid)
}

func TestPrimaryGIDMissingProcess(t *testing.T) {
	root := t.TempDir()
	r := &Resolver{procRoot: filepath.Join(root, "proc")}

	_, err := r.primaryGID(99999)
	require.Error(t, err)
}

func TestReadEnvironFiltersToWantedVars(t *testing.T) {
	environ := "DISPLAY=:0\x00WAYLAND_DISPLAY=wayland-0\x00SOME_SECRET=xyz\x00PATH=/usr/bin\x00"
	root := fakeProc(t, 555, "", environ)

	r := &Resolver{procRoot: root}

	env, err := r.readEnviron(555)
	require.NoError(t, err)

	assert.Equal(t, ":0", env["DISPLAY"])
	assert.Equal(t, "wayland-0", env["WAYLAND_DISPLAY"])
	assert.Equal(t, "/usr/bin", env["PATH"])
	_, hasSecret := env["SOME_SECRET"]
	assert.False(t, hasSecret)
}

func TestReadEnvironMissingFile(t *testing.T) {
	root := t.TempDir()
	r := &Resolver{procRoot: filepath.Join(root, "proc")}

	_, err := r.readEnviron(1)
	require.Error(t, err)
}
