package containersvc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/frostyard/kapsule/internal/caller"
)

func TestDetectDistro(t *testing.T) {
	cases := []struct {
		osRelease string
		wantID    string
		wantGroup string
	}{
		{"ID=arch\n", "arch", "wheel"},
		{"NAME=\"Ubuntu\"\nID=ubuntu\nVERSION_ID=\"24.04\"\n", "ubuntu", "sudo"},
		{"ID=alpine\n", "alpine", "adm"},
		{"ID=fedora\n", "fedora", "wheel"},
	}

	for _, c := range cases {
		d := detectDistro([]byte(c.osRelease))
		assert.Equal(t, c.wantID, d.id)
		assert.Equal(t, c.wantGroup, d.adminGroup)
	}
}

func TestUserCreateCommandAlpineVsOthers(t *testing.T) {
	alpine := detectDistro([]byte("ID=alpine\n"))
	cmd := userCreateCommand(alpine, "kapsule1000", 1000, 1000)
	assert.Equal(t, []string{"adduser", "-u", "1000", "-D", "kapsule1000"}, cmd)

	debian := detectDistro([]byte("ID=debian\n"))
	cmd = userCreateCommand(debian, "kapsule1000", 1000, 1000)
	assert.Contains(t, cmd, "useradd")
	assert.Contains(t, cmd, "-m")
}

func TestComposeExecArgs(t *testing.T) {
	s := New(nil, nil, nil, "")

	creds := &caller.Credentials{
		UID: 1000,
		GID: 1000,
		Env: map[string]string{
			"DISPLAY":         ":0",
			"WAYLAND_DISPLAY": "wayland-0",
			"XAUTHORITY":      "/run/user/1000/xauth_abc",
			"TERM":            "xterm-256color",
		},
	}

	args := s.composeExecArgs("test-enter", creds, "/home/kapsule1000", nil)

	assert.Equal(t, "incus", args[0])
	assert.Contains(t, args, "--user")
	assert.Contains(t, args, "1000")
	assert.Contains(t, args, "XDG_RUNTIME_DIR=/run/user/1000")
	assert.Equal(t, "/bin/bash", args[len(args)-2])
}

func TestComposeExecArgsWithCommand(t *testing.T) {
	s := New(nil, nil, nil, "incus")

	creds := &caller.Credentials{UID: 1000, GID: 1000, Env: map[string]string{}}

	args := s.composeExecArgs("box", creds, "", []string{"htop"})
	assert.Equal(t, "htop", args[len(args)-1])
	assert.Equal(t, "/", args[indexOf(args, "--cwd")+1])
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}

	return -1
}
