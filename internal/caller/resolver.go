// Package caller resolves the identity of a D-Bus method caller: their
// numeric uid/gid/pid and a fixed slice of session environment
// variables, per spec.md §4.4. Everything downstream — PrepareEnter's
// user provisioning, home-directory bind mount, runtime symlinks — is
// seeded from the Credentials this package produces.
package caller

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

// CapturedEnvVars is the fixed set of environment variables the
// resolver reads out of the caller's process, per spec.md §4.4 and the
// exec-argument composition in §4.3.3.
var CapturedEnvVars = []string{
	"DISPLAY",
	"WAYLAND_DISPLAY",
	"XAUTHORITY",
	"XDG_RUNTIME_DIR",
	"TERM",
	"LANG",
	"SHELL",
	"PATH",
}

// Credentials is the resolved identity of one IPC caller, immutable for
// the life of the Operation it seeds.
type Credentials struct {
	UID uint32
	GID uint32
	PID uint32
	Env map[string]string
}

// Resolver queries the bus daemon for connection credentials and the
// process filesystem for environment variables.
type Resolver struct {
	conn *dbus.Conn

	// procRoot lets tests point at a fake /proc tree; empty means "/proc".
	procRoot string
}

// NewResolver builds a Resolver bound to an already-connected bus.
func NewResolver(conn *dbus.Conn) *Resolver {
	return &Resolver{conn: conn}
}

// Resolve looks up the uid, primary gid, pid, and captured environment
// of sender, the unique connection name of an inbound method call.
func (r *Resolver) Resolve(ctx context.Context, sender dbus.Sender) (*Credentials, error) {
	busObj := r.conn.BusObject()

	var uid uint32
	if err := busObj.CallWithContext(ctx, "org.freedesktop.DBus.GetConnectionUnixUser", 0, sender).Store(&uid); err != nil {
		return nil, &ErrUnknownCaller{Sender: string(sender)}
	}

	var pid uint32
	if err := busObj.CallWithContext(ctx, "org.freedesktop.DBus.GetConnectionUnixProcessID", 0, sender).Store(&pid); err != nil {
		return nil, &ErrUnknownCaller{Sender: string(sender)}
	}

	gid, err := r.primaryGID(pid)
	if err != nil {
		return nil, &ErrCallerGone{PID: pid}
	}

	env, err := r.readEnviron(pid)
	if err != nil {
		// "environment unreadable (proceed with empty env)" per spec.md §4.4.
		env = map[string]string{}
	}

	return &Credentials{UID: uid, GID: gid, PID: pid, Env: env}, nil
}

func (r *Resolver) procPath(pid uint32, leaf string) string {
	root := r.procRoot
	if root == "" {
		root = "/proc"
	}

	return fmt.Sprintf("%s/%d/%s", root, pid, leaf)
}

// primaryGID reads the Gid line out of /proc/<pid>/status. The kernel
// reports four gids there (real, effective, saved, filesystem); the
// real gid is the caller's primary group.
func (r *Resolver) primaryGID(pid uint32) (uint32, error) {
	f, err := os.Open(r.procPath(pid, "status"))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Gid:") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed Gid line in status: %q", line)
		}

		gid, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return 0, err
		}

		return uint32(gid), nil
	}

	return 0, fmt.Errorf("no Gid line found in status for pid %d", pid)
}

// readEnviron reads /proc/<pid>/environ (NUL-separated KEY=VALUE
// entries) and returns the subset of CapturedEnvVars that are set.
func (r *Resolver) readEnviron(pid uint32) (map[string]string, error) {
	data, err := os.ReadFile(r.procPath(pid, "environ"))
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(CapturedEnvVars))
	for _, name := range CapturedEnvVars {
		wanted[name] = struct{}{}
	}

	env := make(map[string]string)
	for _, entry := range strings.Split(string(data), "\x00") {
		if entry == "" {
			continue
		}

		key, value, found := strings.Cut(entry, "=")
		if !found {
			continue
		}

		if _, ok := wanted[key]; ok {
			env[key] = value
		}
	}

	return env, nil
}
