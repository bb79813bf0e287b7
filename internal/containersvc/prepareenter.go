package containersvc

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/frostyard/kapsule/internal/caller"
	"github.com/frostyard/kapsule/internal/incusapi"
	"github.com/frostyard/kapsule/internal/kapserr"
)

// hostfsPath maps an absolute host path to its mirror beneath the
// hostfs device mounted at /.kapsule/host (spec.md §4.3.1 step 2).
func hostfsPath(hostPath string) string {
	return path.Join("/.kapsule/host", hostPath)
}

// distro identifies the admin-group and user-creation conventions a
// container's /etc/os-release selects, per spec.md §4.3.3 step 3.
type distro struct {
	id         string
	adminGroup string
}

var knownDistros = map[string]distro{
	"arch":   {id: "arch", adminGroup: "wheel"},
	"fedora": {id: "fedora", adminGroup: "wheel"},
	"debian": {id: "debian", adminGroup: "sudo"},
	"ubuntu": {id: "ubuntu", adminGroup: "sudo"},
	"alpine": {id: "alpine", adminGroup: "adm"},
}

func detectDistro(osRelease []byte) distro {
	scanner := bufio.NewScanner(bytes.NewReader(osRelease))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "ID=") {
			continue
		}

		id := strings.Trim(strings.TrimPrefix(line, "ID="), `"`)
		if d, ok := knownDistros[id]; ok {
			return d
		}

		return distro{id: id, adminGroup: "sudo"}
	}

	return distro{id: "unknown", adminGroup: "sudo"}
}

// userCreateCommand builds the command that provisions the caller's
// account inside the container, per spec.md §4.3.3 step 3.
func userCreateCommand(d distro, username string, uid, gid uint32) []string {
	if d.id == "alpine" {
		return []string{"adduser", "-u", strconv.FormatUint(uint64(uid), 10), "-D", username}
	}

	return []string{
		"useradd",
		"-u", strconv.FormatUint(uint64(uid), 10),
		"-g", strconv.FormatUint(uint64(gid), 10),
		"-m", "-s", "/bin/bash",
		username,
	}
}

// PrepareEnter implements spec.md §4.3.3. It is synchronous (no
// Operation object): the client needs the exec_args back immediately so
// it can replace its own process with them. An empty containerName is
// defaulted to defaultContainer (the daemon's configured
// default_container); if both are empty, this fails ContainerNotFound
// per spec.md §4.3.3's Inputs.
func (s *Service) PrepareEnter(ctx context.Context, creds *caller.Credentials, containerName, defaultContainer string, command []string) (success bool, message string, execArgs []string, err error) {
	if containerName == "" {
		containerName = defaultContainer
	}
	if containerName == "" {
		return false, "", nil, kapserr.New(kapserr.KindContainerNotFound, "no container name given and no default_container configured")
	}

	inst, err := s.backend.GetInstance(ctx, containerName)
	if err != nil {
		return false, "", nil, classifyBackendErr(err, containerName)
	}

	if inst.Status != "Running" {
		if inst.Status != "Stopped" && inst.Status != "Starting" {
			return false, "", nil, kapserr.New(kapserr.KindContainerInvalidState,
				"container %q is not running", containerName)
		}

		if err := s.startAndAwaitRunning(ctx, containerName); err != nil {
			return false, "", nil, err
		}
	}

	if inst.Config[hostUserMappedKey(creds.UID)] != "true" {
		if err := s.provisionUser(ctx, containerName, creds); err != nil {
			return false, "", nil, err
		}
	}

	home := creds.Env["HOME"]
	if home == "" {
		home = fmt.Sprintf("/home/%d", creds.UID)
	}

	if !inst.HasDeviceWithPath(home) {
		if err := s.backend.AddInstanceDevice(ctx, containerName, "home", incusapi.Device{
			"type":   "disk",
			"source": home,
			"path":   home,
		}); err != nil {
			return false, "", nil, classifyBackendErr(err, containerName)
		}
	}

	if err := s.materializeRuntimeSymlinks(ctx, containerName, creds); err != nil {
		return false, "", nil, err
	}

	args := s.composeExecArgs(containerName, creds, home, command)

	return true, fmt.Sprintf("entered %q as uid %d", containerName, creds.UID), args, nil
}

// startAndAwaitRunning implements spec.md §4.3.3 step 1's "if Stopped,
// start and wait until Running; if Starting, wait until Running":
// issuing action=start against a container that is already starting is
// a no-op on the backend, so a single UpdateInstanceState+Wait covers
// both cases.
func (s *Service) startAndAwaitRunning(ctx context.Context, containerName string) error {
	handle, err := s.backend.UpdateInstanceState(ctx, containerName, incusapi.InstanceStatePut{
		Action:  incusapi.ActionStart,
		Timeout: 30,
	})
	if err != nil {
		return classifyBackendErr(err, containerName)
	}

	if _, err := handle.Wait(ctx, nil); err != nil {
		return classifyBackendErr(err, containerName)
	}

	return nil
}

// provisionUser runs spec.md §4.3.3 steps 2-3: probe /etc/passwd,
// detect distro, create the account, grant passwordless admin access,
// and persist the per-uid marker so future PrepareEnter calls skip
// straight to the mount/symlink steps (SUPPLEMENTED FEATURES #2).
func (s *Service) provisionUser(ctx context.Context, containerName string, creds *caller.Credentials) error {
	passwd, err := s.backend.PullFile(ctx, containerName, "/etc/passwd")
	if err != nil {
		return classifyBackendErr(err, containerName)
	}

	uidLine := fmt.Sprintf(":%d:", creds.UID)
	if !bytes.Contains(passwd, []byte(uidLine)) {
		osRelease, err := s.backend.PullFile(ctx, containerName, "/etc/os-release")
		if err != nil {
			return classifyBackendErr(err, containerName)
		}

		d := detectDistro(osRelease)
		username := fmt.Sprintf("kapsule%d", creds.UID)

		createResult, err := s.exec(ctx, containerName, userCreateCommand(d, username, creds.UID, creds.GID))
		if err != nil {
			return kapserr.Wrap(kapserr.KindInternal, err, "failed to provision user %s", username)
		}
		if createResult.ExitCode != 0 {
			return kapserr.New(kapserr.KindInternal, "failed to provision user %s: exit code %d: %s",
				username, createResult.ExitCode, strings.TrimSpace(createResult.Stderr))
		}

		usermodResult, err := s.exec(ctx, containerName, []string{"usermod", "-aG", d.adminGroup, username})
		if err != nil {
			return kapserr.Wrap(kapserr.KindInternal, err, "failed to add %s to %s", username, d.adminGroup)
		}
		if usermodResult.ExitCode != 0 {
			return kapserr.New(kapserr.KindInternal, "failed to add %s to %s: exit code %d: %s",
				username, d.adminGroup, usermodResult.ExitCode, strings.TrimSpace(usermodResult.Stderr))
		}

		if err := s.installSudoers(ctx, containerName, username); err != nil {
			return err
		}
	}

	return s.backend.PatchInstanceConfig(ctx, containerName, map[string]string{
		hostUserMappedKey(creds.UID): "true",
	})
}

// installSudoers writes a NOPASSWD sudoers.d drop-in, taken verbatim
// from original_source/src/daemon/container_service.py's setup_user
// (SUPPLEMENTED FEATURES #3).
func (s *Service) installSudoers(ctx context.Context, containerName, username string) error {
	content := fmt.Sprintf("%s ALL=(ALL) NOPASSWD:ALL\n", username)
	return s.backend.PushFile(ctx, containerName, "/etc/sudoers.d/"+username, []byte(content), 0, 0, "0440")
}

// runtimeSymlink names one of the sockets spec.md §4.3.3 step 5
// mirrors from the host into the container's /run/user/<uid>/ tree.
type runtimeSymlink struct {
	containerPath string
	hostPath      string
}

// materializeRuntimeSymlinks implements spec.md §4.3.3 step 5.
func (s *Service) materializeRuntimeSymlinks(ctx context.Context, containerName string, creds *caller.Credentials) error {
	uid := creds.UID
	runtimeDir := fmt.Sprintf("/run/user/%d", uid)

	if err := s.backend.Mkdir(ctx, containerName, runtimeDir, int(uid), int(creds.GID), "0700"); err != nil {
		return classifyBackendErr(err, containerName)
	}

	var links []runtimeSymlink

	if wayland := creds.Env["WAYLAND_DISPLAY"]; wayland != "" {
		hostPath := path.Join(runtimeDir, wayland)
		links = append(links, runtimeSymlink{containerPath: hostPath, hostPath: hostPath})
	}

	if xauth := creds.Env["XAUTHORITY"]; xauth != "" {
		links = append(links, runtimeSymlink{containerPath: path.Join(runtimeDir, path.Base(xauth)), hostPath: xauth})
	}

	links = append(links,
		runtimeSymlink{containerPath: path.Join(runtimeDir, "pipewire-0"), hostPath: path.Join(runtimeDir, "pipewire-0")},
		runtimeSymlink{containerPath: path.Join(runtimeDir, "pulse", "native"), hostPath: path.Join(runtimeDir, "pulse", "native")},
		runtimeSymlink{containerPath: path.Join(runtimeDir, "bus"), hostPath: path.Join(runtimeDir, "bus")},
	)

	for _, link := range links {
		target := hostfsPath(link.hostPath)
		if err := s.backend.CreateSymlink(ctx, containerName, link.containerPath, target, int(uid), int(creds.GID)); err != nil {
			return classifyBackendErr(err, containerName)
		}
	}

	if display := creds.Env["DISPLAY"]; display != "" {
		num := strings.TrimPrefix(display, ":")
		num = strings.SplitN(num, ".", 2)[0]

		x11Dir := "/tmp/.X11-unix"
		if err := s.backend.Mkdir(ctx, containerName, x11Dir, 0, 0, "1777"); err != nil {
			return classifyBackendErr(err, containerName)
		}

		sockPath := path.Join(x11Dir, "X"+num)
		target := hostfsPath(sockPath)
		if err := s.backend.CreateSymlink(ctx, containerName, sockPath, target, 0, 0); err != nil {
			return classifyBackendErr(err, containerName)
		}
	}

	return nil
}

// composeExecArgs implements spec.md §4.3.3 step 6.
func (s *Service) composeExecArgs(containerName string, creds *caller.Credentials, home string, command []string) []string {
	cwd := home
	if cwd == "" {
		cwd = "/"
	}

	args := []string{
		s.incusCLI, "exec", containerName,
		"--user", strconv.FormatUint(uint64(creds.UID), 10),
		"--group", strconv.FormatUint(uint64(creds.GID), 10),
		"--cwd", cwd,
	}

	for _, name := range []string{"TERM", "DISPLAY", "WAYLAND_DISPLAY", "XAUTHORITY"} {
		if v, ok := creds.Env[name]; ok {
			args = append(args, "--env", name+"="+v)
		}
	}

	args = append(args, "--env", fmt.Sprintf("XDG_RUNTIME_DIR=/run/user/%d", creds.UID))
	args = append(args, "--")

	if len(command) > 0 {
		args = append(args, command...)
	} else {
		args = append(args, "/bin/bash", "-l")
	}

	return args
}

func (s *Service) exec(ctx context.Context, containerName string, command []string) (*incusapi.ExecResult, error) {
	return s.backend.ExecInstance(ctx, containerName, incusapi.ExecRequest{
		Command: command,
		UID:     0,
		GID:     0,
	})
}
