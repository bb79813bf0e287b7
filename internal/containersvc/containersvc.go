// Package containersvc is the Container Service (spec.md §4.3): the
// policy layer that turns each IPC method into a composition of
// Backend Client calls, applies the shared kapsule-base profile plus
// per-container devices, and runs the prepare-enter algorithm.
package containersvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/frostyard/kapsule/internal/incusapi"
	"github.com/frostyard/kapsule/internal/kapserr"
	"github.com/frostyard/kapsule/internal/logging"
	"github.com/frostyard/kapsule/internal/operation"
)

// Service is the Container Service. One instance is shared by the
// Service Facade across all Operations; it holds no per-call state of
// its own beyond the injected collaborators.
type Service struct {
	backend  *incusapi.Client
	ptyxis   PtyxisRegistrar
	log      logging.Logger
	incusCLI string
}

// New builds a Service. ptyxis may be nil (no terminal-profile
// integration). incusCLI is the path to the incus client binary used to
// compose PrepareEnter's exec_args.
func New(backend *incusapi.Client, ptyxis PtyxisRegistrar, log logging.Logger, incusCLI string) *Service {
	if log == nil {
		log = logging.Discard()
	}

	if incusCLI == "" {
		incusCLI = "incus"
	}

	return &Service{
		backend:  backend,
		ptyxis:   ptyxis,
		log:      log.AddContext(logging.Ctx{"component": "containersvc"}),
		incusCLI: incusCLI,
	}
}

// ContainerInfo is the Container descriptor projection returned by
// ListContainers/GetContainerInfo, matching the Manager interface's
// (name, status, image, created_iso8601, mode) tuple.
type ContainerInfo struct {
	Name      string
	Status    string
	Image     string
	CreatedAt string
	Mode      string
}

func toContainerInfo(inst *incusapi.Instance) ContainerInfo {
	mode := inst.Config[keyMode]
	if mode == "" {
		mode = string(ModeDefault)
	}

	return ContainerInfo{
		Name:      inst.Name,
		Status:    inst.Status,
		Image:     inst.Config[keyImage],
		CreatedAt: inst.CreatedAt.UTC().Format(time.RFC3339),
		Mode:      mode,
	}
}

// ListContainers returns every instance the backend knows about,
// projected to the Manager interface's tuple shape.
func (s *Service) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	instances, err := s.backend.ListInstances(ctx)
	if err != nil {
		return nil, classifyBackendErr(err, "")
	}

	infos := make([]ContainerInfo, len(instances))
	for i := range instances {
		infos[i] = toContainerInfo(&instances[i])
	}

	return infos, nil
}

// GetContainerInfo returns one container's descriptor, ContainerNotFound
// if absent.
func (s *Service) GetContainerInfo(ctx context.Context, name string) (*ContainerInfo, error) {
	inst, err := s.backend.GetInstance(ctx, name)
	if err != nil {
		return nil, classifyBackendErr(err, name)
	}

	info := toContainerInfo(inst)
	return &info, nil
}

// classifyBackendErr reclassifies a backend 404 on instance fetch as
// ContainerNotFound, per spec.md §7's propagation policy; everything
// else is wrapped as BackendError/BackendUnavailable.
func classifyBackendErr(err error, name string) error {
	var be *incusapi.BackendError
	if errors.As(err, &be) {
		if be.NotFound() {
			return kapserr.New(kapserr.KindContainerNotFound, "container %q not found", name)
		}

		return kapserr.Wrap(kapserr.KindBackendError, err, "backend returned status %d", be.StatusCode)
	}

	var unavailable *incusapi.ErrUnavailable
	if errors.As(err, &unavailable) {
		return kapserr.Wrap(kapserr.KindBackendUnavailable, err, "backend unreachable")
	}

	var timeout *incusapi.ErrTimeout
	if errors.As(err, &timeout) {
		return kapserr.Wrap(kapserr.KindTimeout, err, "backend operation %s timed out", timeout.OperationID)
	}

	return kapserr.Wrap(kapserr.KindInternal, err, "unexpected backend error")
}

// CreateContainer implements spec.md §4.3.1. It is an operation.Work:
// the Service Facade runs it under the Operation Engine and the
// returned error becomes the Operation's terminal state.
func (s *Service) CreateContainer(name, image string, sessionMode, dbusMux bool, defaultImage string) operation.Work {
	return func(ctx context.Context, report operation.Reporter) error {
		if err := ValidateName(name); err != nil {
			return err
		}

		mode, err := resolveMode(sessionMode, dbusMux)
		if err != nil {
			return err
		}

		exists, err := s.backend.InstanceExists(ctx, name)
		if err != nil {
			return classifyBackendErr(err, name)
		}
		if exists {
			return kapserr.New(kapserr.KindContainerAlreadyExists, "container %q already exists", name)
		}

		descriptor := image
		if descriptor == "" {
			descriptor = defaultImage
		}
		if descriptor == "" {
			return kapserr.New(kapserr.KindInvalidArgument, "no image given and no default_image configured")
		}

		source, err := ParseImage(descriptor)
		if err != nil {
			return err
		}

		report.Info(fmt.Sprintf("resolving image %s", descriptor))

		if err := s.ensureBaseProfile(ctx); err != nil {
			return classifyBackendErr(err, "")
		}

		if report.Cancelled() {
			return kapserr.New(kapserr.KindCancelled, "cancelled before create")
		}

		spec := incusapi.InstancesPost{
			Name:     name,
			Source:   source,
			Profiles: []string{BaseProfileName},
			Config: map[string]string{
				keyMode:         string(mode),
				keyImage:        descriptor,
				"volatile.uuid": uuid.NewString(),
			},
			Devices: map[string]incusapi.Device{
				"hostfs": {
					"type":         "disk",
					"source":       "/",
					"path":         "/.kapsule/host",
					"recursive":    "true",
					"allow-mounts": "true",
				},
				"gpu": {
					"type": "gpu",
					"gid":  "video",
				},
			},
		}

		report.Info("creating instance")

		handle, err := s.backend.CreateInstance(ctx, spec)
		if err != nil {
			return classifyBackendErr(err, name)
		}

		if _, err := handle.Wait(ctx, forwardProgress(report)); err != nil {
			if report.Cancelled() {
				return s.cleanupCancelledCreate(name, err)
			}

			return classifyInterruptedErr(report, err)
		}

		report.Info("starting instance")

		if err := s.changeState(ctx, report, name, incusapi.ActionStart, false, 30); err != nil {
			if report.Cancelled() {
				return s.cleanupCancelledCreate(name, err)
			}

			return err
		}

		if s.ptyxis != nil {
			id, err := s.ptyxis.RegisterProfile(ctx, name)
			if err != nil {
				report.Warning(fmt.Sprintf("ptyxis profile registration failed: %v", err))
			} else if id != "" {
				if err := s.backend.PatchInstanceConfig(ctx, name, map[string]string{keyPtyxisProfile: id}); err != nil {
					report.Warning(fmt.Sprintf("failed to record ptyxis profile: %v", err))
				}
			}
		}

		report.Success(fmt.Sprintf("container %q created", name))

		return nil
	}
}

// StartContainer implements spec.md §4.3.2's Start: idempotent if
// already Running.
func (s *Service) StartContainer(name string) operation.Work {
	return func(ctx context.Context, report operation.Reporter) error {
		inst, err := s.backend.GetInstance(ctx, name)
		if err != nil {
			return classifyBackendErr(err, name)
		}

		if inst.Status == "Running" {
			report.Success(fmt.Sprintf("container %q already running", name))
			return nil
		}

		return s.changeState(ctx, report, name, incusapi.ActionStart, false, 30)
	}
}

// StopContainer implements spec.md §4.3.2's Stop: idempotent if already
// Stopped.
func (s *Service) StopContainer(name string, force bool) operation.Work {
	return func(ctx context.Context, report operation.Reporter) error {
		inst, err := s.backend.GetInstance(ctx, name)
		if err != nil {
			return classifyBackendErr(err, name)
		}

		if inst.Status == "Stopped" {
			report.Success(fmt.Sprintf("container %q already stopped", name))
			return nil
		}

		return s.changeState(ctx, report, name, incusapi.ActionStop, force, 30)
	}
}

// DeleteContainer implements spec.md §4.3.2's Delete: refuses a running
// target without force, stops-then-deletes with force.
func (s *Service) DeleteContainer(name string, force bool) operation.Work {
	return func(ctx context.Context, report operation.Reporter) error {
		inst, err := s.backend.GetInstance(ctx, name)
		if err != nil {
			return classifyBackendErr(err, name)
		}

		if inst.Status == "Running" {
			if !force {
				return kapserr.New(kapserr.KindContainerRunning, "container %q is running", name)
			}

			if err := s.changeState(ctx, report, name, incusapi.ActionStop, true, 30); err != nil {
				return err
			}
		}

		if profileID := inst.Config[keyPtyxisProfile]; profileID != "" && s.ptyxis != nil {
			if err := s.ptyxis.UnregisterProfile(ctx, profileID); err != nil {
				report.Warning(fmt.Sprintf("failed to remove ptyxis profile: %v", err))
			}
		}

		report.Info(fmt.Sprintf("deleting container %q", name))

		handle, err := s.backend.DeleteInstance(ctx, name)
		if err != nil {
			return classifyBackendErr(err, name)
		}

		if _, err := handle.Wait(ctx, forwardProgress(report)); err != nil {
			return classifyInterruptedErr(report, err)
		}

		report.Success(fmt.Sprintf("container %q deleted", name))

		return nil
	}
}

func (s *Service) changeState(ctx context.Context, report operation.Reporter, name string, action incusapi.InstanceAction, force bool, timeout int) error {
	if report.Cancelled() {
		return kapserr.New(kapserr.KindCancelled, "cancelled before %s", action)
	}

	handle, err := s.backend.UpdateInstanceState(ctx, name, incusapi.InstanceStatePut{
		Action:  action,
		Timeout: timeout,
		Force:   force,
	})
	if err != nil {
		return classifyBackendErr(err, name)
	}

	if _, err := handle.Wait(ctx, forwardProgress(report)); err != nil {
		return classifyInterruptedErr(report, err)
	}

	return nil
}

// forwardProgress adapts a backend operation's raw metadata chunks into
// Info messages on the Operation's own progress stream.
func forwardProgress(report operation.Reporter) incusapi.ProgressFunc {
	return func(meta map[string]any) {
		if stage, ok := meta["stage"].(string); ok && stage != "" {
			report.Info(stage)
		}
	}
}

// classifyInterruptedErr distinguishes a cooperative cancellation from
// a genuine backend failure when a wait returns an error: if the
// Reporter's token was armed, the wait's error is almost certainly the
// context cancellation it caused, so report Cancelled instead of
// whatever transport error surfaced.
func classifyInterruptedErr(report operation.Reporter, err error) error {
	if report.Cancelled() {
		return kapserr.Wrap(kapserr.KindCancelled, err, "operation cancelled")
	}

	return classifyBackendErr(err, "")
}

// cleanupCancelledCreate implements spec.md §9 test S1's cancellation
// contract: a CreateContainer cancelled mid-flight removes the
// partially-created instance, using a fresh context since the
// Operation's own context is already cancelled. If cleanup itself
// fails, the returned error says so instead of hiding it behind the
// cancellation.
func (s *Service) cleanupCancelledCreate(name string, cause error) error {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	handle, err := s.backend.DeleteInstance(cleanupCtx, name)
	if err != nil {
		return kapserr.Wrap(kapserr.KindCancelled, cause, "operation cancelled; cleanup of partial instance %q failed: %v", name, err)
	}

	if _, err := handle.Wait(cleanupCtx, nil); err != nil {
		return kapserr.Wrap(kapserr.KindCancelled, cause, "operation cancelled; cleanup of partial instance %q failed: %v", name, err)
	}

	return kapserr.Wrap(kapserr.KindCancelled, cause, "operation cancelled; partial instance %q removed", name)
}

// GetConfig returns the recognized configuration keys for the Manager's
// GetConfig method.
func (s *Service) GetConfig(defaultContainer, defaultImage string) map[string]string {
	return map[string]string{
		"default_container": defaultContainer,
		"default_image":     defaultImage,
	}
}
