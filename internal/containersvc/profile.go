package containersvc

import (
	"context"

	"github.com/frostyard/kapsule/internal/incusapi"
)

// BaseProfileName is the shared Incus profile every Kapsule container
// uses, grounded on original_source/src/daemon/profile.py's
// KAPSULE_BASE_PROFILE: rather than inlining the privileged/nesting
// config and the base devices into every CreateInstance call, the
// daemon ensures this profile exists once and applies it alongside the
// per-container devices spec.md §4.3.1 step 2 names.
const BaseProfileName = "kapsule-base"

// baseProfileDefinition is the kapsule-base profile body, created
// idempotently the first time any container is created.
func baseProfileDefinition() incusapi.ProfilesPost {
	return incusapi.ProfilesPost{
		Name:        BaseProfileName,
		Description: "Base profile shared by all Kapsule containers",
		Config: map[string]string{
			"security.privileged": "true",
			"security.nesting":    "true",
			"raw.lxc":             "lxc.net.0.type=none",
		},
		Devices: map[string]incusapi.Device{
			"root": {
				"type": "disk",
				"path": "/",
				"pool": "default",
			},
		},
	}
}

// ensureBaseProfile creates kapsule-base on first use. Safe to call on
// every CreateContainer: EnsureProfile is a no-op once the profile
// exists.
func (s *Service) ensureBaseProfile(ctx context.Context) error {
	_, err := s.backend.EnsureProfile(ctx, BaseProfileName, baseProfileDefinition())
	return err
}
