package containersvc

import "fmt"

// Kapsule config keys live under the user.kapsule. namespace in an
// instance's Incus config map, per spec.md §6.
const (
	keyMode          = "user.kapsule.mode"
	keyPtyxisProfile = "user.kapsule.ptyxis-profile"

	// keyImage is a SPEC_FULL.md supplement: Incus doesn't otherwise
	// retain the alias a container was created from, and
	// ListContainers/GetContainerInfo need to report it back.
	keyImage = "user.kapsule.image"
)

// hostUserMappedKey is the per-uid provisioning marker from
// original_source/src/daemon/container_service.py's is_user_setup,
// letting PrepareEnter short-circuit re-provisioning on repeat entry.
func hostUserMappedKey(uid uint32) string {
	return fmt.Sprintf("user.kapsule.host-users.%d.mapped", uid)
}
