package containersvc

import "context"

// PtyxisRegistrar is the optional terminal-profile collaborator from
// spec.md §4.3.1 step 5 (SPEC_FULL.md Open Question #3 decision): when
// present, CreateContainer asks it to register a terminal profile for
// the new container and records the returned identifier. A nil
// registrar is skipped; any error it returns is reported as a Warning
// message on the Operation — the collaborator's absence or failure never
// fails container creation.
//
// DeleteContainer calls UnregisterProfile with the recorded identifier
// (spec.md §4.3.2: "remove any recorded terminal profile"), with the
// same best-effort swallowing.
type PtyxisRegistrar interface {
	RegisterProfile(ctx context.Context, containerName string) (id string, err error)
	UnregisterProfile(ctx context.Context, profileID string) error
}
