package containersvc

import (
	"strings"

	"github.com/frostyard/kapsule/internal/incusapi"
	"github.com/frostyard/kapsule/internal/kapserr"
)

// ParseImage parses the `<server-alias>:<image-path>` grammar from
// spec.md §6 into an InstanceSource. An empty descriptor is the
// caller's signal to fall back to the configured default image before
// calling ParseImage at all.
func ParseImage(descriptor string) (incusapi.InstanceSource, error) {
	server, alias, found := strings.Cut(descriptor, ":")
	if !found || server == "" || alias == "" {
		return incusapi.InstanceSource{}, kapserr.New(kapserr.KindInvalidArgument,
			"image %q does not match the <server-alias>:<image-path> grammar", descriptor)
	}

	return incusapi.InstanceSource{
		Type:     "image",
		Protocol: "simplestreams",
		Server:   server,
		Alias:    alias,
	}, nil
}

// FormatImage renders an InstanceSource back to the descriptor form, the
// inverse of ParseImage. ListContainers / GetContainerInfo do not call it:
// they report the descriptor stored under user.kapsule.image.
func FormatImage(src incusapi.InstanceSource) string {
	if src.Server == "" && src.Alias == "" {
		return ""
	}

	return src.Server + ":" + src.Alias
}
