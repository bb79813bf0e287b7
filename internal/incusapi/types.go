// Package incusapi is the Backend Client: a typed asynchronous client for
// the Incus REST API over a Unix-domain socket (spec.md §4.1). It knows
// about the envelope format and the operation/wait lifecycle; it knows
// nothing about kapsule containers, profiles, or D-Bus.
package incusapi

import "time"

// Instance is the container/VM descriptor returned by GET /1.0/instances/*.
// Field names mirror the subset of Incus's api.Instance the daemon needs.
type Instance struct {
	Name         string            `json:"name"`
	Status       string            `json:"status"`
	StatusCode   int               `json:"status_code"`
	Architecture string            `json:"architecture,omitempty"`
	Config       map[string]string `json:"config,omitempty"`
	Devices      map[string]Device `json:"devices,omitempty"`
	Profiles     []string          `json:"profiles,omitempty"`
	Ephemeral    bool              `json:"ephemeral,omitempty"`
	Stateful     bool              `json:"stateful,omitempty"`
	Description  string            `json:"description,omitempty"`
	CreatedAt    time.Time         `json:"created_at,omitempty"`
}

// Device is a single device entry inside an instance's or profile's device
// map, e.g. {"type": "disk", "source": "/", "path": "/.kapsule/host"}.
type Device map[string]string

// InstanceSource describes where an instance's rootfs image comes from.
type InstanceSource struct {
	Type     string `json:"type"`
	Protocol string `json:"protocol,omitempty"`
	Server   string `json:"server,omitempty"`
	Alias    string `json:"alias,omitempty"`
}

// InstancesPost is the request body for POST /1.0/instances.
type InstancesPost struct {
	Name     string            `json:"name"`
	Source   InstanceSource    `json:"source"`
	Profiles []string          `json:"profiles,omitempty"`
	Config   map[string]string `json:"config,omitempty"`
	Devices  map[string]Device `json:"devices,omitempty"`
}

// InstancePut is the request body for PUT /1.0/instances/<name>, used to
// patch config and devices while preserving the rest of the instance.
type InstancePut struct {
	Architecture string            `json:"architecture,omitempty"`
	Config       map[string]string `json:"config"`
	Description  string            `json:"description,omitempty"`
	Devices      map[string]Device `json:"devices"`
	Ephemeral    bool              `json:"ephemeral"`
	Profiles     []string          `json:"profiles,omitempty"`
	Stateful     bool              `json:"stateful"`
}

// InstanceAction is one of the values accepted by InstanceStatePut.Action.
type InstanceAction string

const (
	ActionStart    InstanceAction = "start"
	ActionStop     InstanceAction = "stop"
	ActionRestart  InstanceAction = "restart"
	ActionFreeze   InstanceAction = "freeze"
	ActionUnfreeze InstanceAction = "unfreeze"
)

// InstanceStatePut is the request body for PUT /1.0/instances/<name>/state.
type InstanceStatePut struct {
	Action  InstanceAction `json:"action"`
	Timeout int            `json:"timeout,omitempty"`
	Force   bool           `json:"force,omitempty"`
}

// Operation is the typed metadata of an Incus background operation, from
// both the initial async envelope and GET/wait on /1.0/operations/<id>.
type Operation struct {
	ID         string         `json:"id"`
	Class      string         `json:"class,omitempty"`
	Status     string         `json:"status"`
	StatusCode int            `json:"status_code"`
	Err        string         `json:"err,omitempty"`
	MayCancel  bool           `json:"may_cancel,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Done reports whether the operation has reached a terminal backend status.
func (o Operation) Done() bool {
	switch o.Status {
	case "Success", "Failure", "Cancelled":
		return true
	default:
		return false
	}
}

// Profile is an Incus profile: a named, reusable bundle of config+devices.
type Profile struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
	Devices     map[string]Device `json:"devices,omitempty"`
}

// ProfilesPost is the request body for POST /1.0/profiles.
type ProfilesPost struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
	Devices     map[string]Device `json:"devices,omitempty"`
}

// ProfilePut is the request body for PUT /1.0/profiles/<name>.
type ProfilePut struct {
	Description string            `json:"description,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
	Devices     map[string]Device `json:"devices,omitempty"`
}

// Server is the (small) subset of GET /1.0 the daemon reads.
type Server struct {
	Config      map[string]string `json:"config,omitempty"`
	Environment ServerEnvironment `json:"environment,omitempty"`
}

// ServerEnvironment carries read-only server facts.
type ServerEnvironment struct {
	ServerVersion string `json:"server_version,omitempty"`
}

// envelope is the outer Incus response wrapper described in spec.md §4.1:
// {type: sync|async|error, status_code, metadata}.
type envelope struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	Operation  string `json:"operation,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorCode  int    `json:"error_code,omitempty"`
	Metadata   any    `json:"metadata,omitempty"`
}
