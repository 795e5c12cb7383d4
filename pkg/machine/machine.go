package machine

import (
	"context"
	"time"
)

const (
	// TypeDocker is the only supported machine type
	TypeDocker = "docker"

	SourceTypeImage      = "image"
	SourceTypeDockerfile = "dockerfile"
)

// Config describes a single machine of an environment
type Config struct {
	// Name is the machine name, unique within its environment
	Name string `json:"name,omitempty"`

	// Type is the machine implementation type, always docker
	Type string `json:"type,omitempty"`

	// Dev marks the machine that hosts the workspace sources and tooling
	Dev bool `json:"dev,omitempty"`

	// Source describes how the machine is built
	Source *Source `json:"source,omitempty"`

	// Limits are the resource limits of the machine
	Limits Limits `json:"limits,omitempty"`

	// Envs are the environment variables of the machine
	Envs map[string]string `json:"envs,omitempty"`

	// Ports are the container ports to expose, e.g. 8080/tcp
	Ports []string `json:"ports,omitempty"`
}

type Source struct {
	// Type is either image or dockerfile
	Type string `json:"type,omitempty"`

	// Location is the image reference or the url of a dockerfile
	Location string `json:"location,omitempty"`

	// Content holds an inline dockerfile
	Content string `json:"content,omitempty"`
}

type Limits struct {
	// RAM is the memory limit in megabytes
	RAM int `json:"ram,omitempty"`
}

type Status string

const (
	StatusCreating   Status = "CREATING"
	StatusRunning    Status = "RUNNING"
	StatusDestroying Status = "DESTROYING"
)

// Machine is a provisioned container that belongs to a running workspace
type Machine struct {
	ID          string `json:"id,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	EnvName     string `json:"envName,omitempty"`
	Owner       string `json:"owner,omitempty"`

	// Config is the snapshot of the config this machine was created from
	Config Config `json:"config,omitempty"`

	Status Status `json:"status,omitempty"`

	// ContainerID is the engine id of the backing container
	ContainerID string `json:"containerId,omitempty"`

	CreationTimestamp time.Time `json:"creationTimestamp,omitempty"`
}

// Copy returns a deep copy of the machine
func (m *Machine) Copy() *Machine {
	if m == nil {
		return nil
	}

	out := *m
	out.Config = m.Config.Copy()
	return &out
}

// Copy returns a deep copy of the config
func (c Config) Copy() Config {
	out := c
	if c.Source != nil {
		source := *c.Source
		out.Source = &source
	}
	if c.Envs != nil {
		out.Envs = make(map[string]string, len(c.Envs))
		for k, v := range c.Envs {
			out.Envs[k] = v
		}
	}
	if c.Ports != nil {
		out.Ports = append([]string(nil), c.Ports...)
	}
	return out
}

// Snapshot is a saved machine filesystem that can be used to recover a machine
type Snapshot struct {
	ID          string `json:"id,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	EnvName     string `json:"envName,omitempty"`
	MachineName string `json:"machineName,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Dev         bool   `json:"dev,omitempty"`

	// ImageID is the engine image the snapshot was committed to
	ImageID string `json:"imageId,omitempty"`

	CreationTimestamp time.Time `json:"creationTimestamp,omitempty"`
}

// Manager provisions and destroys machines. Calls are slow and blocking,
// callers must not hold locks while calling into a Manager.
type Manager interface {
	// CreateMachineSync creates and starts a machine and returns once it is running
	CreateMachineSync(ctx context.Context, config Config, workspaceID, envName, owner string) (*Machine, error)

	// RecoverMachine creates a machine from the latest snapshot of the given config
	RecoverMachine(ctx context.Context, config Config, workspaceID, envName, owner string) (*Machine, error)

	// Destroy stops and removes the machine. If removeVolumes is true the
	// machine filesystem (volumes) is removed as well.
	Destroy(ctx context.Context, machineID string, removeVolumes bool) error

	// SaveSync snapshots the machine and returns once the snapshot is stored
	SaveSync(ctx context.Context, machineID, owner, envName string) (*Snapshot, error)

	// GetSnapshots returns all snapshots of the workspace owned by owner
	GetSnapshots(ctx context.Context, owner, workspaceID string) ([]*Snapshot, error)
}
