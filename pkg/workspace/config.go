package workspace

import (
	"time"

	"github.com/loft-sh/wsmaster/pkg/machine"
)

// RecipeTypeDocker is the only recipe type an environment can be started from
const RecipeTypeDocker = "docker"

// Config describes what a workspace could run
type Config struct {
	// Name is the workspace name, unique per owner
	Name string `json:"name,omitempty"`

	// Description is a free form description
	Description string `json:"description,omitempty"`

	// DefaultEnv is the environment used when none is given on start
	DefaultEnv string `json:"defaultEnv,omitempty"`

	// Environments are the environments this workspace can be started in
	Environments []Environment `json:"environments,omitempty"`

	// Commands are the commands available in the workspace
	Commands []Command `json:"commands,omitempty"`

	// Attributes hold additional key value pairs
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Environment is a named group of machines plus the recipe to boot them
type Environment struct {
	Name           string           `json:"name,omitempty"`
	Recipe         *Recipe          `json:"recipe,omitempty"`
	MachineConfigs []machine.Config `json:"machineConfigs,omitempty"`
}

type Recipe struct {
	// Type is the recipe type, only docker is supported
	Type string `json:"type,omitempty"`

	// ContentType is the mime type of Content
	ContentType string `json:"contentType,omitempty"`

	// Content is the inline recipe
	Content string `json:"content,omitempty"`

	// Location is the url of the recipe
	Location string `json:"location,omitempty"`
}

type Command struct {
	Name        string            `json:"name,omitempty"`
	CommandLine string            `json:"commandLine,omitempty"`
	Type        string            `json:"type,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Environment returns the environment with the given name
func (c *Config) Environment(name string) (*Environment, bool) {
	for i := range c.Environments {
		if c.Environments[i].Name == name {
			return &c.Environments[i], true
		}
	}

	return nil, false
}

// DevMachines returns the dev flagged machine configs of the environment
func (e *Environment) DevMachines() []machine.Config {
	var out []machine.Config
	for _, machineConfig := range e.MachineConfigs {
		if machineConfig.Dev {
			out = append(out, machineConfig)
		}
	}
	return out
}

// Copy returns a deep copy of the config
func (c Config) Copy() Config {
	out := c
	if c.Environments != nil {
		out.Environments = make([]Environment, 0, len(c.Environments))
		for _, env := range c.Environments {
			envCopy := Environment{Name: env.Name}
			if env.Recipe != nil {
				recipe := *env.Recipe
				envCopy.Recipe = &recipe
			}
			if env.MachineConfigs != nil {
				envCopy.MachineConfigs = make([]machine.Config, 0, len(env.MachineConfigs))
				for _, machineConfig := range env.MachineConfigs {
					envCopy.MachineConfigs = append(envCopy.MachineConfigs, machineConfig.Copy())
				}
			}
			out.Environments = append(out.Environments, envCopy)
		}
	}
	if c.Commands != nil {
		out.Commands = make([]Command, 0, len(c.Commands))
		for _, command := range c.Commands {
			command.Attributes = copyMap(command.Attributes)
			out.Commands = append(out.Commands, command)
		}
	}
	out.Attributes = copyMap(c.Attributes)
	return out
}

// Status is the displayed status of a workspace
type Status string

const (
	StatusStarting Status = "STARTING"
	StatusRunning  Status = "RUNNING"
	StatusStopping Status = "STOPPING"
	StatusStopped  Status = "STOPPED"
)

// Workspace is a persisted workspace definition together with its status
type Workspace struct {
	ID        string `json:"id,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Config    Config `json:"config"`
	Temporary bool   `json:"temporary,omitempty"`
	Status    Status `json:"status,omitempty"`

	CreationTimestamp time.Time `json:"creationTimestamp,omitempty"`
}

// Copy returns a deep copy of the workspace
func (w *Workspace) Copy() *Workspace {
	if w == nil {
		return nil
	}

	out := *w
	out.Config = w.Config.Copy()
	return &out
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}

	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
