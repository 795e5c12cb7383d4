// Package workspacetest provides workspace fixtures for tests.
package workspacetest

import (
	"time"

	"github.com/loft-sh/wsmaster/pkg/machine"
	"github.com/loft-sh/wsmaster/pkg/workspace"
)

const (
	DevEnv     = "dev-env"
	DevMachine = "dev-machine"
)

// MachineConfig returns a docker machine config built from an image
func MachineConfig(name string, dev bool) machine.Config {
	return machine.Config{
		Name: name,
		Type: machine.TypeDocker,
		Dev:  dev,
		Source: &machine.Source{
			Type:     machine.SourceTypeImage,
			Location: "alpine:3.20",
		},
		Limits: machine.Limits{RAM: 512},
	}
}

// Config returns a valid config with a single environment that holds the dev
// machine followed by extraMachines non-dev machines
func Config(name string, extraMachines ...string) *workspace.Config {
	machines := []machine.Config{MachineConfig(DevMachine, true)}
	for _, extra := range extraMachines {
		machines = append(machines, MachineConfig(extra, false))
	}

	return &workspace.Config{
		Name:       name,
		DefaultEnv: DevEnv,
		Environments: []workspace.Environment{
			{
				Name:           DevEnv,
				Recipe:         &workspace.Recipe{Type: workspace.RecipeTypeDocker, ContentType: "text/x-dockerfile", Location: "recipe"},
				MachineConfigs: machines,
			},
		},
		Commands: []workspace.Command{
			{Name: "build", CommandLine: "make build", Type: "custom"},
		},
		Attributes: map[string]string{"project": "wsmaster"},
	}
}

// Workspace returns a stopped workspace around Config
func Workspace(id, owner, name string, extraMachines ...string) *workspace.Workspace {
	return &workspace.Workspace{
		ID:                id,
		Owner:             owner,
		Config:            *Config(name, extraMachines...),
		Status:            workspace.StatusStopped,
		CreationTimestamp: time.Now(),
	}
}
