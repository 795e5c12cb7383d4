package workspace

import (
	"regexp"
	"strings"

	"github.com/loft-sh/wsmaster/pkg/apierror"
	"github.com/loft-sh/wsmaster/pkg/machine"
)

// ReservedAttributePrefix is reserved for attributes set by wsmaster itself
const ReservedAttributePrefix = "wsmaster."

var workspaceNameRegEx = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.\-]{1,18}[a-zA-Z0-9_]$`)

// Validator checks workspace configs before they are persisted or started.
// Every violation is reported as a bad request.
type Validator interface {
	Validate(config *Config) error
	ValidateWithoutWorkspaceName(config *Config) error
	ValidateWorkspaceName(name string) error
}

// NewValidator creates the default config validator
func NewValidator() Validator {
	return &validator{}
}

type validator struct{}

func (v *validator) Validate(config *Config) error {
	if config == nil {
		return apierror.BadRequest("Required non-null workspace configuration")
	}
	if err := v.ValidateWorkspaceName(config.Name); err != nil {
		return err
	}

	return v.ValidateWithoutWorkspaceName(config)
}

func (v *validator) ValidateWorkspaceName(name string) error {
	if name == "" {
		return apierror.BadRequest("Workspace name required")
	}
	if !workspaceNameRegEx.MatchString(name) {
		return apierror.BadRequest("Incorrect workspace name, it must be between 3 and 20 characters and may contain digits, latin letters, underscores, dots, dashes and should start and end only with digits, latin letters or underscores")
	}

	return nil
}

func (v *validator) ValidateWithoutWorkspaceName(config *Config) error {
	if config == nil {
		return apierror.BadRequest("Required non-null workspace configuration")
	}

	// default environment
	if config.DefaultEnv == "" {
		return apierror.BadRequest("Workspace default environment name required")
	}
	if _, ok := config.Environment(config.DefaultEnv); !ok {
		return apierror.BadRequest("Workspace default environment configuration required")
	}

	// environments
	envNames := map[string]bool{}
	for _, env := range config.Environments {
		if env.Name == "" {
			return apierror.BadRequest("Environment name should be neither null nor empty")
		}
		if envNames[env.Name] {
			return apierror.BadRequest("Workspace %s contains more than one environment with name %s", config.Name, env.Name)
		}
		envNames[env.Name] = true

		if err := validateEnvironment(&env); err != nil {
			return err
		}
	}

	// commands
	for _, command := range config.Commands {
		if command.Name == "" {
			return apierror.BadRequest("Workspace %s contains command with null or empty name", config.Name)
		}
		if strings.TrimSpace(command.CommandLine) == "" {
			return apierror.BadRequest("Command line required for command '%s' in workspace '%s'", command.Name, config.Name)
		}
	}

	// attributes
	for name := range config.Attributes {
		if name == "" {
			return apierror.BadRequest("Attribute name '%s' is not valid", name)
		}
		if strings.HasPrefix(name, ReservedAttributePrefix) {
			return apierror.BadRequest("Attribute name '%s' is not valid, the prefix '%s' is reserved", name, ReservedAttributePrefix)
		}
	}

	return nil
}

func validateEnvironment(env *Environment) error {
	if env.Recipe == nil || env.Recipe.Type != RecipeTypeDocker {
		recipeType := ""
		if env.Recipe != nil {
			recipeType = env.Recipe.Type
		}
		return apierror.BadRequest("Couldn't start workspace environment '%s', recipe type '%s' is not supported", env.Name, recipeType)
	}
	if len(env.MachineConfigs) == 0 {
		return apierror.BadRequest("Environment '%s' should contain at least 1 machine", env.Name)
	}

	devCount := len(env.DevMachines())
	if devCount != 1 {
		return apierror.BadRequest("Environment '%s' should contain exactly 1 dev machine, but contains '%d'", env.Name, devCount)
	}

	machineNames := map[string]bool{}
	for _, machineConfig := range env.MachineConfigs {
		if machineConfig.Name == "" {
			return apierror.BadRequest("Environment '%s' contains machine without of name", env.Name)
		}
		if machineNames[machineConfig.Name] {
			return apierror.BadRequest("Environment '%s' contains more than one machine with name '%s'", env.Name, machineConfig.Name)
		}
		machineNames[machineConfig.Name] = true

		if err := validateMachine(env.Name, &machineConfig); err != nil {
			return err
		}
	}

	return nil
}

func validateMachine(envName string, config *machine.Config) error {
	if config.Source == nil {
		return apierror.BadRequest("Environment '%s' contains machine '%s' without source", envName, config.Name)
	}
	if config.Type != machine.TypeDocker {
		return apierror.BadRequest("Type '%s' of machine '%s' in environment '%s' is not supported", config.Type, config.Name, envName)
	}

	switch config.Source.Type {
	case machine.SourceTypeImage:
		if config.Source.Location == "" {
			return apierror.BadRequest("Machine '%s' in environment '%s' requires an image location", config.Name, envName)
		}
	case machine.SourceTypeDockerfile:
		if config.Source.Location == "" && config.Source.Content == "" {
			return apierror.BadRequest("Machine '%s' in environment '%s' requires either dockerfile content or location", config.Name, envName)
		}
	default:
		return apierror.BadRequest("Source type '%s' of machine '%s' in environment '%s' is not supported", config.Source.Type, config.Name, envName)
	}

	if config.Limits.RAM < 0 {
		return apierror.BadRequest("Machine '%s' in environment '%s' has a negative memory limit", config.Name, envName)
	}

	return nil
}
