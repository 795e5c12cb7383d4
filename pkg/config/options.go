package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	OptionStoreDriver   = "WSMASTER_STORE_DRIVER"
	OptionStorePath     = "WSMASTER_STORE_PATH"
	OptionMachineDriver = "WSMASTER_MACHINE_DRIVER"
	OptionDockerNetwork = "WSMASTER_DOCKER_NETWORK"
	OptionMemoryLimit   = "WSMASTER_MEMORY_LIMIT_MB"
	OptionAddress       = "WSMASTER_DAEMON_ADDRESS"
	OptionDefaultOwner  = "WSMASTER_DEFAULT_OWNER"
	OptionLogLevel      = "WSMASTER_LOG_LEVEL"
	OptionLogFile       = "WSMASTER_LOG_FILE"
)

type Option struct {
	// Name is the environment variable
	Name string

	// Description of the option
	Description string

	// Enum of allowed values, empty allows everything
	Enum []string

	apply func(config *Config, value string)
}

var Options = []Option{
	{
		Name:        OptionStoreDriver,
		Description: "Specifies where workspaces are persisted",
		Enum:        []string{"memory", "file", "sqlite"},
		apply:       func(c *Config, v string) { c.Store.Driver = v },
	},
	{
		Name:        OptionStorePath,
		Description: "Specifies the store directory or database file",
		apply:       func(c *Config, v string) { c.Store.Path = v },
	},
	{
		Name:        OptionMachineDriver,
		Description: "Specifies how machines are provisioned",
		Enum:        []string{"docker", "fake"},
		apply:       func(c *Config, v string) { c.Machine.Driver = v },
	},
	{
		Name:        OptionDockerNetwork,
		Description: "Specifies the docker network machines are attached to",
		apply:       func(c *Config, v string) { c.Machine.DockerNetwork = v },
	},
	{
		Name:        OptionMemoryLimit,
		Description: "Specifies the default machine memory limit in megabytes",
		apply: func(c *Config, v string) {
			limit, err := strconv.Atoi(v)
			if err == nil && limit >= 0 {
				c.Machine.MemoryLimitMB = limit
			}
		},
	},
	{
		Name:        OptionAddress,
		Description: "Specifies the address of the daemon",
		apply:       func(c *Config, v string) { c.Daemon.Address = v },
	},
	{
		Name:        OptionDefaultOwner,
		Description: "Specifies the owner of requests without a user",
		apply:       func(c *Config, v string) { c.Daemon.DefaultOwner = v },
	},
	{
		Name:        OptionLogLevel,
		Description: "Specifies the daemon log level",
		Enum:        []string{"debug", "info", "warn", "error", "fatal"},
		apply:       func(c *Config, v string) { c.Log.Level = v },
	},
	{
		Name:        OptionLogFile,
		Description: "Specifies the daemon log file",
		apply:       func(c *Config, v string) { c.Log.File = v },
	},
}

// MergeOptions applies the environment overrides in environ to config.
// Values outside an option's enum are ignored.
func MergeOptions(config *Config, environ []string) {
	envVars := map[string]string{}
	for _, v := range environ {
		name, value, ok := strings.Cut(v, "=")
		if ok && value != "" {
			envVars[name] = value
		}
	}

	for _, option := range Options {
		value, ok := envVars[option.Name]
		if !ok || !option.allows(value) {
			continue
		}

		option.apply(config, value)
	}
}

// SetOption sets a single option by name. Unknown options and values
// outside the enum are rejected.
func SetOption(config *Config, name, value string) error {
	for _, option := range Options {
		if option.Name != name {
			continue
		}
		if !option.allows(value) {
			return errors.Errorf("invalid value %q for option %s, allowed are %s", value, name, strings.Join(option.Enum, ", "))
		}

		option.apply(config, value)
		return nil
	}

	return errors.Errorf("unknown option %s", name)
}

func (o Option) allows(value string) bool {
	if len(o.Enum) == 0 {
		return true
	}

	for _, allowed := range o.Enum {
		if allowed == value {
			return true
		}
	}
	return false
}
