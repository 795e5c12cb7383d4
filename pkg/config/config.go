package config

import (
	"os"
	"path/filepath"

	"github.com/ghodss/yaml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	// Store configures where workspaces are persisted
	Store StoreConfig `json:"store,omitempty"`

	// Machine configures how machines are provisioned
	Machine MachineConfig `json:"machine,omitempty"`

	// Daemon configures the http api
	Daemon DaemonConfig `json:"daemon,omitempty"`

	// Log configures logging of the daemon
	Log LogConfig `json:"log,omitempty"`
}

type StoreConfig struct {
	// Driver is one of memory, file or sqlite. Defaults to sqlite
	Driver string `json:"driver,omitempty"`

	// Path is the store directory or database file. Relative paths are
	// resolved against the config dir
	Path string `json:"path,omitempty"`
}

type MachineConfig struct {
	// Driver is one of docker or fake. Defaults to docker
	Driver string `json:"driver,omitempty"`

	// DockerNetwork is the network machines are attached to
	DockerNetwork string `json:"dockerNetwork,omitempty"`

	// MemoryLimitMB is used for machines that don't define a RAM limit
	MemoryLimitMB int `json:"memoryLimitMB,omitempty"`
}

type DaemonConfig struct {
	// Address the daemon listens on and the client connects to
	Address string `json:"address,omitempty"`

	// DefaultOwner is used for requests without a user
	DefaultOwner string `json:"defaultOwner,omitempty"`
}

type LogConfig struct {
	// Level is a logrus level name
	Level string `json:"level,omitempty"`

	// File enables the rotating json file log
	File string `json:"file,omitempty"`
}

var ConfigFile = "config.yaml"

var EnvFile = ".env"

const (
	DefaultStoreDriver   = "sqlite"
	DefaultMachineDriver = "docker"
	DefaultAddress       = "localhost:8090"
	DefaultOwner         = "wsmaster"
	DefaultLogLevel      = "info"
)

// LoadConfig reads the config file, the .env file next to it and the
// environment overrides. A missing config file yields the defaults.
func LoadConfig() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	err = godotenv.Load(filepath.Join(configDir, EnvFile))
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrap(err, "load env file")
	}

	config, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	MergeOptions(config, os.Environ())
	err = config.fillDefaults(configDir)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigFile reads only the config file, without env overrides or defaults
func LoadConfigFile() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	return readConfigFile(configPath)
}

func readConfigFile(configPath string) (*Config, error) {
	config := &Config{}
	configBytes, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "read config")
		}
		return config, nil
	}

	err = yaml.Unmarshal(configBytes, config)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", configPath)
	}
	return config, nil
}

func (c *Config) fillDefaults(configDir string) error {
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case "sqlite":
			c.Store.Path = "wsmaster.db"
		case "file":
			c.Store.Path = "workspaces"
		}
	}
	if c.Store.Path != "" {
		storePath, err := resolvePath(configDir, c.Store.Path)
		if err != nil {
			return err
		}
		c.Store.Path = storePath
	}
	if c.Log.File != "" {
		logFile, err := resolvePath(configDir, c.Log.File)
		if err != nil {
			return err
		}
		c.Log.File = logFile
	}
	if c.Machine.Driver == "" {
		c.Machine.Driver = DefaultMachineDriver
	}
	if c.Daemon.Address == "" {
		c.Daemon.Address = DefaultAddress
	}
	if c.Daemon.DefaultOwner == "" {
		c.Daemon.DefaultOwner = DefaultOwner
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	return nil
}

func SaveConfig(config *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(config)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(configPath), 0755)
	if err != nil {
		return err
	}

	err = os.WriteFile(configPath, out, 0666)
	if err != nil {
		return err
	}

	return nil
}
