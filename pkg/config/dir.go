package config

import (
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

const (
	// WSMASTER_HOME overrides the wsmaster home, ~/.wsmaster by default
	WSMASTER_HOME = "WSMASTER_HOME"

	// WSMASTER_CONFIG overrides the config file path, <home>/config.yaml by default
	WSMASTER_CONFIG = "WSMASTER_CONFIG"
)

const homeDirName = ".wsmaster"

// SetHome makes dir the wsmaster home of this process. Relative dirs and ~
// are resolved right away, an empty dir keeps the current home.
func SetHome(dir string) error {
	if dir == "" {
		return nil
	}

	expanded, err := homedir.Expand(dir)
	if err != nil {
		return errors.Wrapf(err, "expand home %s", dir)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return errors.Wrapf(err, "resolve home %s", dir)
	}

	return os.Setenv(WSMASTER_HOME, abs)
}

func GetConfigDir() (string, error) {
	if home := os.Getenv(WSMASTER_HOME); home != "" {
		return home, nil
	}

	userHome, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "find user home")
	}
	return filepath.Join(userHome, homeDirName), nil
}

func GetConfigPath() (string, error) {
	if configPath := os.Getenv(WSMASTER_CONFIG); configPath != "" {
		return configPath, nil
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFile), nil
}

// resolvePath expands ~ in path and anchors relative paths at configDir
func resolvePath(configDir, path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", errors.Wrapf(err, "expand path %s", path)
	}
	if filepath.IsAbs(expanded) {
		return expanded, nil
	}

	return filepath.Join(configDir, expanded), nil
}
