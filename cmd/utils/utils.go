package utils

import (
	"fmt"
	"io"
	"os"

	"github.com/ghodss/yaml"
	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/loft-sh/wsmaster/pkg/config"
	"github.com/loft-sh/wsmaster/pkg/daemon"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/pkg/errors"
)

// NewClient creates a daemon client for the configured or flagged address
func NewClient(globalFlags *flags.GlobalFlags) (*daemon.Client, *config.Config, error) {
	wsmasterConfig, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	address := globalFlags.Address
	if address == "" {
		address = wsmasterConfig.Daemon.Address
	}

	return daemon.NewClient(address, globalFlags.User, globalFlags.Account), wsmasterConfig, nil
}

// ReadWorkspaceConfig reads a yaml or json workspace config from path, - reads stdin
func ReadWorkspaceConfig(path string) (*workspace.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("please specify a workspace config file with --file")
	}

	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read workspace config %s", path)
	}

	workspaceConfig := &workspace.Config{}
	err = yaml.Unmarshal(raw, workspaceConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "parse workspace config %s", path)
	}

	return workspaceConfig, nil
}
