package cmd

import (
	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/loft-sh/wsmaster/pkg/daemon"
	"github.com/spf13/cobra"
)

// NewServiceCmd creates the service command group
func NewServiceCmd(flags *flags.GlobalFlags) *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manages the wsmaster daemon system service",
		Args:  cobra.NoArgs,
	}

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Installs and starts the daemon as a system service",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			serveArgs := []string{}
			if flags.WsmasterHome != "" {
				serveArgs = append(serveArgs, "--home", flags.WsmasterHome)
			}
			if flags.Address != "" {
				serveArgs = append(serveArgs, "--address", flags.Address)
			}
			if flags.Debug {
				serveArgs = append(serveArgs, "--debug")
			}

			return daemon.InstallService(serveArgs, log.Default)
		},
	})
	serviceCmd.AddCommand(&cobra.Command{
		Use:   "remove",
		Short: "Stops and removes the daemon system service",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return daemon.RemoveService(log.Default)
		},
	})
	return serviceCmd
}
