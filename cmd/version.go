package cmd

import (
	"context"
	"fmt"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/loft-sh/wsmaster/cmd/utils"
	"github.com/loft-sh/wsmaster/pkg/version"
	"github.com/spf13/cobra"
)

// VersionCmd holds the version cmd flags
type VersionCmd struct {
	*flags.GlobalFlags

	Client bool
}

// NewVersionCmd creates a new version command
func NewVersionCmd(flags *flags.GlobalFlags) *cobra.Command {
	cmd := &VersionCmd{
		GlobalFlags: flags,
	}
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Prints the version",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context())
		},
	}

	versionCmd.Flags().BoolVar(&cmd.Client, "client", false, "Only prints the cli version")
	return versionCmd
}

// Run runs the command logic
func (cmd *VersionCmd) Run(ctx context.Context) error {
	if cmd.Client {
		fmt.Println(version.GetVersion())
		return nil
	}

	fmt.Printf("Client: %s\n", version.GetVersion())
	client, _, err := utils.NewClient(cmd.GlobalFlags)
	if err != nil {
		return err
	}

	info, err := client.Version(ctx)
	if err != nil {
		log.Default.Debugf("get daemon version: %v", err)
		fmt.Println("Daemon: not available")
		return nil
	}

	fmt.Printf("Daemon: %s\n", info.ServerVersion)
	compatible, err := version.Compatible(version.GetVersion(), info.ServerVersion)
	if err != nil {
		return err
	} else if !compatible {
		log.Default.Warnf("cli %s and daemon %s are not compatible", version.GetVersion(), info.ServerVersion)
	}
	return nil
}
