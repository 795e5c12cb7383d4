package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/loft-sh/wsmaster/cmd/utils"
	"github.com/spf13/cobra"
)

// RunCmd holds the run cmd flags
type RunCmd struct {
	*flags.GlobalFlags

	File   string
	Output string
}

// NewRunCmd creates a new run command
func NewRunCmd(flags *flags.GlobalFlags) *cobra.Command {
	cmd := &RunCmd{
		GlobalFlags: flags,
	}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Starts a temporary workspace that is gone once it stops",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context())
		},
	}

	runCmd.Flags().StringVarP(&cmd.File, "file", "f", "", "The workspace config file, yaml or json. Use - to read from stdin")
	runCmd.Flags().StringVar(&cmd.Output, "output", "plain", "The output format to use. Can be json or plain")
	return runCmd
}

// Run runs the command logic
func (cmd *RunCmd) Run(ctx context.Context) error {
	workspaceConfig, err := utils.ReadWorkspaceConfig(cmd.File)
	if err != nil {
		return err
	}

	client, _, err := utils.NewClient(cmd.GlobalFlags)
	if err != nil {
		return err
	}

	log.Default.Infof("Starting temporary workspace %s...", workspaceConfig.Name)
	runtimeWorkspace, err := client.StartTemporaryWorkspace(ctx, workspaceConfig)
	if err != nil {
		return err
	}

	if cmd.Output == "json" {
		out, err := json.Marshal(runtimeWorkspace)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	}

	log.Default.Donef("Temporary workspace %s (%s) is running with %d machine(s)", runtimeWorkspace.Config.Name, runtimeWorkspace.ID, len(runtimeWorkspace.Machines))
	log.Default.Infof("Run 'wsmaster stop %s' to remove it", runtimeWorkspace.ID)
	return nil
}
