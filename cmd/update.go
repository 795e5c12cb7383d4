package cmd

import (
	"context"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/loft-sh/wsmaster/cmd/utils"
	"github.com/spf13/cobra"
)

// UpdateCmd holds the update cmd flags
type UpdateCmd struct {
	*flags.GlobalFlags

	File string
}

// NewUpdateCmd creates a new update command
func NewUpdateCmd(flags *flags.GlobalFlags) *cobra.Command {
	cmd := &UpdateCmd{
		GlobalFlags: flags,
	}
	updateCmd := &cobra.Command{
		Use:   "update [workspace-name|workspace-id]",
		Short: "Replaces the config of a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context(), args[0])
		},
		ValidArgsFunction: func(rootCmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return utils.GetWorkspaceSuggestions(rootCmd, cmd.GlobalFlags, args, toComplete)
		},
	}

	updateCmd.Flags().StringVarP(&cmd.File, "file", "f", "", "The workspace config file, yaml or json. Use - to read from stdin")
	return updateCmd
}

// Run runs the command logic
func (cmd *UpdateCmd) Run(ctx context.Context, idOrName string) error {
	workspaceConfig, err := utils.ReadWorkspaceConfig(cmd.File)
	if err != nil {
		return err
	}

	client, _, err := utils.NewClient(cmd.GlobalFlags)
	if err != nil {
		return err
	}

	ws, err := client.ResolveWorkspace(ctx, idOrName, cmd.User)
	if err != nil {
		return err
	}

	ws, err = client.UpdateWorkspace(ctx, ws.ID, workspaceConfig)
	if err != nil {
		return err
	}

	log.Default.Donef("Updated workspace %s (%s)", ws.Config.Name, ws.ID)
	return nil
}
