package cmd

import (
	"context"
	"time"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/loft-sh/wsmaster/cmd/utils"
	"github.com/loft-sh/wsmaster/pkg/apierror"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/spf13/cobra"
)

// DeleteCmd holds the delete cmd flags
type DeleteCmd struct {
	*flags.GlobalFlags

	Force          bool
	IgnoreNotFound bool
}

// NewDeleteCmd creates a new delete command
func NewDeleteCmd(flags *flags.GlobalFlags) *cobra.Command {
	cmd := &DeleteCmd{
		GlobalFlags: flags,
	}
	deleteCmd := &cobra.Command{
		Use:     "delete [workspace-name|workspace-id]",
		Aliases: []string{"rm"},
		Short:   "Deletes an existing workspace",
		Args:    cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context(), args[0])
		},
		ValidArgsFunction: func(rootCmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return utils.GetWorkspaceSuggestions(rootCmd, cmd.GlobalFlags, args, toComplete)
		},
	}

	deleteCmd.Flags().BoolVar(&cmd.Force, "force", false, "Stops the workspace first if it is running")
	deleteCmd.Flags().BoolVar(&cmd.IgnoreNotFound, "ignore-not-found", false, "Treat \"workspace not found\" as a successful delete")
	return deleteCmd
}

// Run runs the command logic
func (cmd *DeleteCmd) Run(ctx context.Context, idOrName string) error {
	client, _, err := utils.NewClient(cmd.GlobalFlags)
	if err != nil {
		return err
	}

	ws, err := client.ResolveWorkspace(ctx, idOrName, cmd.User)
	if err != nil {
		if cmd.IgnoreNotFound && apierror.IsNotFound(err) {
			log.Default.Infof("Workspace %s not found", idOrName)
			return nil
		}
		return err
	}

	if cmd.Force && ws.Status != workspace.StatusStopped {
		log.Default.Infof("Stopping workspace %s", ws.Config.Name)
		stopCmd := &StopCmd{GlobalFlags: cmd.GlobalFlags, Wait: true, Timeout: 5 * time.Minute}
		err = stopCmd.Run(ctx, ws.ID)
		if err != nil && !apierror.IsNotFound(err) {
			return err
		}
	}

	err = client.RemoveWorkspace(ctx, ws.ID)
	if err != nil {
		return err
	}

	log.Default.Donef("Deleted workspace %s", ws.Config.Name)
	return nil
}
