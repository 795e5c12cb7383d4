package cmd

import (
	"context"
	"time"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/loft-sh/wsmaster/cmd/utils"
	"github.com/loft-sh/wsmaster/pkg/daemon"
	"github.com/loft-sh/wsmaster/pkg/events"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// StartCmd holds the start cmd flags
type StartCmd struct {
	*flags.GlobalFlags

	Environment string
	Recover     bool
	Wait        bool
	Timeout     time.Duration
}

// NewStartCmd creates a new start command
func NewStartCmd(flags *flags.GlobalFlags) *cobra.Command {
	cmd := &StartCmd{
		GlobalFlags: flags,
	}
	startCmd := &cobra.Command{
		Use:     "start [workspace-name|workspace-id]",
		Aliases: []string{"up"},
		Short:   "Starts an existing workspace",
		Args:    cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context(), args[0])
		},
		ValidArgsFunction: func(rootCmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return utils.GetWorkspaceSuggestions(rootCmd, cmd.GlobalFlags, args, toComplete)
		},
	}

	startCmd.Flags().StringVar(&cmd.Environment, "env", "", "The environment to start. Defaults to the workspace default environment")
	startCmd.Flags().BoolVar(&cmd.Recover, "recover", false, "Recovers the machines from their latest snapshots")
	startCmd.Flags().BoolVar(&cmd.Wait, "wait", true, "Waits until the workspace is running")
	startCmd.Flags().DurationVar(&cmd.Timeout, "timeout", 10*time.Minute, "How long to wait with --wait")
	return startCmd
}

// NewRecoverCmd creates a start command that recovers from snapshots
func NewRecoverCmd(flags *flags.GlobalFlags) *cobra.Command {
	recoverCmd := NewStartCmd(flags)
	recoverCmd.Use = "recover [workspace-name|workspace-id]"
	recoverCmd.Aliases = nil
	recoverCmd.Short = "Starts an existing workspace from its latest snapshot"
	_ = recoverCmd.Flags().Set("recover", "true")
	recoverCmd.Flags().Lookup("recover").Hidden = true
	return recoverCmd
}

// Run runs the command logic
func (cmd *StartCmd) Run(ctx context.Context, idOrName string) error {
	client, _, err := utils.NewClient(cmd.GlobalFlags)
	if err != nil {
		return err
	}

	ws, err := client.ResolveWorkspace(ctx, idOrName, cmd.User)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, cmd.Timeout)
	defer cancel()

	var stream *daemon.EventStream
	if cmd.Wait {
		stream, err = client.OpenEvents(waitCtx, ws.ID)
		if err != nil {
			return err
		}
		defer stream.Close()
	}

	ws, err = client.StartWorkspace(ctx, ws.ID, cmd.Environment, cmd.Recover)
	if err != nil {
		return err
	}
	if !cmd.Wait {
		log.Default.Infof("Workspace %s is %s", ws.Config.Name, ws.Status)
		return nil
	}

	log.Default.Infof("Waiting for workspace %s to start...", ws.Config.Name)
	event, err := waitForEvent(waitCtx, stream, events.EventTypeRunning, events.EventTypeError)
	if err != nil {
		return err
	} else if event.EventType == events.EventTypeError {
		return errors.Errorf("workspace %s failed to start: %s", ws.Config.Name, event.Error)
	}

	log.Default.Donef("Workspace %s is running", ws.Config.Name)
	return nil
}
