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

// StopCmd holds the stop cmd flags
type StopCmd struct {
	*flags.GlobalFlags

	Wait    bool
	Timeout time.Duration
}

// NewStopCmd creates a new stop command
func NewStopCmd(flags *flags.GlobalFlags) *cobra.Command {
	cmd := &StopCmd{
		GlobalFlags: flags,
	}
	stopCmd := &cobra.Command{
		Use:     "stop [workspace-name|workspace-id]",
		Aliases: []string{"down"},
		Short:   "Stops a running workspace",
		Args:    cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context(), args[0])
		},
		ValidArgsFunction: func(rootCmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return utils.GetWorkspaceSuggestions(rootCmd, cmd.GlobalFlags, args, toComplete)
		},
	}

	stopCmd.Flags().BoolVar(&cmd.Wait, "wait", true, "Waits until all machines are destroyed")
	stopCmd.Flags().DurationVar(&cmd.Timeout, "timeout", 5*time.Minute, "How long to wait with --wait")
	return stopCmd
}

// Run runs the command logic
func (cmd *StopCmd) Run(ctx context.Context, idOrName string) error {
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

	err = client.StopWorkspace(ctx, ws.ID)
	if err != nil {
		return err
	}
	if !cmd.Wait {
		log.Default.Infof("Stopping workspace %s", ws.Config.Name)
		return nil
	}

	event, err := waitForEvent(waitCtx, stream, events.EventTypeStopped, events.EventTypeError)
	if err != nil {
		return err
	} else if event.EventType == events.EventTypeError {
		return errors.Errorf("workspace %s failed to stop: %s", ws.Config.Name, event.Error)
	}

	log.Default.Donef("Stopped workspace %s", ws.Config.Name)
	return nil
}
