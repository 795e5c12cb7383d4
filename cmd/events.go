package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/loft-sh/wsmaster/cmd/utils"
	"github.com/loft-sh/wsmaster/pkg/events"
	"github.com/spf13/cobra"
)

// EventsCmd holds the events cmd flags
type EventsCmd struct {
	*flags.GlobalFlags

	Output string
}

// NewEventsCmd creates a new events command
func NewEventsCmd(flags *flags.GlobalFlags) *cobra.Command {
	cmd := &EventsCmd{
		GlobalFlags: flags,
	}
	eventsCmd := &cobra.Command{
		Use:   "events [workspace-name|workspace-id]",
		Short: "Streams workspace status events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cobraCmd.Context(), os.Interrupt)
			defer stop()

			idOrName := ""
			if len(args) > 0 {
				idOrName = args[0]
			}
			return cmd.Run(ctx, idOrName)
		},
		ValidArgsFunction: func(rootCmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return utils.GetWorkspaceSuggestions(rootCmd, cmd.GlobalFlags, args, toComplete)
		},
	}

	eventsCmd.Flags().StringVar(&cmd.Output, "output", "plain", "The output format to use. Can be json or plain")
	return eventsCmd
}

// Run runs the command logic
func (cmd *EventsCmd) Run(ctx context.Context, idOrName string) error {
	client, _, err := utils.NewClient(cmd.GlobalFlags)
	if err != nil {
		return err
	}

	workspaceID := ""
	if idOrName != "" {
		ws, err := client.ResolveWorkspace(ctx, idOrName, cmd.User)
		if err != nil {
			return err
		}
		workspaceID = ws.ID
	}

	return client.WatchEvents(ctx, workspaceID, func(event events.WorkspaceStatusEvent) error {
		if cmd.Output == "json" {
			out, err := json.Marshal(event)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		if event.Error != "" {
			log.Default.Warnf("%s %s %s: %s", event.Timestamp.Format("15:04:05"), event.WorkspaceID, event.EventType, event.Error)
		} else {
			log.Default.Infof("%s %s %s", event.Timestamp.Format("15:04:05"), event.WorkspaceID, event.EventType)
		}
		return nil
	})
}
