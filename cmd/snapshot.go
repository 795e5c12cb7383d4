package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loft-sh/log"
	"github.com/loft-sh/log/table"
	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/loft-sh/wsmaster/cmd/utils"
	"github.com/loft-sh/wsmaster/pkg/daemon"
	"github.com/loft-sh/wsmaster/pkg/events"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// NewSnapshotCmd creates the snapshot command group
func NewSnapshotCmd(flags *flags.GlobalFlags) *cobra.Command {
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Snapshot commands",
		Args:  cobra.NoArgs,
	}

	snapshotCmd.AddCommand(NewSnapshotCreateCmd(flags))
	snapshotCmd.AddCommand(NewSnapshotListCmd(flags))
	return snapshotCmd
}

// SnapshotCreateCmd holds the snapshot create cmd flags
type SnapshotCreateCmd struct {
	*flags.GlobalFlags

	Wait    bool
	Timeout time.Duration
}

// NewSnapshotCreateCmd creates a new snapshot create command
func NewSnapshotCreateCmd(flags *flags.GlobalFlags) *cobra.Command {
	cmd := &SnapshotCreateCmd{
		GlobalFlags: flags,
	}
	createCmd := &cobra.Command{
		Use:   "create [workspace-name|workspace-id]",
		Short: "Saves all machines of a running workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context(), args[0])
		},
		ValidArgsFunction: func(rootCmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return utils.GetWorkspaceSuggestions(rootCmd, cmd.GlobalFlags, args, toComplete)
		},
	}

	createCmd.Flags().BoolVar(&cmd.Wait, "wait", true, "Waits until the snapshot is stored")
	createCmd.Flags().DurationVar(&cmd.Timeout, "timeout", 10*time.Minute, "How long to wait with --wait")
	return createCmd
}

// Run runs the command logic
func (cmd *SnapshotCreateCmd) Run(ctx context.Context, idOrName string) error {
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

	err = client.CreateSnapshot(ctx, ws.ID)
	if err != nil {
		return err
	}
	if !cmd.Wait {
		log.Default.Infof("Creating snapshot of workspace %s", ws.Config.Name)
		return nil
	}

	event, err := waitForEvent(waitCtx, stream, events.EventTypeSnapshotCreated, events.EventTypeSnapshotCreationError)
	if err != nil {
		return err
	} else if event.EventType == events.EventTypeSnapshotCreationError {
		return errors.Errorf("snapshot of workspace %s failed: %s", ws.Config.Name, event.Error)
	}

	log.Default.Donef("Created snapshot of workspace %s", ws.Config.Name)
	return nil
}

// SnapshotListCmd holds the snapshot list cmd flags
type SnapshotListCmd struct {
	*flags.GlobalFlags

	Output string
}

// NewSnapshotListCmd creates a new snapshot list command
func NewSnapshotListCmd(flags *flags.GlobalFlags) *cobra.Command {
	cmd := &SnapshotListCmd{
		GlobalFlags: flags,
	}
	listCmd := &cobra.Command{
		Use:     "list [workspace-name|workspace-id]",
		Aliases: []string{"ls"},
		Short:   "Lists the snapshots of a workspace",
		Args:    cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context(), args[0])
		},
		ValidArgsFunction: func(rootCmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return utils.GetWorkspaceSuggestions(rootCmd, cmd.GlobalFlags, args, toComplete)
		},
	}

	listCmd.Flags().StringVar(&cmd.Output, "output", "plain", "The output format to use. Can be json or plain")
	return listCmd
}

// Run runs the command logic
func (cmd *SnapshotListCmd) Run(ctx context.Context, idOrName string) error {
	client, _, err := utils.NewClient(cmd.GlobalFlags)
	if err != nil {
		return err
	}

	ws, err := client.ResolveWorkspace(ctx, idOrName, cmd.User)
	if err != nil {
		return err
	}

	snapshots, err := client.GetSnapshot(ctx, ws.ID)
	if err != nil {
		return err
	}

	if cmd.Output == "json" {
		out, err := json.Marshal(snapshots)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	} else if cmd.Output != "plain" {
		return fmt.Errorf("unexpected output format, choose either json or plain. Got %s", cmd.Output)
	}

	tableEntries := [][]string{}
	for _, snapshot := range snapshots {
		tableEntries = append(tableEntries, []string{
			snapshot.ID,
			snapshot.EnvName,
			snapshot.MachineName,
			fmt.Sprintf("%t", snapshot.Dev),
			time.Since(snapshot.CreationTimestamp).Round(1 * time.Second).String(),
		})
	}
	table.PrintTable(log.Default, []string{
		"Snapshot",
		"Env",
		"Machine",
		"Dev",
		"Age",
	}, tableEntries)
	return nil
}
