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
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/spf13/cobra"
)

// StatusCmd holds the status cmd flags
type StatusCmd struct {
	*flags.GlobalFlags

	Output  string
	Wait    bool
	Timeout time.Duration
}

// NewStatusCmd creates a new status command
func NewStatusCmd(flags *flags.GlobalFlags) *cobra.Command {
	cmd := &StatusCmd{
		GlobalFlags: flags,
	}
	statusCmd := &cobra.Command{
		Use:   "status [workspace-name|workspace-id]",
		Short: "Shows the status of a workspace and its machines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context(), args[0])
		},
		ValidArgsFunction: func(rootCmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return utils.GetWorkspaceSuggestions(rootCmd, cmd.GlobalFlags, args, toComplete)
		},
	}

	statusCmd.Flags().StringVar(&cmd.Output, "output", "plain", "The output format to use. Can be json or plain")
	statusCmd.Flags().BoolVar(&cmd.Wait, "wait", false, "Waits until the workspace is neither starting nor stopping")
	statusCmd.Flags().DurationVar(&cmd.Timeout, "timeout", 10*time.Minute, "How long to wait with --wait")
	return statusCmd
}

// Run runs the command logic
func (cmd *StatusCmd) Run(ctx context.Context, idOrName string) error {
	client, _, err := utils.NewClient(cmd.GlobalFlags)
	if err != nil {
		return err
	}

	ws, err := client.ResolveWorkspace(ctx, idOrName, cmd.User)
	if err != nil {
		return err
	}
	if cmd.Wait {
		ws, err = waitForStableStatus(ctx, client, ws.ID, cmd.Timeout)
		if err != nil {
			return err
		}
	}

	var runtimeWorkspace *workspace.RuntimeWorkspace
	if ws.Status != workspace.StatusStopped {
		runtimeWorkspace, err = client.GetRuntimeWorkspace(ctx, ws.ID)
		if err != nil {
			log.Default.Debugf("get runtime of workspace %s: %v", ws.ID, err)
		}
	}

	if cmd.Output == "json" {
		var out []byte
		if runtimeWorkspace != nil {
			out, err = json.Marshal(runtimeWorkspace)
		} else {
			out, err = json.Marshal(ws)
		}
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	} else if cmd.Output != "plain" {
		return fmt.Errorf("unexpected output format, choose either json or plain. Got %s", cmd.Output)
	}

	log.Default.Infof("Workspace %s (%s) is %s", ws.Config.Name, ws.ID, ws.Status)
	if runtimeWorkspace == nil {
		return nil
	}

	tableEntries := [][]string{}
	for _, m := range runtimeWorkspace.Machines {
		tableEntries = append(tableEntries, []string{
			m.Config.Name,
			m.ID,
			fmt.Sprintf("%t", m.Config.Dev),
			string(m.Status),
			shortContainerID(m.ContainerID),
		})
	}
	table.PrintTable(log.Default, []string{
		"Machine",
		"ID",
		"Dev",
		"Status",
		"Container",
	}, tableEntries)
	return nil
}

func waitForStableStatus(ctx context.Context, client *daemon.Client, workspaceID string, timeout time.Duration) (*workspace.Workspace, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		ws, err := client.GetWorkspace(ctx, workspaceID)
		if err != nil {
			return nil, err
		} else if ws.Status != workspace.StatusStarting && ws.Status != workspace.StatusStopping {
			return ws, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for workspace %s, it is still %s", workspaceID, ws.Status)
		case <-ticker.C:
		}
	}
}

func shortContainerID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
