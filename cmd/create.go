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

// CreateCmd holds the create cmd flags
type CreateCmd struct {
	*flags.GlobalFlags

	File   string
	Start  bool
	Output string
}

// NewCreateCmd creates a new create command
func NewCreateCmd(flags *flags.GlobalFlags) *cobra.Command {
	cmd := &CreateCmd{
		GlobalFlags: flags,
	}
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Creates a workspace from a config file",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context())
		},
	}

	createCmd.Flags().StringVarP(&cmd.File, "file", "f", "", "The workspace config file, yaml or json. Use - to read from stdin")
	createCmd.Flags().BoolVar(&cmd.Start, "start", false, "Starts the workspace in its default environment after creation")
	createCmd.Flags().StringVar(&cmd.Output, "output", "plain", "The output format to use. Can be json or plain")
	return createCmd
}

// Run runs the command logic
func (cmd *CreateCmd) Run(ctx context.Context) error {
	workspaceConfig, err := utils.ReadWorkspaceConfig(cmd.File)
	if err != nil {
		return err
	}

	client, _, err := utils.NewClient(cmd.GlobalFlags)
	if err != nil {
		return err
	}

	ws, err := client.CreateWorkspace(ctx, workspaceConfig)
	if err != nil {
		return err
	}

	if cmd.Start {
		ws, err = client.StartWorkspace(ctx, ws.ID, "", false)
		if err != nil {
			return err
		}
	}

	if cmd.Output == "json" {
		out, err := json.Marshal(ws)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	}

	log.Default.Donef("Created workspace %s (%s)", ws.Config.Name, ws.ID)
	if cmd.Start {
		log.Default.Infof("Workspace is starting, run 'wsmaster status %s' to follow it", ws.Config.Name)
	}
	return nil
}
