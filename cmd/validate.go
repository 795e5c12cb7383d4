package cmd

import (
	"context"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/loft-sh/wsmaster/cmd/utils"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/spf13/cobra"
)

// ValidateCmd holds the validate cmd flags
type ValidateCmd struct {
	*flags.GlobalFlags

	File   string
	Remote bool
}

// NewValidateCmd creates a new validate command
func NewValidateCmd(flags *flags.GlobalFlags) *cobra.Command {
	cmd := &ValidateCmd{
		GlobalFlags: flags,
	}
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validates a workspace config file",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context())
		},
	}

	validateCmd.Flags().StringVarP(&cmd.File, "file", "f", "", "The workspace config file, yaml or json. Use - to read from stdin")
	validateCmd.Flags().BoolVar(&cmd.Remote, "remote", false, "Validates with the daemon instead of locally")
	return validateCmd
}

// Run runs the command logic
func (cmd *ValidateCmd) Run(ctx context.Context) error {
	workspaceConfig, err := utils.ReadWorkspaceConfig(cmd.File)
	if err != nil {
		return err
	}

	if cmd.Remote {
		client, _, err := utils.NewClient(cmd.GlobalFlags)
		if err != nil {
			return err
		}
		err = client.Validate(ctx, workspaceConfig)
	} else {
		err = workspace.NewValidator().Validate(workspaceConfig)
	}
	if err != nil {
		return err
	}

	log.Default.Donef("Workspace config %s is valid", cmd.File)
	return nil
}
