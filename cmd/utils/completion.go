package utils

import (
	"strings"

	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/spf13/cobra"
)

// GetWorkspaceSuggestions completes workspace names of the current user
func GetWorkspaceSuggestions(rootCmd *cobra.Command, globalFlags *flags.GlobalFlags, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	client, _, err := NewClient(globalFlags)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	workspaces, err := client.ListWorkspaces(rootCmd.Context(), "")
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var suggestions []string
	for _, ws := range workspaces {
		if strings.HasPrefix(ws.Config.Name, toComplete) {
			suggestions = append(suggestions, ws.Config.Name)
		}
	}
	return suggestions, cobra.ShellCompDirectiveNoFileComp
}
