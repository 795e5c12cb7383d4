package cmd

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/loft-sh/log"
	"github.com/loft-sh/log/table"
	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/loft-sh/wsmaster/pkg/config"
	"github.com/spf13/cobra"
)

// NewConfigCmd creates the config command group
func NewConfigCmd(flags *flags.GlobalFlags) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "wsmaster configuration commands",
		Args:  cobra.NoArgs,
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "view",
		Short: "Prints the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			wsmasterConfig, err := config.LoadConfig()
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(wsmasterConfig)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "options",
		Short: "Lists all configuration options",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			tableEntries := [][]string{}
			for _, option := range config.Options {
				tableEntries = append(tableEntries, []string{
					option.Name,
					option.Description,
					fmt.Sprintf("%v", option.Enum),
					os.Getenv(option.Name),
				})
			}
			table.PrintTable(log.Default, []string{
				"Name",
				"Description",
				"Allowed",
				"Env",
			}, tableEntries)
			return nil
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "set [OPTION] [VALUE]",
		Short: "Persists an option into the config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			wsmasterConfig, err := config.LoadConfigFile()
			if err != nil {
				return err
			}

			err = config.SetOption(wsmasterConfig, args[0], args[1])
			if err != nil {
				return err
			}

			err = config.SaveConfig(wsmasterConfig)
			if err != nil {
				return err
			}

			log.Default.Donef("Set %s to %s", args[0], args[1])
			return nil
		},
	})
	return configCmd
}
