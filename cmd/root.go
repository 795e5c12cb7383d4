package cmd

import (
	"fmt"
	"os"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/loft-sh/wsmaster/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd returns a new root command
func NewRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "wsmaster",
		Short:         "wsmaster runs workspaces made of docker machines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func preRun(globalFlags *flags.GlobalFlags) func(cobraCmd *cobra.Command, args []string) error {
	return func(cobraCmd *cobra.Command, args []string) error {
		if err := config.SetHome(globalFlags.WsmasterHome); err != nil {
			return err
		}

		if globalFlags.Silent {
			log.Default.SetLevel(logrus.FatalLevel)
		} else if globalFlags.Debug || os.Getenv("WSMASTER_DEBUG") == "true" {
			log.Default.SetLevel(logrus.DebugLevel)
		}

		if globalFlags.LogOutput == "json" {
			log.Default.SetFormat(log.JSONFormat)
		} else if globalFlags.LogOutput == "raw" {
			log.Default.SetFormat(log.RawFormat)
		} else if globalFlags.LogOutput != "plain" {
			return fmt.Errorf("unrecognized log format %s, needs to be either plain, raw or json", globalFlags.LogOutput)
		}

		return nil
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// build the root command
	rootCmd := BuildRoot()

	// execute command
	err := rootCmd.Execute()
	if err != nil {
		if rootCmd.Flag("debug").Value.String() == "true" {
			log.Default.Fatalf("%+v", err)
		}

		log.Default.Fatal(err)
	}
}

// BuildRoot creates the root command with all subcommands
func BuildRoot() *cobra.Command {
	rootCmd := NewRootCmd()
	persistentFlags := rootCmd.PersistentFlags()
	globalFlags := flags.SetGlobalFlags(persistentFlags)
	rootCmd.PersistentPreRunE = preRun(globalFlags)

	rootCmd.AddCommand(NewServeCmd(globalFlags))
	rootCmd.AddCommand(NewServiceCmd(globalFlags))
	rootCmd.AddCommand(NewConfigCmd(globalFlags))
	rootCmd.AddCommand(NewCreateCmd(globalFlags))
	rootCmd.AddCommand(NewUpdateCmd(globalFlags))
	rootCmd.AddCommand(NewListCmd(globalFlags))
	rootCmd.AddCommand(NewStatusCmd(globalFlags))
	rootCmd.AddCommand(NewStartCmd(globalFlags))
	rootCmd.AddCommand(NewRecoverCmd(globalFlags))
	rootCmd.AddCommand(NewStopCmd(globalFlags))
	rootCmd.AddCommand(NewDeleteCmd(globalFlags))
	rootCmd.AddCommand(NewSnapshotCmd(globalFlags))
	rootCmd.AddCommand(NewRunCmd(globalFlags))
	rootCmd.AddCommand(NewValidateCmd(globalFlags))
	rootCmd.AddCommand(NewEventsCmd(globalFlags))
	rootCmd.AddCommand(NewVersionCmd(globalFlags))
	return rootCmd
}
