package flags

import (
	flag "github.com/spf13/pflag"
)

type GlobalFlags struct {
	LogOutput string

	Debug  bool
	Silent bool

	WsmasterHome string

	Address string
	User    string
	Account string
}

// SetGlobalFlags applies the global flags
func SetGlobalFlags(flags *flag.FlagSet) *GlobalFlags {
	globalFlags := &GlobalFlags{}

	flags.StringVar(&globalFlags.WsmasterHome, "home", "", "If defined will override the default wsmaster home. You can also use WSMASTER_HOME to set this")
	flags.StringVar(&globalFlags.LogOutput, "log-output", "plain", "The log format to use. Can be either plain, raw or json")
	flags.BoolVar(&globalFlags.Debug, "debug", false, "Prints the stack trace if an error occurs")
	flags.BoolVar(&globalFlags.Silent, "silent", false, "Run in silent mode and prevents any wsmaster log output except panics & fatals")

	flags.StringVar(&globalFlags.Address, "address", "", "The address of the wsmaster daemon. Defaults to the configured daemon address")
	flags.StringVar(&globalFlags.User, "user", "", "The user to act as. Defaults to the daemon's default owner")
	flags.StringVar(&globalFlags.Account, "account", "", "The account passed to the workspace hooks")
	_ = flags.MarkHidden("account")
	return globalFlags
}
