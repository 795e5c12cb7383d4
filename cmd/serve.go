package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/loft-sh/wsmaster/pkg/config"
	"github.com/loft-sh/wsmaster/pkg/daemon"
	"github.com/loft-sh/wsmaster/pkg/events"
	wsmasterlog "github.com/loft-sh/wsmaster/pkg/log"
	"github.com/loft-sh/wsmaster/pkg/machine"
	"github.com/loft-sh/wsmaster/pkg/machine/docker"
	"github.com/loft-sh/wsmaster/pkg/machine/fake"
	"github.com/loft-sh/wsmaster/pkg/manager"
	"github.com/loft-sh/wsmaster/pkg/runtime"
	"github.com/loft-sh/wsmaster/pkg/store"
	"github.com/loft-sh/wsmaster/pkg/store/file"
	"github.com/loft-sh/wsmaster/pkg/store/memory"
	"github.com/loft-sh/wsmaster/pkg/store/sqlite"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// ServeCmd holds the serve cmd flags
type ServeCmd struct {
	*flags.GlobalFlags

	StoreDriver   string
	MachineDriver string
	LogFile       string
}

// NewServeCmd creates a new serve command
func NewServeCmd(flags *flags.GlobalFlags) *cobra.Command {
	cmd := &ServeCmd{
		GlobalFlags: flags,
	}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the wsmaster daemon",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cobraCmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			wsmasterConfig, err := config.LoadConfig()
			if err != nil {
				return err
			}

			return cmd.Run(ctx, wsmasterConfig)
		},
	}

	serveCmd.Flags().StringVar(&cmd.StoreDriver, "store-driver", "", "Overrides the configured store driver. Can be memory, file or sqlite")
	serveCmd.Flags().StringVar(&cmd.MachineDriver, "machine-driver", "", "Overrides the configured machine driver. Can be docker or fake")
	serveCmd.Flags().StringVar(&cmd.LogFile, "log-file", "", "Additionally writes json logs into this rotated file")
	return serveCmd
}

// Run runs the command logic
func (cmd *ServeCmd) Run(ctx context.Context, wsmasterConfig *config.Config) error {
	if cmd.StoreDriver != "" {
		wsmasterConfig.Store.Driver = cmd.StoreDriver
	}
	if cmd.MachineDriver != "" {
		wsmasterConfig.Machine.Driver = cmd.MachineDriver
	}
	if cmd.LogFile != "" {
		wsmasterConfig.Log.File = cmd.LogFile
	}
	address := wsmasterConfig.Daemon.Address
	if cmd.Address != "" {
		address = cmd.Address
	}

	logger, err := newDaemonLogger(wsmasterConfig.Log, cmd.Debug)
	if err != nil {
		return err
	}

	workspaceStore, err := newStore(wsmasterConfig.Store)
	if err != nil {
		return err
	}
	defer workspaceStore.Close()

	machines, err := newMachineManager(wsmasterConfig.Machine, logger)
	if err != nil {
		return err
	}

	bus := events.NewBus(logger)
	defer bus.Close()

	registry := runtime.NewRegistry(machines, logger)
	workspaceManager := manager.NewManager(workspaceStore, registry, machines, logger, manager.WithPublisher(bus))
	server := daemon.NewServer(workspaceManager, bus, daemon.Options{DefaultOwner: wsmasterConfig.Daemon.DefaultOwner}, logger)

	logger.Infof("using %s store and %s machines", wsmasterConfig.Store.Driver, wsmasterConfig.Machine.Driver)
	serveErr := server.ListenAndServe(ctx, address)

	logger.Info("stopping running workspaces")
	err = workspaceManager.Shutdown(context.WithoutCancel(ctx))
	if err != nil {
		logger.Errorf("shutdown workspace manager: %v", err)
	}

	return serveErr
}

func newDaemonLogger(logConfig config.LogConfig, debug bool) (log.Logger, error) {
	level, err := logrus.ParseLevel(logConfig.Level)
	if err != nil {
		return nil, errors.Wrap(err, "parse log level")
	}
	if debug {
		level = logrus.DebugLevel
	}
	log.Default.SetLevel(level)

	if logConfig.File == "" {
		return log.Default, nil
	}

	return wsmasterlog.NewCombinedLogger(level, log.Default, wsmasterlog.NewFileLogger(logConfig.File, level)), nil
}

func newStore(storeConfig config.StoreConfig) (store.Store, error) {
	switch storeConfig.Driver {
	case store.DriverMemory:
		return memory.NewStore(), nil
	case store.DriverFile:
		return file.NewStore(storeConfig.Path)
	case store.DriverSQLite:
		return sqlite.NewStore(storeConfig.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %s", storeConfig.Driver)
	}
}

func newMachineManager(machineConfig config.MachineConfig, logger log.Logger) (machine.Manager, error) {
	switch machineConfig.Driver {
	case "docker":
		return docker.NewManagerFromEnv(docker.Options{
			Network:       machineConfig.DockerNetwork,
			MemoryLimitMB: machineConfig.MemoryLimitMB,
		}, logger)
	case "fake":
		logger.Warn("using the fake machine driver, machines are not backed by containers")
		return fake.NewManager(), nil
	default:
		return nil, fmt.Errorf("unknown machine driver %s", machineConfig.Driver)
	}
}
