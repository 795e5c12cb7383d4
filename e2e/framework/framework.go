package framework

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/cmd/flags"
	"github.com/loft-sh/wsmaster/pkg/config"
	"github.com/loft-sh/wsmaster/pkg/daemon"
	"github.com/loft-sh/wsmaster/pkg/events"
	"github.com/loft-sh/wsmaster/pkg/machine/fake"
	"github.com/loft-sh/wsmaster/pkg/manager"
	"github.com/loft-sh/wsmaster/pkg/runtime"
	"github.com/loft-sh/wsmaster/pkg/store/sqlite"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

const DefaultOwner = "e2e"

// Framework runs a daemon in-process. The store lives in a temporary
// wsmaster home so a restarted daemon sees the same workspaces.
type Framework struct {
	Home     string
	Address  string
	Machines *fake.Manager

	manager *manager.Manager
	cancel  context.CancelFunc
	done    chan error
}

func NewDefaultFramework() (*Framework, error) {
	home, err := os.MkdirTemp("", "wsmaster-e2e-*")
	if err != nil {
		return nil, err
	}

	err = os.Setenv(config.WSMASTER_HOME, home)
	if err != nil {
		return nil, err
	}

	f := &Framework{Home: home, Machines: fake.NewManager()}
	err = f.Start()
	if err != nil {
		_ = os.RemoveAll(home)
		return nil, err
	}

	return f, nil
}

// Start boots the daemon on a random local port
func (f *Framework) Start() error {
	workspaceStore, err := sqlite.NewStore(filepath.Join(f.Home, "wsmaster.db"))
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = workspaceStore.Close()
		return err
	}

	logger := log.Discard
	bus := events.NewBus(logger)
	registry := runtime.NewRegistry(f.Machines, logger)
	f.manager = manager.NewManager(workspaceStore, registry, f.Machines, logger, manager.WithPublisher(bus))
	server := daemon.NewServer(f.manager, bus, daemon.Options{DefaultOwner: DefaultOwner}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan error, 1)
	f.Address = listener.Addr().String()
	go func() {
		err := server.Serve(ctx, listener)
		_ = f.manager.Shutdown(context.Background())
		bus.Close()
		_ = workspaceStore.Close()
		f.done <- err
	}()

	return f.Client("").Health(context.Background())
}

// Stop shuts down the daemon and stops all running workspaces
func (f *Framework) Stop() error {
	if f.cancel == nil {
		return nil
	}

	f.cancel()
	f.cancel = nil
	select {
	case err := <-f.done:
		return err
	case <-time.After(GetTimeout()):
		return fmt.Errorf("daemon did not stop within %s", GetTimeout())
	}
}

// Restart stops the daemon and boots a new one on the same store
func (f *Framework) Restart() error {
	err := f.Stop()
	if err != nil {
		return err
	}

	return f.Start()
}

func (f *Framework) Close() error {
	err := f.Stop()
	if err != nil {
		return err
	}

	return os.RemoveAll(f.Home)
}

// Wait blocks until all async starts and stops of the daemon are done
func (f *Framework) Wait() {
	f.manager.Wait()
}

func (f *Framework) Client(user string) *daemon.Client {
	return daemon.NewClient(f.Address, user, "e2e-account")
}

// Flags returns global flags that point the cli at the daemon
func (f *Framework) Flags(user string) *flags.GlobalFlags {
	return &flags.GlobalFlags{
		LogOutput: "plain",
		Address:   f.Address,
		User:      user,
	}
}

// WriteWorkspaceConfig writes config as yaml into the wsmaster home
func (f *Framework) WriteWorkspaceConfig(config *workspace.Config) (string, error) {
	out, err := yaml.Marshal(config)
	if err != nil {
		return "", err
	}

	path := filepath.Join(f.Home, config.Name+".yaml")
	err = os.WriteFile(path, out, 0666)
	if err != nil {
		return "", err
	}

	return path, nil
}

func GetTimeout() time.Duration {
	return 30 * time.Second
}

func ExpectNoError(err error) {
	gomega.ExpectWithOffset(1, err).NotTo(gomega.HaveOccurred())
}

func RegisterTestCase(testsuite, testcase string, fn func()) bool {
	return ginkgo.Describe(fmt.Sprintf("[%s]: %s", testsuite, testcase), fn)
}
