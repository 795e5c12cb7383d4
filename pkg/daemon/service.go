package daemon

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/loft-sh/log"
	perrors "github.com/pkg/errors"
	"github.com/takama/daemon"
)

const (
	serviceName        = "wsmaster"
	serviceDescription = "wsmaster workspace daemon"
)

// InstallService installs `wsmaster serve` as a system service and starts it
func InstallService(args []string, log log.Logger) error {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return fmt.Errorf("unsupported daemon os")
	}

	service, err := daemon.New(serviceName, serviceDescription, daemon.SystemDaemon)
	if err != nil {
		return err
	}

	_, err = service.Install(append([]string{"serve"}, args...)...)
	if err != nil && !errors.Is(err, daemon.ErrAlreadyInstalled) {
		return perrors.Wrap(err, "install service")
	}

	_, err = service.Start()
	if err != nil && !errors.Is(err, daemon.ErrAlreadyRunning) {
		return perrors.Wrap(err, "start service")
	} else if err == nil {
		log.Donef("Successfully installed the %s service", serviceName)
	}

	return nil
}

func RemoveService(log log.Logger) error {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return fmt.Errorf("unsupported daemon os")
	}

	service, err := daemon.New(serviceName, serviceDescription, daemon.SystemDaemon)
	if err != nil {
		return err
	}

	_, err = service.Stop()
	if err != nil && !errors.Is(err, daemon.ErrAlreadyStopped) {
		log.Debugf("stop service: %v", err)
	}

	_, err = service.Remove()
	if err != nil && !errors.Is(err, daemon.ErrNotInstalled) {
		return err
	}

	log.Donef("Removed the %s service", serviceName)
	return nil
}
