//go:build unix

package daemon

import (
	"errors"

	"golang.org/x/sys/unix"
)

// errnos of a tcp dial to an address nobody serves
var daemonDialErrnos = []unix.Errno{unix.ECONNREFUSED, unix.EHOSTUNREACH, unix.ENETUNREACH}

func isConnectToDaemonError(err error) bool {
	for _, errno := range daemonDialErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
