// Package systemd reports service state to the service manager over the
// sd_notify socket. Every call is a no-op when the process is not running under
// systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

type notifyFunc func(state string) (bool, error)

func sdNotify(state string) (bool, error) { return daemon.SdNotify(false, state) }

// NotifyReady tells systemd start-up is finished (Type=notify units).
func NotifyReady() (bool, error) { return sdNotify(daemon.SdNotifyReady) }

func NotifyStopping() (bool, error) { return sdNotify(daemon.SdNotifyStopping) }

func NotifyReloading() (bool, error) { return sdNotify(daemon.SdNotifyReloading) }

// NotifyStatus sets the free-form status line shown by systemctl status.
func NotifyStatus(format string, args ...any) (bool, error) {
	return sdNotify("STATUS=" + fmt.Sprintf(format, args...))
}

// WatchdogInterval returns the configured WatchdogSec for this process, or 0
// when the watchdog is disabled.
func WatchdogInterval() (time.Duration, error) {
	return daemon.SdWatchdogEnabled(false)
}
