package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "cadence/pkg/logx"
)

// Watchdog is a periodic task that pings the systemd watchdog. It is driven by
// executor ticks, so pings stop when the loop stalls and systemd restarts the
// service.
type Watchdog struct {
	every  int64 // ms between pings
	last   int64
	pinged bool
	notify notifyFunc
	log    logx.Logger
}

// NewWatchdog returns a watchdog task pinging at half the interval systemd
// expects, or nil if the watchdog is not enabled for this process.
func NewWatchdog(log logx.Logger) (*Watchdog, error) {
	interval, err := WatchdogInterval()
	if err != nil || interval <= 0 {
		return nil, err
	}
	return newWatchdog(interval, sdNotify, log), nil
}

func newWatchdog(interval time.Duration, notify notifyFunc, log logx.Logger) *Watchdog {
	if log.IsZero() {
		log = logx.Nop()
	}
	every := (interval / 2).Milliseconds()
	if every < 1 {
		every = 1
	}
	return &Watchdog{every: every, notify: notify, log: log}
}

func (w *Watchdog) Name() string { return "systemd.watchdog" }

// Execute runs on the executor loop only.
func (w *Watchdog) Execute(timeInMillis int64) error {
	if w.pinged && timeInMillis-w.last < w.every {
		return nil
	}
	w.last = timeInMillis
	w.pinged = true
	sent, err := w.notify(daemon.SdNotifyWatchdog)
	if err != nil {
		return err
	}
	if !sent {
		w.log.Debug("watchdog ping not delivered; notify socket unavailable")
	}
	return nil
}
