package proxy

import (
	"runtime"
	"time"
)

// startWatchdog logs a goroutine stack dump if the tracked operation
// named label hasn't completed within threshold. It never cancels
// anything — observability only, grounded on the same
// log-and-keep-going discipline as the teacher's background cleanup
// loops. threshold <= 0 disables it.
func startWatchdog(threshold time.Duration, label string) (stop func()) {
	if threshold <= 0 {
		return func() {}
	}

	timer := time.AfterFunc(threshold, func() {
		buf := make([]byte, 1<<16)
		n := runtime.Stack(buf, true)
		log.Warn("operation exceeded watchdog threshold", "operation", label, "threshold", threshold, "stack", string(buf[:n]))
	})

	return func() { timer.Stop() }
}
