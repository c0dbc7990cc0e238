// Package identity derives the process and REPL session identifiers used
// throughout the wire protocol: ProcessKey groups every call made by one
// host process, SessionID names one REPL session bound to a pause.
package identity

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// ProcessKey uniquely identifies one host process across time, formatted
// as "<start_time_seconds_6dp>+<pid>".
type ProcessKey string

// NewProcessKey derives a ProcessKey from a process start time and pid.
func NewProcessKey(startTime float64, pid int) ProcessKey {
	return ProcessKey(fmt.Sprintf("%.6f+%d", startTime, pid))
}

// CurrentProcessKey returns the ProcessKey for the running process, using
// its own start time (captured once at package init) and pid.
func CurrentProcessKey() ProcessKey {
	return NewProcessKey(processStartTime, os.Getpid())
}

var processStartTime = nowSeconds()

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// ProcessStartTime reports the start time captured for this process.
func ProcessStartTime() float64 { return processStartTime }

var (
	sessionMu   sync.Mutex
	lastSession string
)

// NewSessionID derives a REPL session id "<pid>-<epoch_6dp>" for the given
// pid. now is injectable for deterministic tests; pass 0 to use the wall
// clock. Collisions (two sessions requested within the same
// sub-microsecond tick) are broken by nudging the fractional part
// forward and retrying.
func NewSessionID(pid int, now float64) string {
	sessionMu.Lock()
	defer sessionMu.Unlock()

	if now == 0 {
		now = nowSeconds()
	}

	id := fmt.Sprintf("%d-%.6f", pid, now)
	for id == lastSession {
		now += 0.000001
		id = fmt.Sprintf("%d-%.6f", pid, now)
	}
	lastSession = id
	return id
}
