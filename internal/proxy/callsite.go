package proxy

import (
	"fmt"
	"runtime"
	"time"

	"github.com/curtcox/cideldill/internal/calllog"
)

// callSiteDepth is how many outer frames beyond the immediate caller are
// captured into CallSite.StackTrace.
const callSiteDepth = 8

// captureCallSite snapshots the caller's frame and callSiteDepth outer
// frames, skipping this package's own wrapper frames. skip counts stack
// frames above captureCallSite itself: 0 is its own caller.
func captureCallSite(skip int) calllog.CallSite {
	pcs := make([]uintptr, callSiteDepth+4)
	n := runtime.Callers(skip+2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	site := calllog.CallSite{Timestamp: nowSeconds()}
	first := true
	for {
		frame, more := frames.Next()
		if first {
			site.Filename = frame.File
			site.Lineno = frame.Line
			site.Function = frame.Function
			first = false
		} else {
			site.StackTrace = append(site.StackTrace, calllog.Frame{
				Filename: frame.File,
				Lineno:   frame.Line,
				Function: frame.Function,
			})
			if len(site.StackTrace) >= callSiteDepth {
				break
			}
		}
		if !more {
			break
		}
	}
	return site
}

func nowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }

func exceptionFromPanic(r any) exceptionWire {
	if err, ok := r.(error); ok {
		return exceptionWire{TypeFQN: fmt.Sprintf("%T", err), Message: err.Error()}
	}
	return exceptionWire{TypeFQN: fmt.Sprintf("%T", r), Message: fmt.Sprintf("%v", r)}
}
