package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// StackTraceBufferSize bounds the stack captured for a recovered panic.
const StackTraceBufferSize = 4096

// Recover recovers a panic in the calling goroutine and logs it with a stack trace.
// It must be deferred directly. A nil logger falls back to stderr.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		report(name, r, logger)
	}
}

// RecoverWith is Recover plus a callback receiving the panic value, so callers
// can account for the aborted unit of work.
func RecoverWith(name string, logger *zap.SugaredLogger, onPanic func(r any)) {
	if r := recover(); r != nil {
		report(name, r, logger)
		if onPanic != nil {
			onPanic(r)
		}
	}
}

// Go runs fn on a new goroutine guarded by Recover.
func Go(name string, logger *zap.SugaredLogger, fn func()) {
	go func() {
		defer Recover(name, logger)
		fn()
	}()
}

func report(name string, r any, logger *zap.SugaredLogger) {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)

	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, r, string(buf[:n]))
}
