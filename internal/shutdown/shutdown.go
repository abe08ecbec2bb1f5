// Package shutdown provides the agent's signal handling and fatal-abort
// path, adapted from the teacher's pkg/shutdown: the same SIGINT/SIGTERM
// graceful-cancel plus SIGPIPE goroutine-dump behavior, trimmed of the
// on-disk crash-dump/abort-request protocol that only made sense for a
// database process with its own data directory.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lagopus-go/dpqueue/internal/logging"
)

// SetupSignalHandler installs handlers for SIGINT/SIGTERM (graceful cancel)
// and SIGPIPE (goroutine stack dump, for diagnosing a wedged poll loop) and
// returns a context cancelled when either termination signal arrives.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logging.Info("signal_received", zap.String("signal", s.String()), zap.String("action", "shutdown_requested"))
		cancel()
	}()

	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		<-sigpipe
		logging.Warn("sigpipe_received", zap.String("action", "dumping_goroutine_stacks"))
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		logging.Warn("goroutine_stack_dump", zap.String("dump", string(buf[:n])))
	}()

	return ctx, cancel
}

// Fatal logs context and err, gives the logger delaySeconds to flush, and
// exits the process with status 2. Call it only for unrecoverable startup
// failures (bad config, a debug listener that can't bind).
func Fatal(context string, err error, delaySeconds int) {
	if delaySeconds < 0 {
		delaySeconds = 2
	}
	logging.Error("startup_fatal", zap.String("context", context), zap.Error(err))
	fmt.Fprintf(os.Stderr, "fatal: %s: %v\n", context, err)
	logging.Sync()
	time.Sleep(time.Duration(delaySeconds) * time.Second)
	os.Exit(2)
}
