package shared

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"
)

// shutdownGrace is how long tunnels get to close after the first signal.
const shutdownGrace = 5 * time.Second

// SetupSignalHandling cancels the command context on the first interrupt or
// termination signal so tunnels can close gracefully. A second signal, or a
// shutdown that outlasts shutdownGrace, exits the process.
func SetupSignalHandling(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, shutdownSignals()...)

	go func() {
		first := <-sigCh
		cancel()

		select {
		case <-sigCh:
			os.Exit(exitCode(first))
		case <-time.After(shutdownGrace):
			os.Exit(0)
		}
	}()
}

func shutdownSignals() []os.Signal {
	if runtime.GOOS == "windows" {
		return []os.Signal{os.Interrupt}
	}
	// a peer dropping the relay socket must not kill the process
	signal.Ignore(syscall.SIGPIPE)
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}
}

// exitCode follows the shell convention of 128+signal.
func exitCode(s os.Signal) int {
	if ss, ok := s.(syscall.Signal); ok {
		return 128 + int(ss)
	}
	return 1
}
