package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/log"
	"dominicbreuker/remotebus/pkg/transport"
)

// ListenAndServe accepts TCP connections on addr and runs handler for each of
// them in its own goroutine. It blocks until ctx is cancelled, then closes the
// listener and waits for running handlers to return.
// The deps parameter is optional and can be nil to use default implementations.
func ListenAndServe(ctx context.Context, addr string, handler transport.Handler, logger *log.Logger, deps *config.Dependencies) error {
	listenFn := config.GetTCPListenerFunc(deps)

	nl, err := listenFn("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen(tcp, %s): %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		_ = nl.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := nl.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("Accept(): %w", err)
		}

		logger.VerboseMsg("New TCP connection from %s", conn.RemoteAddr())

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()

			if err := handler(conn); err != nil {
				logger.ErrorMsg("Handling connection from %s: %s", conn.RemoteAddr(), err)
			}
		}()
	}
}
