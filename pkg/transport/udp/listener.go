package udp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	kcp "github.com/xtaci/kcp-go/v5"

	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/log"
	"dominicbreuker/remotebus/pkg/transport"
)

// ListenAndServe accepts KCP sessions on addr and runs handler for each of them
// in its own goroutine. It blocks until ctx is cancelled.
// The deps parameter is optional and can be nil to use default implementations.
func ListenAndServe(ctx context.Context, addr string, handler transport.Handler, logger *log.Logger, deps *config.Dependencies) error {
	if _, err := net.ResolveUDPAddr("udp", addr); err != nil {
		return fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", addr, err)
	}

	conn, err := config.GetPacketListenerFunc(deps)("udp", addr)
	if err != nil {
		return fmt.Errorf("listen(udp, %s): %w", addr, err)
	}

	// Parameters: block cipher (nil for no encryption), dataShards (0), parityShards (0), conn
	kcpListener, err := kcp.ServeConn(nil, 0, 0, conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("kcp.ServeConn(): %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = kcpListener.Close()
		_ = conn.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		s, err := kcpListener.AcceptKCP()
		if err != nil {
			if ctx.Err() != nil || isClosedErr(err) {
				return nil
			}
			return fmt.Errorf("AcceptKCP(): %w", err)
		}

		configure(s)
		logger.VerboseMsg("New UDP session from %s", s.RemoteAddr())

		wg.Add(1)
		go func(s *kcp.UDPSession) {
			defer wg.Done()
			defer s.Close()

			if err := handler(s); err != nil {
				logger.ErrorMsg("Handling UDP session from %s: %s", s.RemoteAddr(), err)
			}
		}(s)
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
