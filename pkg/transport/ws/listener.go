package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/log"
	"dominicbreuker/remotebus/pkg/transport"
)

// ListenAndServe accepts WebSocket tunnel links on addr over plain HTTP and
// hands each one to handler as a byte stream. It returns when ctx is done.
func ListenAndServe(ctx context.Context, addr string, handler transport.Handler, logger *log.Logger, deps *config.Dependencies) error {
	nl, err := config.GetTCPListenerFunc(deps)("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen(tcp, %s): %w", addr, err)
	}
	defer nl.Close()

	srv := &http.Server{
		Handler:           linkHandler(ctx, handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
		// links are long-lived, only idle keep-alive HTTP conns are reaped
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(nl) }()

	select {
	case <-ctx.Done():
		srv.Close()
		err = <-errCh
	case err = <-errCh:
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("http.Server.Serve(): %w", err)
}

func linkHandler(ctx context.Context, handler transport.Handler, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{Subprotocol},
		})
		if err != nil {
			logger.ErrorMsg("websocket.Accept(): %s", err)
			return
		}
		if c.Subprotocol() != Subprotocol {
			c.Close(websocket.StatusPolicyViolation, "expected subprotocol "+Subprotocol)
			logger.VerboseMsg("Refused WS link from %s: no %s subprotocol", r.RemoteAddr, Subprotocol)
			return
		}
		c.SetReadLimit(-1)

		conn := websocket.NetConn(ctx, c, websocket.MessageBinary)
		defer conn.Close()

		logger.VerboseMsg("New WS link from %s", r.RemoteAddr)
		if err := handler(conn); err != nil {
			logger.ErrorMsg("WS link from %s: %s", r.RemoteAddr, err)
		}
	}
}
