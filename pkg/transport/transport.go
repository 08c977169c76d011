// Package transport provides the network transports remotebus can use for the
// remote link of a tunnel.
//
// Each transport (tcp, ws, udp) provides:
//   - a Dialer used by the tunnel to establish the remote link
//   - a ListenAndServe function used by the gateway on the remote side
//
// Only the tcp transport can reach a D-Bus daemon directly. The ws and udp
// transports terminate at a remotebus gateway, which bridges each link to the
// daemon's socket.
package transport

import (
	"context"
	"net"
)

// Dialer establishes one outbound connection.
type Dialer interface {
	Dial(ctx context.Context) (net.Conn, error)
}

// Handler is a function that processes an incoming connection.
// It should handle the connection and return when done.
// The connection will be closed after the handler returns.
type Handler func(net.Conn) error
