// Package ws provides the WebSocket transport. Tunnel data is carried in
// binary messages; the gateway unwraps them back into a byte stream.
package ws

import (
	"context"
	"fmt"
	"net"

	"github.com/coder/websocket"
)

// Subprotocol is negotiated by both ends so a stray HTTP client is refused.
const Subprotocol = "remotebus.v1"

// Dialer implements the transport.Dialer interface for WebSocket connections.
type Dialer struct {
	url string
}

// NewDialer creates a new WebSocket dialer for addr (host:port).
func NewDialer(addr string) (*Dialer, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("net.SplitHostPort(%s): %w", addr, err)
	}

	return &Dialer{
		url: fmt.Sprintf("ws://%s", addr),
	}, nil
}

// Dial performs the WebSocket handshake. The returned connection outlives ctx,
// which only bounds the handshake itself.
func (d *Dialer) Dial(ctx context.Context) (net.Conn, error) {
	opts := &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	}

	c, _, err := websocket.Dial(ctx, d.url, opts)
	if err != nil {
		return nil, fmt.Errorf("websocket.Dial(%s): %w", d.url, err)
	}
	if c.Subprotocol() != Subprotocol {
		c.Close(websocket.StatusProtocolError, "subprotocol")
		return nil, fmt.Errorf("websocket.Dial(%s): gateway did not accept %s", d.url, Subprotocol)
	}
	c.SetReadLimit(-1)

	return websocket.NetConn(context.Background(), c, websocket.MessageBinary), nil
}
