// Package tcp provides the TCP transport.
package tcp

import (
	"context"
	"fmt"
	"net"

	"dominicbreuker/remotebus/pkg/config"
)

// Dialer implements the transport.Dialer interface for TCP connections.
type Dialer struct {
	network string
	addr    string
	dialFn  config.TCPDialerFunc
}

// NewDialer creates a new TCP dialer for the specified address.
// The host is resolved when dialing so name lookup counts towards the connect timeout.
// The deps parameter is optional and can be nil to use default implementations.
func NewDialer(network, addr string, deps *config.Dependencies) (*Dialer, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("net.SplitHostPort(%s): %w", addr, err)
	}

	return &Dialer{
		network: network,
		addr:    addr,
		dialFn:  config.GetTCPDialerFunc(deps),
	}, nil
}

// Dial establishes a TCP connection to the configured address.
// The dial is abandoned as soon as ctx is cancelled.
func (d *Dialer) Dial(ctx context.Context) (net.Conn, error) {
	conn, err := d.dialFn(ctx, d.network, d.addr)
	if err != nil {
		return nil, fmt.Errorf("dial(%s, %s): %w", d.network, d.addr, err)
	}

	return conn, nil
}
