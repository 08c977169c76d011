// Package udp provides the UDP transport with KCP for reliable, ordered delivery.
package udp

import (
	"context"
	"fmt"
	"net"

	kcp "github.com/xtaci/kcp-go/v5"

	"dominicbreuker/remotebus/pkg/config"
)

// Dialer implements the transport.Dialer interface for UDP connections with KCP.
type Dialer struct {
	remoteAddr   *net.UDPAddr
	packetConnFn config.PacketListenerFunc
}

// NewDialer creates a new UDP dialer for the specified address.
// The deps parameter is optional and can be nil to use default implementations.
func NewDialer(addr string, deps *config.Dependencies) (*Dialer, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", addr, err)
	}

	return &Dialer{
		remoteAddr:   udpAddr,
		packetConnFn: config.GetPacketListenerFunc(deps),
	}, nil
}

// Dial establishes a KCP session over UDP to the configured address.
// KCP is connectionless, so the session exists as soon as the local socket does.
func (d *Dialer) Dial(ctx context.Context) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := d.packetConnFn("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("net.ListenPacket(udp, :0): %w", err)
	}

	// Parameters: remoteAddr, block cipher (nil for no encryption), dataShards (0), parityShards (0), conn
	kcpConn, err := kcp.NewConn(d.remoteAddr.String(), nil, 0, 0, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("kcp.NewConn(%s): %w", d.remoteAddr.String(), err)
	}

	configure(kcpConn)
	return kcpConn, nil
}

// configure tunes a KCP session for interactive traffic.
// SetNoDelay(nodelay, interval, resend, nc): enable nodelay, 10ms update
// interval, fast resend after 2 ACK crossings, congestion control off.
func configure(s *kcp.UDPSession) {
	s.SetNoDelay(1, 10, 2, 1)
	s.SetStreamMode(true)
	s.SetWindowSize(1024, 1024)
}
