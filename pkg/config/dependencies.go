package config

import (
	"context"
	"io"
	"net"
	"os"
)

// Dependencies replaces the process's network and terminal access, mainly
// so tests can route tunnels, gateways and shells through in-memory fakes.
// Nil fields, and a nil *Dependencies, fall back to the real thing.
type Dependencies struct {
	TCPDialer      TCPDialerFunc
	TCPListener    TCPListenerFunc
	PacketListener PacketListenerFunc
	Stdin          StdinFunc
	Stdout         StdoutFunc
}

// TCPDialerFunc opens a stream to a relay or bus daemon.
type TCPDialerFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// TCPListenerFunc binds the tcp and ws gateway listeners.
type TCPListenerFunc func(network, addr string) (net.Listener, error)

// PacketListenerFunc binds the socket under the udp (KCP) transport.
type PacketListenerFunc func(network, address string) (net.PacketConn, error)

// StdinFunc supplies the shell's input.
type StdinFunc func() io.Reader

// StdoutFunc supplies the shell's output.
type StdoutFunc func() io.Writer

// GetTCPDialerFunc defaults to net.Dialer.DialContext.
func GetTCPDialerFunc(deps *Dependencies) TCPDialerFunc {
	if deps == nil || deps.TCPDialer == nil {
		return (&net.Dialer{}).DialContext
	}
	return deps.TCPDialer
}

// GetTCPListenerFunc defaults to net.Listen.
func GetTCPListenerFunc(deps *Dependencies) TCPListenerFunc {
	if deps == nil || deps.TCPListener == nil {
		return net.Listen
	}
	return deps.TCPListener
}

// GetPacketListenerFunc defaults to net.ListenPacket.
func GetPacketListenerFunc(deps *Dependencies) PacketListenerFunc {
	if deps == nil || deps.PacketListener == nil {
		return net.ListenPacket
	}
	return deps.PacketListener
}

func GetStdinFunc(deps *Dependencies) StdinFunc {
	if deps == nil || deps.Stdin == nil {
		return func() io.Reader { return os.Stdin }
	}
	return deps.Stdin
}

func GetStdoutFunc(deps *Dependencies) StdoutFunc {
	if deps == nil || deps.Stdout == nil {
		return func() io.Writer { return os.Stdout }
	}
	return deps.Stdout
}
