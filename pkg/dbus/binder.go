// Package dbus binds godbus clients to remotebus tunnels and exposes the
// blocking parts of the godbus API as bounded operations.
package dbus

import (
	"fmt"
	"net"
	"os"
	"strconv"

	godbus "github.com/godbus/dbus/v5"

	"dominicbreuker/remotebus/pkg/remote"
)

// Binder connects godbus clients to the relay port of a tunnel.
type Binder struct {
	// Auth lists the authentication mechanisms to try. nil means the godbus
	// defaults (EXTERNAL and DBUS_COOKIE_SHA1 for the current user).
	Auth []godbus.Auth
	// Peer skips the Hello call, for daemons that are not message buses.
	Peer bool
}

// Address returns the D-Bus address of a TCP endpoint.
func Address(host string, port string) string {
	return fmt.Sprintf("tcp:host=%s,port=%s", host, port)
}

// Bind dials addr, authenticates and registers with the bus.
func (b *Binder) Bind(addr string, name string) (remote.Client, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("net.SplitHostPort(%s): %w", addr, err)
	}

	conn, err := godbus.Dial(Address(host, port))
	if err != nil {
		return nil, fmt.Errorf("dbus.Dial(%s): %w", Address(host, port), err)
	}
	if err := conn.Auth(b.Auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}
	if !b.Peer {
		if err := conn.Hello(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("hello: %w", err)
		}
	}

	return &client{conn: conn, name: name}, nil
}

// AuthMethods maps an authentication mode to godbus mechanisms. The modes
// are "default", "anonymous" and "external".
func AuthMethods(mode string) ([]godbus.Auth, error) {
	switch mode {
	case "", "default":
		return nil, nil
	case "anonymous":
		return []godbus.Auth{godbus.AuthAnonymous()}, nil
	case "external":
		return []godbus.Auth{godbus.AuthExternal(strconv.Itoa(os.Geteuid()))}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q (want default, anonymous or external)", mode)
	}
}

// client is a godbus connection bound to a tunnel.
type client struct {
	conn *godbus.Conn
	name string
}

func (c *client) Close() error {
	return c.conn.Close()
}
