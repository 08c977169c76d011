// Package config holds the configuration shared by remotebus commands and
// the injectable dependencies used to test them.
package config

import (
	"fmt"
	"time"

	"dominicbreuker/remotebus/pkg/log"
)

// Protocol is the transport used for the remote link.
type Protocol int

const (
	ProtoTCP Protocol = iota + 1
	ProtoWS
	ProtoUDP
)

func (p Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoWS:
		return "ws"
	case ProtoUDP:
		return "udp"
	default:
		return ""
	}
}

// NoTimeout disables a timeout. Any non-positive duration has the same effect.
const NoTimeout time.Duration = 0

// TimeoutEnabled reports whether d is a real deadline rather than the
// "never expires" sentinel.
func TimeoutEnabled(d time.Duration) bool {
	return d > 0
}

// Shared describes the remote endpoint and the ambient settings every command needs.
type Shared struct {
	Protocol Protocol
	Host     string
	Port     int
	Family   string // tcp, tcp4 or tcp6
	Verbose  bool

	MetricsAddr string // serve Prometheus metrics here when set

	Logger *log.Logger
	Deps   *Dependencies
}

// Validate checks the remote endpoint.
func (c *Shared) Validate() []error {
	var errors []error

	if c.Host == "" {
		errors = append(errors, fmt.Errorf("remote host must not be empty"))
	}

	if err := validatePort(c.Port); err != nil {
		errors = append(errors, fmt.Errorf("remote port: %s", err))
	}

	switch c.Family {
	case "", "tcp", "tcp4", "tcp6":
	default:
		errors = append(errors, fmt.Errorf("address family must be one of tcp, tcp4, tcp6, got %q", c.Family))
	}

	if c.Protocol != ProtoTCP && c.Family != "" && c.Family != "tcp" {
		errors = append(errors, fmt.Errorf("address family hint only applies to the tcp transport"))
	}

	return errors
}

// Network returns the network name passed to the TCP dialer.
func (c *Shared) Network() string {
	if c.Family == "" {
		return "tcp"
	}
	return c.Family
}

// Timeouts bounds connect/disconnect attempts and wrapped operations.
type Timeouts struct {
	Connect   time.Duration
	Operation time.Duration
}

// KeepaliveParams tunes TCP keepalive probing where the platform supports it.
type KeepaliveParams struct {
	Count    int
	Idle     time.Duration
	Interval time.Duration
}

// Tunnel configures the tunnel and the protocol client binding.
type Tunnel struct {
	Timeouts

	Name            string // unique name of the protocol client binding
	Auth            string // default, anonymous or external
	Keepalive       bool
	KeepaliveParams *KeepaliveParams
	NoDelay         bool
	TraceFile       string
}

// Validate checks the tunnel settings.
func (c *Tunnel) Validate() []error {
	var errors []error

	if c.Name == "" {
		errors = append(errors, fmt.Errorf("binding name must not be empty"))
	}

	switch c.Auth {
	case "", "default", "anonymous", "external":
	default:
		errors = append(errors, fmt.Errorf("auth mode must be one of default, anonymous, external, got %q", c.Auth))
	}

	if p := c.KeepaliveParams; p != nil {
		if p.Count < 1 {
			errors = append(errors, fmt.Errorf("keepalive probe count must be positive"))
		}
		if p.Idle < time.Second || p.Interval < time.Second {
			errors = append(errors, fmt.Errorf("keepalive idle and interval must be at least one second"))
		}
	}

	return errors
}
