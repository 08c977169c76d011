package config

import (
	"fmt"
	"strings"
	"time"
)

// Gateway configures the remote-side agent that bridges tunnel links to the daemon.
type Gateway struct {
	TargetNetwork string // tcp or unix
	TargetAddress string
	MaxLinks      int
	QueueTimeout  time.Duration // how long a link waits for a free slot; <= 0 rejects at once
	DialRetries   int           // extra daemon dial attempts per link
}

// ParseTarget fills TargetNetwork and TargetAddress from a target spec of the
// form tcp://host:port or unix:///path/to/socket.
func (c *Gateway) ParseTarget(spec string) error {
	switch {
	case strings.HasPrefix(spec, "tcp://"):
		c.TargetNetwork = "tcp"
		c.TargetAddress = strings.TrimPrefix(spec, "tcp://")
	case strings.HasPrefix(spec, "unix://"):
		c.TargetNetwork = "unix"
		c.TargetAddress = strings.TrimPrefix(spec, "unix://")
	default:
		return fmt.Errorf("target %q: format should be tcp://host:port or unix:///path", spec)
	}

	if c.TargetAddress == "" {
		return fmt.Errorf("target %q: empty address", spec)
	}

	return nil
}

// Validate checks the gateway settings.
func (c *Gateway) Validate() []error {
	var errors []error

	if c.TargetNetwork != "tcp" && c.TargetNetwork != "unix" {
		errors = append(errors, fmt.Errorf("target network must be tcp or unix"))
	}

	if c.TargetAddress == "" {
		errors = append(errors, fmt.Errorf("target address must not be empty"))
	}

	if c.MaxLinks < 1 {
		errors = append(errors, fmt.Errorf("max links must be positive"))
	}

	if c.DialRetries < 0 {
		errors = append(errors, fmt.Errorf("dial retries must not be negative"))
	}

	return errors
}
