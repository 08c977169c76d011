package shared

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"dominicbreuker/remotebus/pkg/config"
)

var transportRe = regexp.MustCompile(`^(tcp|ws|udp)://(\[[^\]]*\]|[^:]*):(\d+)$`)

// ParseTransport parses a transport string in the format "protocol://host:port"
// where protocol is one of tcp, ws or udp. IPv6 hosts are written in brackets.
// The host can be empty or "*" to bind to all interfaces.
// Returns the protocol, host, port, and any parsing error.
func ParseTransport(s string) (proto config.Protocol, host string, port int, err error) {
	matches := transportRe.FindStringSubmatch(s)

	if len(matches) != 4 {
		err = parsingError(s)
		return
	}

	switch matches[1] {
	case "tcp":
		proto = config.ProtoTCP
	case "ws":
		proto = config.ProtoWS
	case "udp":
		proto = config.ProtoUDP
	default:
		err = parsingError(s)
		return
	}
	host = strings.TrimSuffix(strings.TrimPrefix(matches[2], "["), "]")
	if host == "*" { // also counts as all interfaces
		host = ""
	}

	port, err = strconv.Atoi(matches[3])
	if err != nil || port < 1 || port > 65535 {
		err = parsingError(s)
		return
	}

	return
}

func parsingError(s string) error {
	return fmt.Errorf("parsing %s: format should be 'protocol://host:port', where protocol = tcp|ws|udp", s)
}

// ParseKeepaliveParams parses "<count>:<idle>:<interval>" where idle and
// interval are durations like 30s.
func ParseKeepaliveParams(s string) (*config.KeepaliveParams, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("parsing keepalive params %s: format should be <count>:<idle>:<interval>", s)
	}

	count, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("parsing keepalive count %s: %w", parts[0], err)
	}
	idle, err := time.ParseDuration(parts[1])
	if err != nil {
		return nil, fmt.Errorf("parsing keepalive idle %s: %w", parts[1], err)
	}
	interval, err := time.ParseDuration(parts[2])
	if err != nil {
		return nil, fmt.Errorf("parsing keepalive interval %s: %w", parts[2], err)
	}

	return &config.KeepaliveParams{Count: count, Idle: idle, Interval: interval}, nil
}
