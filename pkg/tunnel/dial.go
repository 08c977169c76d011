package tunnel

import (
	"fmt"
	"net"
	"strconv"

	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/transport"
	"dominicbreuker/remotebus/pkg/transport/tcp"
	"dominicbreuker/remotebus/pkg/transport/udp"
	"dominicbreuker/remotebus/pkg/transport/ws"
)

// newDialer returns the dialer for the remote link. network is the family
// hint (tcp, tcp4, tcp6) and only matters for the tcp transport.
func newDialer(proto config.Protocol, host string, port int, network string, deps *config.Dependencies) (transport.Dialer, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if network == "" {
		network = "tcp"
	}

	switch proto {
	case config.ProtoTCP, 0:
		return tcp.NewDialer(network, addr, deps)
	case config.ProtoWS:
		return ws.NewDialer(addr)
	case config.ProtoUDP:
		return udp.NewDialer(addr, deps)
	default:
		return nil, fmt.Errorf("unsupported protocol: %v", proto)
	}
}
