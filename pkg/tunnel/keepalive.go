package tunnel

import (
	"errors"
	"net"
	"time"

	"dominicbreuker/remotebus/pkg/config"
)

// ErrKeepaliveUnsupported is returned by a KeepaliveTuner that cannot tune
// the given connection.
var ErrKeepaliveUnsupported = errors.New("keepalive tuning not supported")

// KeepaliveTuner applies TCP keepalive probe parameters to a live connection.
// Platforms without tuning support get a tuner that does nothing.
type KeepaliveTuner interface {
	TuneKeepalive(conn net.Conn, p config.KeepaliveParams) error
}

// KeepaliveTunerFunc adapts a function to KeepaliveTuner.
type KeepaliveTunerFunc func(conn net.Conn, p config.KeepaliveParams) error

func (f KeepaliveTunerFunc) TuneKeepalive(conn net.Conn, p config.KeepaliveParams) error {
	return f(conn, p)
}

type noopTuner struct{}

func (noopTuner) TuneKeepalive(net.Conn, config.KeepaliveParams) error { return nil }

// PlatformTuner returns the keepalive tuner of the running platform.
func PlatformTuner() KeepaliveTuner {
	return platformTuner
}

// wholeSeconds converts d to the whole seconds socket options expect.
func wholeSeconds(d time.Duration) int {
	s := int(d.Seconds())
	if s < 1 {
		return 1
	}
	return s
}
