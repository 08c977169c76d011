package tunnel

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"dominicbreuker/remotebus/pkg/config"
)

var platformTuner KeepaliveTuner = sockoptTuner{}

// sockoptTuner sets TCP_KEEPCNT, TCP_KEEPIDLE and TCP_KEEPINTVL on the socket.
type sockoptTuner struct{}

func (sockoptTuner) TuneKeepalive(conn net.Conn, p config.KeepaliveParams) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return fmt.Errorf("%T: %w", conn, ErrKeepaliveUnsupported)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return fmt.Errorf("SyscallConn(): %w", err)
	}

	var serr error
	err = raw.Control(func(fd uintptr) {
		opts := []struct {
			name  string
			opt   int
			value int
		}{
			{"TCP_KEEPCNT", unix.TCP_KEEPCNT, p.Count},
			{"TCP_KEEPIDLE", unix.TCP_KEEPIDLE, wholeSeconds(p.Idle)},
			{"TCP_KEEPINTVL", unix.TCP_KEEPINTVL, wholeSeconds(p.Interval)},
		}
		for _, o := range opts {
			if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, o.opt, o.value); e != nil {
				serr = fmt.Errorf("setsockopt(%s, %d): %w", o.name, o.value, e)
				return
			}
		}
	})
	if err != nil {
		return fmt.Errorf("raw.Control(): %w", err)
	}
	return serr
}
