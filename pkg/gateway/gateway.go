// Package gateway implements the remote side of non-TCP tunnel links.
//
// A D-Bus daemon only understands plain streams on a TCP or unix socket. The
// gateway accepts ws, udp or tcp links from remotebus tunnels and bridges
// each of them to a fresh connection to the daemon, so the tunnel keeps its
// one-link-one-daemon-connection semantics across any transport.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jpillora/backoff"
	"github.com/jpillora/sizestr"

	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/log"
	"dominicbreuker/remotebus/pkg/metrics"
	"dominicbreuker/remotebus/pkg/pipeio"
	"dominicbreuker/remotebus/pkg/semaphore"
	"dominicbreuker/remotebus/pkg/transport"
	"dominicbreuker/remotebus/pkg/transport/tcp"
	"dominicbreuker/remotebus/pkg/transport/udp"
	"dominicbreuker/remotebus/pkg/transport/ws"
)

// ErrLinkLimit is returned for links turned away because all slots are taken.
var ErrLinkLimit = errors.New("link limit reached")

type listenFunc func(ctx context.Context, addr string, handler transport.Handler, logger *log.Logger, deps *config.Dependencies) error

func listenerFor(p config.Protocol) (listenFunc, error) {
	switch p {
	case config.ProtoTCP:
		return tcp.ListenAndServe, nil
	case config.ProtoWS:
		return ws.ListenAndServe, nil
	case config.ProtoUDP:
		return udp.ListenAndServe, nil
	default:
		return nil, fmt.Errorf("unsupported protocol %d", p)
	}
}

// Serve listens on the endpoint in cfg and bridges every accepted link to
// the daemon named in gcfg until ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Shared, gcfg *config.Gateway) error {
	listen, err := listenerFor(cfg.Protocol)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	cfg.Logger.InfoMsg("Gateway listening on %s://%s, bridging to %s://%s", cfg.Protocol, addr, gcfg.TargetNetwork, gcfg.TargetAddress)

	sem := semaphore.New(gcfg.MaxLinks, gcfg.QueueTimeout)
	return listen(ctx, addr, newHandler(ctx, cfg, gcfg, sem), cfg.Logger, cfg.Deps)
}

func newHandler(parent context.Context, cfg *config.Shared, gcfg *config.Gateway, sem *semaphore.LinkSemaphore) transport.Handler {
	dial := config.GetTCPDialerFunc(cfg.Deps)

	return func(link net.Conn) error {
		if err := admit(parent, sem, gcfg); err != nil {
			metrics.GatewayRejectedTotal.Inc()
			return fmt.Errorf("rejecting link from %s: %w", link.RemoteAddr(), err)
		}
		defer sem.Release()

		// per-link context
		ctx, cancel := context.WithCancel(parent)
		defer cancel()

		daemon, err := dialDaemon(ctx, dial, gcfg, cfg.Logger)
		if err != nil {
			return err
		}

		metrics.GatewayActiveLinks.Inc()
		defer metrics.GatewayActiveLinks.Dec()

		cfg.Logger.VerboseMsg("Bridging link from %s to %s", link.RemoteAddr(), gcfg.TargetAddress)
		sent, received := pipeio.Pipe(ctx, link, daemon, func(err error) {
			cfg.Logger.ErrorMsg("Link from %s: %s", link.RemoteAddr(), err)
		})
		metrics.GatewayBytes.WithLabelValues("to_daemon").Add(float64(sent))
		metrics.GatewayBytes.WithLabelValues("to_link").Add(float64(received))
		cfg.Logger.VerboseMsg("Link from %s closed (sent %s received %s)",
			link.RemoteAddr(), sizestr.ToString(sent), sizestr.ToString(received))
		return nil
	}
}

// dialDaemon connects to the daemon socket, retrying up to gcfg.DialRetries
// times. A daemon being restarted refuses connections for a moment.
func dialDaemon(ctx context.Context, dial config.TCPDialerFunc, gcfg *config.Gateway, logger *log.Logger) (net.Conn, error) {
	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2}
	for {
		conn, err := dial(ctx, gcfg.TargetNetwork, gcfg.TargetAddress)
		if err == nil {
			return conn, nil
		}
		err = fmt.Errorf("dial(%s, %s): %w", gcfg.TargetNetwork, gcfg.TargetAddress, err)

		attempt := int(b.Attempt())
		if attempt >= gcfg.DialRetries {
			return nil, err
		}
		d := b.Duration()
		logger.VerboseMsg("%s (attempt %d/%d), retrying in %s", err, attempt+1, gcfg.DialRetries, d)
		metrics.GatewayDialRetries.Inc()

		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, err
		}
	}
}

func admit(ctx context.Context, sem *semaphore.LinkSemaphore, gcfg *config.Gateway) error {
	if !config.TimeoutEnabled(gcfg.QueueTimeout) {
		if !sem.TryAcquire() {
			return ErrLinkLimit
		}
		return nil
	}

	if err := sem.Acquire(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrLinkLimit, err)
	}
	return nil
}
