package tunnel

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"dominicbreuker/remotebus/pkg/config"
)

const eventWait = 2 * time.Second

// fakeDaemon is the remote end of a tunnel: a loopback listener that hands
// every accepted connection to the test.
type fakeDaemon struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	d := &fakeDaemon{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			d.conns <- c
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return d
}

func (d *fakeDaemon) port() int {
	return d.ln.Addr().(*net.TCPAddr).Port
}

func (d *fakeDaemon) accept(t *testing.T) net.Conn {
	t.Helper()

	select {
	case c := <-d.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(eventWait):
		t.Fatal("daemon did not receive a connection")
		return nil
	}
}

func newTestTunnel(t *testing.T, cfg *config.Tunnel, opts Options) *Tunnel {
	t.Helper()

	tun := New(cfg, opts)
	t.Cleanup(tun.Shutdown)
	return tun
}

// blockingDialer never connects and gives up only when the dial is cancelled.
func blockingDialer() *config.Dependencies {
	return &config.Dependencies{
		TCPDialer: func(ctx context.Context, network, addr string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

func nextEvent(t *testing.T, tun *Tunnel) Event {
	t.Helper()

	select {
	case e, ok := <-tun.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return e
	case <-time.After(eventWait):
		t.Fatal("no event received")
		return Event{}
	}
}

func expectEvent(t *testing.T, tun *Tunnel, want Event) Event {
	t.Helper()

	got := nextEvent(t, tun)
	if got.Kind != want.Kind || got.Success != want.Success || (want.Message != "" && got.Message != want.Message) {
		t.Fatalf("event = %+v; want %+v", got, want)
	}
	return got
}

func expectNoEvent(t *testing.T, tun *Tunnel, d time.Duration) {
	t.Helper()

	select {
	case e := <-tun.Events():
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(d):
	}
}

// openConnected opens tun against d and returns the relay port and the
// daemon side of the remote link.
func openConnected(t *testing.T, tun *Tunnel, d *fakeDaemon) (int, net.Conn) {
	t.Helper()

	tun.Open("127.0.0.1", d.port(), "tcp")
	e := expectEvent(t, tun, Event{Kind: EventOpened, Success: true})
	if e.LocalPort == 0 {
		t.Fatal("opened event without a local port")
	}
	if got := tun.State(); got != Connected {
		t.Fatalf("State() = %v; want connected", got)
	}
	return e.LocalPort, d.accept(t)
}

func dialRelay(t *testing.T, port int) net.Conn {
	t.Helper()

	c, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), eventWait)
	if err != nil {
		t.Fatalf("dialing relay: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}
