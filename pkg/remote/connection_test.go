package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	mocktcp "dominicbreuker/remotebus/mocks/tcp"
	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/tunnel"
)

const wait = 2 * time.Second

type recorder struct {
	events chan string
}

func newRecorder() *recorder {
	return &recorder{events: make(chan string, 32)}
}

func (r *recorder) Opened(success bool) { r.events <- fmt.Sprintf("opened %v", success) }
func (r *recorder) Error(msg string)    { r.events <- "error " + msg }
func (r *recorder) Closed()             { r.events <- "closed" }

// expect fails unless the next notification starts with want.
func (r *recorder) expect(t *testing.T, want string) {
	t.Helper()

	select {
	case got := <-r.events:
		if !strings.HasPrefix(got, want) {
			t.Fatalf("notification = %q; want %q", got, want)
		}
	case <-time.After(wait):
		t.Fatalf("no notification; want %q", want)
	}
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()

	select {
	case got := <-r.events:
		t.Fatalf("unexpected notification %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

// lineBinder binds a line client and greets the daemon, which stands in for
// a protocol handshake.
func lineBinder() Binder {
	return BinderFunc(func(addr, name string) (Client, error) {
		c, err := mocktcp.NewClient(context.Background(), config.GetTCPDialerFunc(nil), "tcp", addr)
		if err != nil {
			return nil, err
		}
		if err := c.WriteLine("hello " + name); err != nil {
			c.Close()
			return nil, err
		}
		if _, err := c.ReadLine(); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	})
}

func newDaemon(t *testing.T) (*mocktcp.Daemon, int) {
	t.Helper()

	srv, err := mocktcp.NewDaemon(config.GetTCPListenerFunc(nil), "tcp", "127.0.0.1:0", "ok ")
	if err != nil {
		t.Fatalf("NewDaemon() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, srv.Addr().(*net.TCPAddr).Port
}

func newConnection(t *testing.T, timeouts config.Timeouts, binder Binder, deps *config.Dependencies) (*Connection, *recorder) {
	t.Helper()

	rec := newRecorder()
	cfg := &config.Tunnel{Name: t.Name(), Timeouts: timeouts}
	c := New(cfg, binder, rec, tunnel.Options{Deps: deps})
	t.Cleanup(c.Shutdown)
	return c, rec
}

func call(c *Connection, line string) (string, error) {
	var reply string
	err := c.Do(func(cl Client) error {
		lc := cl.(*mocktcp.Client)
		if err := lc.WriteLine(line); err != nil {
			return err
		}
		var err error
		reply, err = lc.ReadLine()
		return err
	})
	return reply, err
}

func TestConnection_OpenCallClose(t *testing.T) {
	t.Parallel()

	_, port := newDaemon(t)
	c, rec := newConnection(t, config.Timeouts{Connect: time.Second, Operation: time.Second}, lineBinder(), nil)

	if !c.Open("127.0.0.1", port, "tcp") {
		t.Fatal("Open() = false on an idle connection")
	}
	rec.expect(t, "opened true")
	if !c.IsOpen() {
		t.Fatal("IsOpen() = false after opened")
	}
	if c.Open("127.0.0.1", port, "tcp") {
		t.Error("Open() = true on an open connection")
	}

	reply, err := call(c, "ping")
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if reply != "ok ping" {
		t.Errorf("reply = %q; want %q", reply, "ok ping")
	}

	if !c.Close() {
		t.Fatal("Close() = false on an open connection")
	}
	if c.IsOpen() {
		t.Error("IsOpen() = true right after Close()")
	}
	rec.expect(t, "closed")
	if c.Close() {
		t.Error("Close() = true on a closed connection")
	}
	rec.expectNone(t)
}

func TestConnection_ConnectTimeout(t *testing.T) {
	t.Parallel()

	deps := &config.Dependencies{
		TCPDialer: func(ctx context.Context, network, addr string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	c, rec := newConnection(t, config.Timeouts{Connect: 50 * time.Millisecond}, lineBinder(), deps)

	c.Open("192.0.2.1", 9, "tcp")
	rec.expect(t, "error remote connect attempt timed out")
	rec.expect(t, "opened false")
	if c.IsOpen() {
		t.Error("IsOpen() = true after a failed open")
	}
}

func TestConnection_OperationTimeout(t *testing.T) {
	t.Parallel()

	_, port := newDaemon(t)
	c, rec := newConnection(t, config.Timeouts{Connect: time.Second, Operation: 50 * time.Millisecond}, lineBinder(), nil)

	c.Open("127.0.0.1", port, "tcp")
	rec.expect(t, "opened true")

	start := time.Now()
	_, err := call(c, "sleep 5s")
	if !errors.Is(err, tunnel.ErrOperationTimeout) {
		t.Fatalf("Do() error = %v; want ErrOperationTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > wait {
		t.Errorf("stalled call returned after %v", elapsed)
	}
	if c.LastError() == nil {
		t.Error("LastError() = nil after a timed out operation")
	}

	rec.expect(t, "error operation timed out")
	rec.expect(t, "closed")
	if c.IsOpen() {
		t.Error("IsOpen() = true after the timeout closed the connection")
	}
	if _, err := call(c, "ping"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Do() after close error = %v; want ErrNotOpen", err)
	}
}

func TestConnection_OperationFailed(t *testing.T) {
	t.Parallel()

	_, port := newDaemon(t)
	c, rec := newConnection(t, config.Timeouts{Operation: time.Second}, lineBinder(), nil)

	c.Open("127.0.0.1", port, "tcp")
	rec.expect(t, "opened true")

	nope := errors.New("nope")
	if err := c.Do(func(Client) error { return nope }); !errors.Is(err, nope) {
		t.Fatalf("Do() error = %v; want nope", err)
	}
	rec.expect(t, "error operation failed: nope")
	if !errors.Is(c.LastError(), nope) {
		t.Errorf("LastError() = %v; want nope", c.LastError())
	}
	if !c.IsOpen() {
		t.Error("IsOpen() = false after a failed operation")
	}
	rec.expectNone(t)
}

func TestConnection_DoNotOpen(t *testing.T) {
	t.Parallel()

	c, rec := newConnection(t, config.Timeouts{}, lineBinder(), nil)
	ran := false
	err := c.Do(func(Client) error { ran = true; return nil })

	if !errors.Is(err, ErrNotOpen) {
		t.Errorf("Do() error = %v; want ErrNotOpen", err)
	}
	if ran {
		t.Error("operation ran on a closed connection")
	}
	rec.expectNone(t)
}

func TestConnection_BindFailure(t *testing.T) {
	t.Parallel()

	_, port := newDaemon(t)
	binder := BinderFunc(func(addr, name string) (Client, error) {
		return nil, errors.New("handshake rejected")
	})
	c, rec := newConnection(t, config.Timeouts{Connect: time.Second}, binder, nil)

	c.Open("127.0.0.1", port, "tcp")
	rec.expect(t, "error binding failed: handshake rejected")
	rec.expect(t, "opened false")
	if got := c.Tunnel().State(); got != tunnel.Idle {
		t.Errorf("tunnel state = %v; want idle", got)
	}
	rec.expectNone(t)
}

func TestConnection_BindStall(t *testing.T) {
	t.Parallel()

	_, port := newDaemon(t)
	binder := BinderFunc(func(addr, name string) (Client, error) {
		c, err := mocktcp.NewClient(context.Background(), config.GetTCPDialerFunc(nil), "tcp", addr)
		if err != nil {
			return nil, err
		}
		c.WriteLine("sleep 5s")
		if _, err := c.ReadLine(); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	})
	c, rec := newConnection(t, config.Timeouts{Connect: 100 * time.Millisecond}, binder, nil)

	c.Open("127.0.0.1", port, "tcp")
	rec.expect(t, "error binding failed: no response within 100ms")
	rec.expect(t, "opened false")
}

func TestConnection_NameInUse(t *testing.T) {
	t.Parallel()

	_, port := newDaemon(t)
	cfg := &config.Tunnel{Name: t.Name()}
	firstRec := newRecorder()
	a := New(cfg, lineBinder(), firstRec, tunnel.Options{})
	t.Cleanup(a.Shutdown)
	bRec := newRecorder()
	b := New(cfg, lineBinder(), bRec, tunnel.Options{})
	t.Cleanup(b.Shutdown)

	a.Open("127.0.0.1", port, "tcp")
	firstRec.expect(t, "opened true")

	b.Open("127.0.0.1", port, "tcp")
	bRec.expect(t, "error binding failed: ")
	bRec.expect(t, "opened false")

	a.Close()
	firstRec.expect(t, "closed")

	b.Open("127.0.0.1", port, "tcp")
	bRec.expect(t, "opened true")
}

func TestConnection_RemoteGone(t *testing.T) {
	t.Parallel()

	srv, port := newDaemon(t)
	c, rec := newConnection(t, config.Timeouts{}, lineBinder(), nil)

	c.Open("127.0.0.1", port, "tcp")
	rec.expect(t, "opened true")

	srv.Close()
	rec.expect(t, "closed")
	if c.IsOpen() {
		t.Error("IsOpen() = true after the remote went away")
	}
}

func TestConnection_OpenWaitCloseWait(t *testing.T) {
	t.Parallel()

	_, port := newDaemon(t)
	c, _ := newConnection(t, config.Timeouts{Connect: time.Second}, lineBinder(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	if err := c.OpenWait(ctx, "127.0.0.1", port, "tcp"); err != nil {
		t.Fatalf("OpenWait() error = %v", err)
	}
	if err := c.OpenWait(ctx, "127.0.0.1", port, "tcp"); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second OpenWait() error = %v; want ErrAlreadyOpen", err)
	}
	if err := c.CloseWait(ctx); err != nil {
		t.Fatalf("CloseWait() error = %v", err)
	}
	if c.IsOpen() {
		t.Error("IsOpen() = true after CloseWait")
	}
}

func TestConnection_OpenWaitFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c, _ := newConnection(t, config.Timeouts{Connect: time.Second}, lineBinder(), nil)
	err = c.OpenWait(context.Background(), "127.0.0.1", port, "tcp")
	if err == nil || !strings.Contains(err.Error(), "remote connection error") {
		t.Errorf("OpenWait() error = %v; want remote connection error", err)
	}
}

func TestConnection_ShutdownSilent(t *testing.T) {
	t.Parallel()

	_, port := newDaemon(t)
	rec := newRecorder()
	c := New(&config.Tunnel{Name: t.Name()}, lineBinder(), rec, tunnel.Options{})

	c.Open("127.0.0.1", port, "tcp")
	rec.expect(t, "opened true")

	c.Shutdown()
	if c.IsOpen() {
		t.Error("IsOpen() = true after Shutdown")
	}
	rec.expectNone(t)

	// The name is free again.
	other := New(&config.Tunnel{Name: t.Name()}, lineBinder(), rec, tunnel.Options{})
	defer other.Shutdown()
	other.Open("127.0.0.1", port, "tcp")
	rec.expect(t, "opened true")
}
