// Package remote binds a protocol client to a tunnel and bounds every
// blocking call the client makes.
//
// A Connection owns a tunnel.Tunnel. Once the tunnel reports the remote link
// as up, the Connection asks its Binder for a client connected to the relay
// port. Calls are then made through Do, which fails them once they exceed
// the operation timeout instead of letting them hang on a stalled link.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/log"
	"dominicbreuker/remotebus/pkg/metrics"
	"dominicbreuker/remotebus/pkg/tunnel"
)

var (
	// ErrNotOpen is returned by Do when no client is bound.
	ErrNotOpen = errors.New("connection not open")
	// ErrNameInUse is returned when a binding name is taken by another connection.
	ErrNameInUse = errors.New("binding name already in use")
	// ErrAlreadyOpen is returned by OpenWait if a client is already bound.
	ErrAlreadyOpen = errors.New("connection already open")
)

// Client is a protocol client bound to the relay port.
type Client interface {
	Close() error
}

// Binder creates protocol clients. Bind connects to addr (host:port of the
// relay) and completes any protocol handshake. name is unique per process.
type Binder interface {
	Bind(addr string, name string) (Client, error)
}

// BinderFunc adapts a function to Binder.
type BinderFunc func(addr string, name string) (Client, error)

func (f BinderFunc) Bind(addr string, name string) (Client, error) {
	return f(addr, name)
}

// Connection is a tunnel with a protocol client bound to it.
type Connection struct {
	name     string
	binder   Binder
	observer Observer
	tunnel   *tunnel.Tunnel
	logger   *log.Logger

	mu      sync.Mutex
	client  Client
	lastErr error
	waiters []*waiter

	dispatched chan struct{}
}

// waiter collects the notifications OpenWait and CloseWait block on.
type waiter struct {
	kind tunnel.EventKind
	errs []string
	ch   chan bool
}

// New creates an idle connection. cfg.Name is the binding name. observer
// may be nil.
func New(cfg *config.Tunnel, binder Binder, observer Observer, opts tunnel.Options) *Connection {
	if cfg == nil {
		cfg = &config.Tunnel{}
	}
	if observer == nil {
		observer = ObserverFuncs{}
	}
	c := &Connection{
		name:       cfg.Name,
		binder:     binder,
		observer:   observer,
		tunnel:     tunnel.New(cfg, opts),
		logger:     opts.Logger,
		dispatched: make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// Name returns the binding name.
func (c *Connection) Name() string {
	return c.name
}

// IsOpen reports whether a client is bound.
func (c *Connection) IsOpen() bool {
	return c.current() != nil
}

// LastError returns the error of the most recent failed operation.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Tunnel returns the underlying tunnel.
func (c *Connection) Tunnel() *tunnel.Tunnel {
	return c.tunnel
}

// Open starts connecting to host:port. It returns false if a client is
// already bound. The outcome is reported by Observer.Opened.
func (c *Connection) Open(host string, port int, network string) bool {
	if c.IsOpen() {
		return false
	}
	c.tunnel.Open(host, port, network)
	return true
}

// Close drops the bound client and starts a graceful disconnect. It returns
// false if nothing is bound.
func (c *Connection) Close() bool {
	if !c.IsOpen() {
		return false
	}
	c.dropBinding()
	c.tunnel.Close()
	return true
}

// Abort drops the bound client and tears the tunnel down without notifications.
func (c *Connection) Abort() {
	c.dropBinding()
	c.tunnel.Abort()
}

// Shutdown releases the connection for good. No notifications follow.
func (c *Connection) Shutdown() {
	c.dropBinding()
	c.tunnel.Shutdown()
	<-c.dispatched
}

func (c *Connection) SetConnectTimeout(d time.Duration)   { c.tunnel.SetConnectTimeout(d) }
func (c *Connection) SetOperationTimeout(d time.Duration) { c.tunnel.SetOperationTimeout(d) }
func (c *Connection) SetKeepaliveEnabled(on bool) bool    { return c.tunnel.SetKeepaliveEnabled(on) }
func (c *Connection) SetNoDelay(on bool) error            { return c.tunnel.SetNoDelay(on) }
func (c *Connection) UnsetKeepaliveParameters()           { c.tunnel.UnsetKeepaliveParameters() }

func (c *Connection) SetKeepaliveParameters(p config.KeepaliveParams) error {
	return c.tunnel.SetKeepaliveParameters(p)
}

// Do runs op with the bound client. Only one operation runs at a time. If op
// outlives the operation timeout the tunnel is aborted, which makes op fail,
// and the returned error wraps tunnel.ErrOperationTimeout.
func (c *Connection) Do(op func(Client) error) error {
	client := c.current()
	if client == nil {
		return ErrNotOpen
	}

	return c.tunnel.Do(func() error {
		err := op(client)
		if err == nil {
			return nil
		}
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()

		if c.tunnel.TimedOut() {
			c.tunnel.ReportError("operation timed out")
		} else {
			c.tunnel.ReportError(fmt.Sprintf("operation failed: %s", err))
		}
		return err
	})
}

// OpenWait opens the connection and blocks until the client is bound or
// opening failed. If ctx ends first the connection is aborted.
func (c *Connection) OpenWait(ctx context.Context, host string, port int, network string) error {
	w := c.addWaiter(tunnel.EventOpened)
	if !c.Open(host, port, network) {
		c.removeWaiter(w)
		return ErrAlreadyOpen
	}

	select {
	case ok := <-w.ch:
		if ok {
			return nil
		}
		if len(w.errs) == 0 {
			return errors.New("open failed")
		}
		return errors.New(strings.Join(w.errs, "; "))
	case <-ctx.Done():
		c.removeWaiter(w)
		c.Abort()
		return ctx.Err()
	}
}

// CloseWait closes the connection and blocks until the tunnel is closed.
// If ctx ends first the connection is aborted.
func (c *Connection) CloseWait(ctx context.Context) error {
	w := c.addWaiter(tunnel.EventClosed)
	if !c.Close() {
		c.removeWaiter(w)
		return nil
	}

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		c.removeWaiter(w)
		c.Abort()
		return ctx.Err()
	}
}

func (c *Connection) current() Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *Connection) dropBinding() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		c.logger.VerboseMsg("closing %s client: %s", c.name, err)
	}
	releaseName(c.name)
}

func (c *Connection) dispatch() {
	defer close(c.dispatched)

	for e := range c.tunnel.Events() {
		switch e.Kind {
		case tunnel.EventOpened:
			if e.Success {
				if err := c.attach(e.LocalPort); err != nil {
					c.tunnel.Abort()
					metrics.ErrorsTotal.WithLabelValues("bind").Inc()
					c.deliverError(fmt.Sprintf("binding failed: %s", err))
					e.Success = false
				}
			} else {
				c.dropBinding()
			}
			c.observer.Opened(e.Success)
			c.notify(e.Kind, e.Success)
		case tunnel.EventError:
			c.deliverError(e.Message)
		case tunnel.EventClosed:
			if e.Success {
				c.dropBinding()
				c.observer.Closed()
			}
			c.notify(e.Kind, e.Success)
		}
	}
}

func (c *Connection) deliverError(msg string) {
	c.mu.Lock()
	for _, w := range c.waiters {
		w.errs = append(w.errs, msg)
	}
	c.mu.Unlock()

	c.observer.Error(msg)
}

// attach binds a client to the relay port. A bind that outlives the connect
// timeout is cut short by aborting the tunnel under it.
func (c *Connection) attach(port int) error {
	if err := claimName(c.name); err != nil {
		return err
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	type result struct {
		client Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		client, err := c.binder.Bind(addr, c.name)
		done <- result{client, err}
	}()

	var r result
	timeout := c.tunnel.Timeouts().Connect
	if config.TimeoutEnabled(timeout) {
		select {
		case r = <-done:
		case <-time.After(timeout):
			c.tunnel.Abort()
			r = <-done
			if r.client != nil {
				r.client.Close()
			}
			r = result{err: fmt.Errorf("no response within %s", timeout)}
		}
	} else {
		r = <-done
	}

	if r.err != nil {
		releaseName(c.name)
		return r.err
	}

	c.mu.Lock()
	c.client = r.client
	c.mu.Unlock()
	c.logger.VerboseMsg("%s client bound to %s", c.name, addr)
	return nil
}

func (c *Connection) addWaiter(kind tunnel.EventKind) *waiter {
	w := &waiter{kind: kind, ch: make(chan bool, 1)}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return w
}

func (c *Connection) removeWaiter(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.waiters {
		if x == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

func (c *Connection) notify(kind tunnel.EventKind, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.kind == kind {
			w.ch <- success
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}
