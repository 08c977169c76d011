// Package tcp provides an in-memory stream network and line-oriented test
// peers for exercising tunnel transports without sockets.
package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Network simulates a TCP network with in-memory pipes. Addresses registered
// with Blackhole behave like an unreachable host: dialing them blocks until
// the dial context ends.
type Network struct {
	mu         sync.Mutex
	changed    *sync.Cond
	listeners  map[string]*Listener
	blackholes map[string]bool
	nextPort   int
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	m := &Network{
		listeners:  make(map[string]*Listener),
		blackholes: make(map[string]bool),
		nextPort:   50000,
	}
	m.changed = sync.NewCond(&m.mu)
	return m
}

// Blackhole makes dials to addr hang until their context is done.
func (m *Network) Blackhole(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blackholes[addr] = true
}

// Listen registers a listener on addr. Port 0 picks a free mock port.
// It has the signature of config.TCPListenerFunc.
func (m *Network) Listen(network, addr string) (net.Listener, error) {
	laddr, err := resolve(network, addr)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if laddr.Port == 0 {
		laddr.Port = m.nextPort
		m.nextPort++
	}
	key := laddr.String()
	if _, exists := m.listeners[key]; exists {
		return nil, fmt.Errorf("address already in use: %s", key)
	}

	l := &Listener{
		addr:    laddr,
		conns:   make(chan net.Conn, 10),
		closeCh: make(chan struct{}),
		network: m,
	}
	m.listeners[key] = l
	m.changed.Broadcast()
	return l, nil
}

// Dial connects to a listener on addr. It has the signature of
// config.TCPDialerFunc.
func (m *Network) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	raddr, err := resolve(network, addr)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	l, exists := m.listeners[raddr.String()]
	blackholed := m.blackholes[addr] || m.blackholes[raddr.String()]
	laddr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: m.nextPort}
	m.nextPort++
	m.mu.Unlock()

	if blackholed {
		<-ctx.Done()
		return nil, fmt.Errorf("dial %s: %w", addr, ctx.Err())
	}
	if !exists {
		return nil, fmt.Errorf("connection refused: no listener on %s", raddr)
	}

	client, server := net.Pipe()
	select {
	case l.conns <- &conn{Conn: server, local: raddr, remote: laddr}:
		return &conn{Conn: client, local: laddr, remote: raddr}, nil
	case <-l.closeCh:
		err = fmt.Errorf("connection refused: listener closed")
	case <-ctx.Done():
		err = ctx.Err()
	case <-time.After(time.Second):
		err = fmt.Errorf("connection timeout")
	}
	client.Close()
	server.Close()
	return nil, err
}

// WaitForListener blocks until a listener exists on addr or timeout elapses.
func (m *Network) WaitForListener(addr string, timeout time.Duration) (*Listener, error) {
	deadline := time.Now().Add(timeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if l, exists := m.listeners[addr]; exists {
			return l, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for listener on %s", addr)
		}

		// wake up periodically to check the deadline
		go func() {
			time.Sleep(20 * time.Millisecond)
			m.changed.Broadcast()
		}()
		m.changed.Wait()
	}
}

func resolve(network, addr string) (*net.TCPAddr, error) {
	if network != "tcp" && network != "tcp4" {
		return nil, fmt.Errorf("unsupported network type: %s", network)
	}
	return net.ResolveTCPAddr(network, addr)
}

// Listener is the listening end of a Network address.
type Listener struct {
	addr    *net.TCPAddr
	conns   chan net.Conn
	closeCh chan struct{}
	once    sync.Once
	network *Network
}

// Accept waits for the next dialed connection.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closeCh:
		return nil, net.ErrClosed
	}
}

// Close unregisters the listener. Pending dials are refused.
func (l *Listener) Close() error {
	l.once.Do(func() {
		close(l.closeCh)

		l.network.mu.Lock()
		delete(l.network.listeners, l.addr.String())
		l.network.mu.Unlock()
	})
	return nil
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.addr
}

// conn is an in-memory pipe end with TCP addresses.
type conn struct {
	net.Conn
	local, remote *net.TCPAddr
}

func (c *conn) LocalAddr() net.Addr  { return c.local }
func (c *conn) RemoteAddr() net.Addr { return c.remote }
