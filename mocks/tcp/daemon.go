package tcp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"dominicbreuker/remotebus/pkg/config"
)

// Daemon is a line-oriented stand-in for a remote bus daemon. Each line is
// answered with prefix+line. "sleep <duration>" stalls before answering,
// which lets tests simulate an unresponsive remote.
type Daemon struct {
	ln     net.Listener
	prefix string

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewDaemon listens on addr with listen and serves until Close.
func NewDaemon(listen config.TCPListenerFunc, network, addr, prefix string) (*Daemon, error) {
	if listen == nil {
		return nil, fmt.Errorf("listener func is nil")
	}
	ln, err := listen(network, addr)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		ln:     ln,
		prefix: prefix,
		conns:  make(map[net.Conn]struct{}),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.serve()
	return d, nil
}

// Addr is the bound address.
func (d *Daemon) Addr() net.Addr {
	return d.ln.Addr()
}

// Close stops the daemon and drops every client, like a daemon restart.
func (d *Daemon) Close() error {
	var err error
	d.once.Do(func() {
		close(d.done)
		err = d.ln.Close()

		d.mu.Lock()
		for c := range d.conns {
			c.Close()
		}
		d.mu.Unlock()

		d.wg.Wait()
	})
	return err
}

func (d *Daemon) serve() {
	defer d.wg.Done()
	for {
		c, err := d.ln.Accept()
		if err != nil {
			select {
			case <-d.done:
				return
			case <-time.After(20 * time.Millisecond):
				continue
			}
		}

		d.mu.Lock()
		d.conns[c] = struct{}{}
		d.mu.Unlock()

		d.wg.Add(1)
		go d.answer(c)
	}
}

func (d *Daemon) answer(c net.Conn) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.conns, c)
		d.mu.Unlock()
		c.Close()
	}()

	sc := bufio.NewScanner(c)
	for sc.Scan() {
		line := sc.Text()
		if rest, ok := strings.CutPrefix(line, "sleep "); ok {
			if wait, err := time.ParseDuration(rest); err == nil {
				select {
				case <-time.After(wait):
				case <-d.done:
					return
				}
			}
		}
		if _, err := fmt.Fprintf(c, "%s%s\n", d.prefix, line); err != nil {
			return
		}
	}
}

// Client talks to a Daemon one line at a time.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
	mu   sync.Mutex
}

// NewClient dials addr with dial.
func NewClient(ctx context.Context, dial config.TCPDialerFunc, network, addr string) (*Client, error) {
	if dial == nil {
		return nil, fmt.Errorf("dial func is nil")
	}
	conn, err := dial(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// WriteLine sends line terminated by a newline.
func (c *Client) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.conn, strings.TrimSuffix(line, "\n"))
	return err
}

// ReadLine returns the next answer without its newline.
func (c *Client) ReadLine() (string, error) {
	s, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
