// Package dbus provides a minimal D-Bus daemon for tests. It speaks the
// ANONYMOUS authentication handshake and answers a handful of bus methods;
// every other method call is echoed back.
package dbus

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	godbus "github.com/godbus/dbus/v5"

	"dominicbreuker/remotebus/pkg/config"
)

const guid = "0123456789abcdef0123456789abcdef"

// Bus is a fake message bus. Calls to a method named "Stall" are never
// answered and calls to "Fail" get an error reply.
type Bus struct {
	listener net.Listener

	mu     sync.Mutex
	calls  []string
	names  map[string]bool
	nextID int
	conns  map[net.Conn]struct{}

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBus listens with the given listener function and starts serving.
func NewBus(listener config.TCPListenerFunc, network, addr string) (*Bus, error) {
	ln, err := listener(network, addr)
	if err != nil {
		return nil, err
	}

	b := &Bus{
		listener: ln,
		names:    map[string]bool{"org.freedesktop.DBus": true},
		conns:    map[net.Conn]struct{}{},
		closed:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.acceptLoop()
	return b, nil
}

// Addr returns the listening address.
func (b *Bus) Addr() net.Addr {
	return b.listener.Addr()
}

// Port returns the listening TCP port.
func (b *Bus) Port() int {
	if a, ok := b.listener.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// Calls returns "interface.member" for every method call received so far.
func (b *Bus) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Close stops the bus and drops all clients.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		err = b.listener.Close()
		b.mu.Lock()
		for c := range b.conns {
			c.Close()
		}
		b.mu.Unlock()
		b.wg.Wait()
	})
	return err
}

func (b *Bus) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns[conn] = struct{}{}
		b.mu.Unlock()

		b.wg.Add(1)
		go b.serve(conn)
	}
}

func (b *Bus) serve(c net.Conn) {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
		c.Close()
	}()

	r := bufio.NewReader(c)
	if err := handshake(r, c); err != nil {
		return
	}

	for {
		msg, err := godbus.DecodeMessage(r)
		if err != nil {
			return
		}
		if msg.Type != godbus.TypeMethodCall {
			continue
		}

		iface, _ := msg.Headers[godbus.FieldInterface].Value().(string)
		member, _ := msg.Headers[godbus.FieldMember].Value().(string)
		b.mu.Lock()
		b.calls = append(b.calls, iface+"."+member)
		b.mu.Unlock()

		if msg.Flags&godbus.FlagNoReplyExpected != 0 {
			continue
		}
		reply := b.answer(msg, iface, member)
		if reply == nil {
			continue
		}
		if err := reply.EncodeTo(c, binary.LittleEndian); err != nil {
			return
		}
	}
}

// handshake runs the server side of the authentication exchange.
func handshake(r *bufio.Reader, w net.Conn) error {
	nul, err := r.ReadByte()
	if err != nil {
		return err
	}
	if nul != 0 {
		return fmt.Errorf("expected NUL byte, got %q", nul)
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		var resp string
		switch {
		case line == "BEGIN":
			return nil
		case line == "AUTH ANONYMOUS" || strings.HasPrefix(line, "AUTH ANONYMOUS "):
			resp = "OK " + guid
		case strings.HasPrefix(line, "AUTH"):
			resp = "REJECTED ANONYMOUS"
		case line == "CANCEL":
			resp = "REJECTED ANONYMOUS"
		default:
			resp = "ERROR"
		}
		if _, err := fmt.Fprintf(w, "%s\r\n", resp); err != nil {
			return err
		}
	}
}

func (b *Bus) answer(msg *godbus.Message, iface, member string) *godbus.Message {
	var body []interface{}

	switch {
	case iface == "org.freedesktop.DBus" && member == "Hello":
		b.mu.Lock()
		b.nextID++
		name := fmt.Sprintf(":1.%d", b.nextID)
		b.names[name] = true
		b.mu.Unlock()
		body = []interface{}{name}
	case iface == "org.freedesktop.DBus" && member == "RequestName":
		name, _ := msg.Body[0].(string)
		b.mu.Lock()
		reply := uint32(godbus.RequestNameReplyPrimaryOwner)
		if b.names[name] {
			reply = uint32(godbus.RequestNameReplyExists)
		}
		b.names[name] = true
		b.mu.Unlock()
		body = []interface{}{reply}
	case iface == "org.freedesktop.DBus" && member == "ReleaseName":
		name, _ := msg.Body[0].(string)
		b.mu.Lock()
		reply := uint32(godbus.ReleaseNameReplyNonExistent)
		if b.names[name] {
			reply = uint32(godbus.ReleaseNameReplyReleased)
			delete(b.names, name)
		}
		b.mu.Unlock()
		body = []interface{}{reply}
	case iface == "org.freedesktop.DBus" && member == "ListNames":
		b.mu.Lock()
		names := make([]string, 0, len(b.names))
		for n := range b.names {
			names = append(names, n)
		}
		b.mu.Unlock()
		sort.Strings(names)
		body = []interface{}{names}
	case iface == "org.freedesktop.DBus.Introspectable" && member == "Introspect":
		body = []interface{}{"<node></node>"}
	case member == "Stall":
		return nil
	case member == "Fail":
		return &godbus.Message{
			Type: godbus.TypeError,
			Headers: map[godbus.HeaderField]godbus.Variant{
				godbus.FieldReplySerial: godbus.MakeVariant(msg.Serial()),
				godbus.FieldErrorName:   godbus.MakeVariant("org.example.Error.Failed"),
				godbus.FieldSignature:   godbus.MakeVariant(godbus.SignatureOf("")),
			},
			Body: []interface{}{"requested failure"},
		}
	default:
		body = msg.Body
	}

	reply := &godbus.Message{
		Type: godbus.TypeMethodReply,
		Headers: map[godbus.HeaderField]godbus.Variant{
			godbus.FieldReplySerial: godbus.MakeVariant(msg.Serial()),
		},
		Body: body,
	}
	if len(body) > 0 {
		reply.Headers[godbus.FieldSignature] = godbus.MakeVariant(godbus.SignatureOf(body...))
	}
	return reply
}
