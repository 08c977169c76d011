package dbus

import (
	"fmt"

	godbus "github.com/godbus/dbus/v5"

	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/remote"
	"dominicbreuker/remotebus/pkg/tunnel"
)

const busInterface = "org.freedesktop.DBus"

// Conn is a remote D-Bus connection. Every method that may wait for the
// remote bus runs as one bounded operation of the underlying connection and
// returns remote.ErrNotOpen while no client is bound.
type Conn struct {
	*remote.Connection
}

// New creates an idle connection. binder may be nil for the godbus defaults.
func New(cfg *config.Tunnel, binder *Binder, observer remote.Observer, opts tunnel.Options) *Conn {
	if binder == nil {
		binder = &Binder{}
	}
	return &Conn{Connection: remote.New(cfg, binder, observer, opts)}
}

// Bus runs fn with the bound godbus connection as one bounded operation.
func (c *Conn) Bus(fn func(conn *godbus.Conn) error) error {
	return c.Do(func(cl remote.Client) error {
		return fn(cl.(*client).conn)
	})
}

// Send queues msg. Replies to method calls are not awaited.
func (c *Conn) Send(msg *godbus.Message) error {
	return c.Bus(func(conn *godbus.Conn) error {
		return conn.Send(msg, make(chan *godbus.Call, 1)).Err
	})
}

// Call invokes method (interface.member) on dest at path and returns the reply body.
func (c *Conn) Call(dest string, path godbus.ObjectPath, method string, args ...interface{}) ([]interface{}, error) {
	var body []interface{}
	err := c.Bus(func(conn *godbus.Conn) error {
		call := conn.Object(dest, path).Call(method, 0, args...)
		if call.Err != nil {
			return call.Err
		}
		body = call.Body
		return nil
	})
	return body, err
}

// Emit sends a signal.
func (c *Conn) Emit(path godbus.ObjectPath, name string, values ...interface{}) error {
	return c.Bus(func(conn *godbus.Conn) error {
		return conn.Emit(path, name, values...)
	})
}

// Export registers the exported methods of v as iface at path.
func (c *Conn) Export(v interface{}, path godbus.ObjectPath, iface string) error {
	return c.Bus(func(conn *godbus.Conn) error {
		return conn.Export(v, path, iface)
	})
}

// ExportMethodTable registers methods as iface at path.
func (c *Conn) ExportMethodTable(methods map[string]interface{}, path godbus.ObjectPath, iface string) error {
	return c.Bus(func(conn *godbus.Conn) error {
		return conn.ExportMethodTable(methods, path, iface)
	})
}

// Unexport removes iface at path.
func (c *Conn) Unexport(path godbus.ObjectPath, iface string) error {
	return c.Bus(func(conn *godbus.Conn) error {
		return conn.Export(nil, path, iface)
	})
}

// RequestName asks the bus for a well-known name and reports whether this
// connection owns it afterwards.
func (c *Conn) RequestName(name string) (bool, error) {
	var owned bool
	err := c.Bus(func(conn *godbus.Conn) error {
		reply, err := conn.RequestName(name, godbus.NameFlagDoNotQueue)
		if err != nil {
			return err
		}
		owned = reply == godbus.RequestNameReplyPrimaryOwner || reply == godbus.RequestNameReplyAlreadyOwner
		return nil
	})
	return owned, err
}

// ReleaseName gives a well-known name back and reports whether it was released.
func (c *Conn) ReleaseName(name string) (bool, error) {
	var released bool
	err := c.Bus(func(conn *godbus.Conn) error {
		reply, err := conn.ReleaseName(name)
		if err != nil {
			return err
		}
		released = reply == godbus.ReleaseNameReplyReleased
		return nil
	})
	return released, err
}

// Names returns the names owned by this connection, unique name first.
func (c *Conn) Names() ([]string, error) {
	var names []string
	err := c.Bus(func(conn *godbus.Conn) error {
		names = conn.Names()
		return nil
	})
	return names, err
}

// ListNames returns all names known to the bus.
func (c *Conn) ListNames() ([]string, error) {
	var names []string
	err := c.Bus(func(conn *godbus.Conn) error {
		return conn.BusObject().Call(busInterface+".ListNames", 0).Store(&names)
	})
	return names, err
}

// Introspect returns the introspection XML of dest at path.
func (c *Conn) Introspect(dest string, path godbus.ObjectPath) (string, error) {
	var xml string
	err := c.Bus(func(conn *godbus.Conn) error {
		return conn.Object(dest, path).Call("org.freedesktop.DBus.Introspectable.Introspect", 0).Store(&xml)
	})
	return xml, err
}

// Object returns a proxy for dest at path. Calls made through the proxy
// later are not bounded; use Call for that.
func (c *Conn) Object(dest string, path godbus.ObjectPath) (godbus.BusObject, error) {
	var obj godbus.BusObject
	err := c.Bus(func(conn *godbus.Conn) error {
		if !path.IsValid() {
			return fmt.Errorf("invalid object path %q", path)
		}
		obj = conn.Object(dest, path)
		return nil
	})
	return obj, err
}
