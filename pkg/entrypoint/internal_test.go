package entrypoint

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	godbus "github.com/godbus/dbus/v5"

	"dominicbreuker/remotebus/pkg/config"
)

// fakeBus records what the entrypoints do with a bus connection.
type fakeBus struct {
	mu sync.Mutex

	openErr  error
	callErr  error
	body     []interface{}
	names    []string
	lastErr  error
	open     bool
	shutdown bool
	closed   int
	calls    []string
}

func (f *fakeBus) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeBus) Name() string { return "fake" }

func (f *fakeBus) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeBus) LastError() error { return f.lastErr }

func (f *fakeBus) OpenWait(ctx context.Context, host string, port int, network string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	return nil
}

func (f *fakeBus) CloseWait(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		f.closed++
	}
	f.open = false
	return nil
}

func (f *fakeBus) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
}

func (f *fakeBus) Call(dest string, path godbus.ObjectPath, method string, args ...interface{}) ([]interface{}, error) {
	f.record("call " + dest + " " + string(path) + " " + method)
	return f.body, f.callErr
}

func (f *fakeBus) Emit(path godbus.ObjectPath, name string, values ...interface{}) error {
	f.record("emit " + string(path) + " " + name)
	return nil
}

func (f *fakeBus) ListNames() ([]string, error) { return f.names, nil }

func (f *fakeBus) Introspect(dest string, path godbus.ObjectPath) (string, error) {
	return "<node></node>", nil
}

func (f *fakeBus) RequestName(name string) (bool, error) {
	f.record("request " + name)
	return true, nil
}

func (f *fakeBus) ReleaseName(name string) (bool, error) {
	f.record("release " + name)
	return true, nil
}

func newFakeBusFactory(bus *fakeBus, err error) busFactory {
	return func(*config.Shared, *config.Tunnel) (busInterface, error) {
		if err != nil {
			return nil, err
		}
		return bus, nil
	}
}

// scriptedStdio feeds a fixed script and captures everything written.
type scriptedStdio struct {
	io.Reader
	mu  sync.Mutex
	out strings.Builder
}

func newScriptedStdio(lines ...string) *scriptedStdio {
	return &scriptedStdio{Reader: strings.NewReader(strings.Join(lines, "\n") + "\n")}
}

func (s *scriptedStdio) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *scriptedStdio) Close() error { return nil }

func (s *scriptedStdio) output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.String()
}

var errFake = errors.New("fake failure")

func testShared() *config.Shared {
	return &config.Shared{Protocol: config.ProtoTCP, Host: "127.0.0.1", Port: 55556}
}
