package entrypoint

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	mockbus "dominicbreuker/remotebus/mocks/dbus"
	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/gateway"
)

func startBus(t *testing.T) *mockbus.Bus {
	t.Helper()
	bus, err := mockbus.NewBus(config.GetTCPListenerFunc(nil), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewBus() error = %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus
}

func testTunnel(name string) *config.Tunnel {
	return &config.Tunnel{
		Name:     name,
		Auth:     "anonymous",
		Timeouts: config.Timeouts{Connect: 2 * time.Second, Operation: 2 * time.Second},
	}
}

func TestCall_DirectTCP(t *testing.T) {
	t.Parallel()

	bus := startBus(t)
	cfg := &config.Shared{Protocol: config.ProtoTCP, Host: "127.0.0.1", Port: bus.Port()}
	req := CallRequest{Dest: "org.example", Path: "/org/example", Method: "org.example.Echo", Args: []interface{}{"hi"}}

	var out bytes.Buffer
	if err := Call(context.Background(), cfg, testTunnel("call-tcp"), req, &out); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if strings.TrimSpace(out.String()) != `"hi"` {
		t.Errorf("output = %q, want the echoed argument", out.String())
	}
}

func TestCall_ThroughWebSocketGateway(t *testing.T) {
	t.Parallel()

	bus := startBus(t)

	bound := make(chan string, 1)
	gwCfg := &config.Shared{
		Protocol: config.ProtoWS,
		Host:     "127.0.0.1",
		Port:     1,
		Deps: &config.Dependencies{
			TCPListener: func(network, addr string) (net.Listener, error) {
				ln, err := net.Listen(network, "127.0.0.1:0")
				if err == nil {
					bound <- ln.Addr().String()
				}
				return ln, err
			},
		},
	}
	gCfg := &config.Gateway{TargetNetwork: "tcp", TargetAddress: bus.Addr().String(), MaxLinks: 2}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gateway.Serve(ctx, gwCfg, gCfg)

	var addr string
	select {
	case addr = <-bound:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not start")
	}
	_, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	cfg := &config.Shared{Protocol: config.ProtoWS, Host: "127.0.0.1", Port: port}
	req := CallRequest{Dest: "org.freedesktop.DBus", Path: "/org/freedesktop/DBus", Method: "org.freedesktop.DBus.ListNames"}

	var out bytes.Buffer
	if err := Call(context.Background(), cfg, testTunnel("call-ws"), req, &out); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !strings.Contains(out.String(), ":1.") {
		t.Errorf("output = %q, want the unique name of the client", out.String())
	}
}

func TestShell_AgainstBus(t *testing.T) {
	t.Parallel()

	bus := startBus(t)
	cfg := &config.Shared{
		Protocol: config.ProtoTCP,
		Host:     "127.0.0.1",
		Port:     bus.Port(),
	}
	stdio := newScriptedStdio(
		"request org.example.Shell",
		"call org.example / org.example.Fail",
		"status",
		"quit",
	)

	if err := shell(context.Background(), cfg, testTunnel("shell"), realBusFactory(), stdio, false); err != nil {
		t.Fatalf("shell() error = %v", err)
	}

	out := stdio.output()
	for _, want := range []string{"request org.example.Shell: true", "error: ", "shell: open", "last error: "} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}
