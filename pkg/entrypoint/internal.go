package entrypoint

import (
	"context"
	"fmt"

	godbus "github.com/godbus/dbus/v5"

	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/dbus"
	"dominicbreuker/remotebus/pkg/gateway"
	"dominicbreuker/remotebus/pkg/log"
	"dominicbreuker/remotebus/pkg/remote"
	"dominicbreuker/remotebus/pkg/tunnel"
)

// busInterface is the part of a remote D-Bus connection the entrypoints drive.
type busInterface interface {
	Name() string
	IsOpen() bool
	LastError() error
	OpenWait(ctx context.Context, host string, port int, network string) error
	CloseWait(ctx context.Context) error
	Shutdown()

	Call(dest string, path godbus.ObjectPath, method string, args ...interface{}) ([]interface{}, error)
	Emit(path godbus.ObjectPath, name string, values ...interface{}) error
	ListNames() ([]string, error)
	Introspect(dest string, path godbus.ObjectPath) (string, error)
	RequestName(name string) (bool, error)
	ReleaseName(name string) (bool, error)
}

// busFactory is a function type for creating remote bus connections.
type busFactory func(cfg *config.Shared, tCfg *config.Tunnel) (busInterface, error)

// realBusFactory returns the actual bus factory used in production.
func realBusFactory() busFactory {
	return func(cfg *config.Shared, tCfg *config.Tunnel) (busInterface, error) {
		auth, err := dbus.AuthMethods(tCfg.Auth)
		if err != nil {
			return nil, err
		}

		opts := tunnel.Options{
			Protocol: cfg.Protocol,
			Logger:   cfg.Logger,
			Deps:     cfg.Deps,
		}
		return dbus.New(tCfg, &dbus.Binder{Auth: auth}, logObserver(cfg.Logger), opts), nil
	}
}

// gatewayServer is a function type for running the gateway.
type gatewayServer func(ctx context.Context, cfg *config.Shared, gCfg *config.Gateway) error

// realGatewayServer returns the actual gateway used in production.
func realGatewayServer() gatewayServer {
	return gateway.Serve
}

// logObserver reports connection events on the console.
func logObserver(logger *log.Logger) remote.Observer {
	return remote.ObserverFuncs{
		OnOpened: func(success bool) {
			if success {
				logger.VerboseMsg("Remote bus connected")
			} else {
				logger.VerboseMsg("Remote bus connection failed")
			}
		},
		OnError: func(msg string) {
			logger.ErrorMsg("%s", msg)
		},
		OnClosed: func() {
			logger.VerboseMsg("Remote bus disconnected")
		},
	}
}

func openBus(ctx context.Context, cfg *config.Shared, bus busInterface) error {
	if err := bus.OpenWait(ctx, cfg.Host, cfg.Port, cfg.Network()); err != nil {
		return fmt.Errorf("connecting to %s://%s:%d: %w", cfg.Protocol, cfg.Host, cfg.Port, err)
	}
	return nil
}
