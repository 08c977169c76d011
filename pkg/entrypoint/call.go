// Package entrypoint runs the remotebus commands once the CLI has parsed
// and validated their configuration.
package entrypoint

import (
	"context"
	"fmt"
	"io"

	godbus "github.com/godbus/dbus/v5"

	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/dbus"
)

// CallRequest names one method call on the remote bus.
type CallRequest struct {
	Dest   string
	Path   string
	Method string // interface.member
	Args   []interface{}
}

// Call connects to the remote bus, performs req, prints the reply values
// to out one per line and disconnects.
func Call(ctx context.Context, cfg *config.Shared, tCfg *config.Tunnel, req CallRequest, out io.Writer) error {
	return withMetrics(ctx, cfg, func(ctx context.Context) error {
		return call(ctx, cfg, tCfg, req, out, realBusFactory())
	})
}

func call(
	ctx context.Context,
	cfg *config.Shared,
	tCfg *config.Tunnel,
	req CallRequest,
	out io.Writer,
	newBus busFactory,
) error {
	bus, err := newBus(cfg, tCfg)
	if err != nil {
		return fmt.Errorf("creating connection: %w", err)
	}
	defer bus.Shutdown()

	if err := openBus(ctx, cfg, bus); err != nil {
		return err
	}

	body, callErr := bus.Call(req.Dest, godbus.ObjectPath(req.Path), req.Method, req.Args...)
	if callErr == nil {
		for _, v := range body {
			fmt.Fprintln(out, dbus.FormatValue(v))
		}
	}

	if err := bus.CloseWait(ctx); err != nil {
		cfg.Logger.VerboseMsg("Disconnecting: %s", err)
	}

	if callErr != nil {
		return fmt.Errorf("calling %s on %s: %w", req.Method, req.Dest, callErr)
	}
	return nil
}
