// Package call implements the call command, which performs one method call
// on a remote bus and prints the reply.
package call

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"dominicbreuker/remotebus/cmd/shared"
	"dominicbreuker/remotebus/pkg/dbus"
	"dominicbreuker/remotebus/pkg/entrypoint"
)

// GetCommand returns the CLI command for a single method call.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "call",
		Usage:       "Call a method on a remote bus",
		Description: shared.GetBaseDescription() + "\nArguments take an optional type prefix such as u:42 or o:/org/example.",
		ArgsUsage:   "transport destination path interface.method [args...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() < 4 {
				return fmt.Errorf("must provide at least four arguments, got %d (%s)", args.Len(), strings.Join(args.Slice(), ", "))
			}

			cfg, err := shared.BuildShared(cmd, args.Get(0))
			if err != nil {
				return err
			}
			if cfg.Host == "" {
				return fmt.Errorf("parsing transport: %s: specify a host", args.Get(0))
			}
			tCfg, err := shared.BuildTunnel(cmd, cfg)
			if err != nil {
				return err
			}
			if err := shared.ValidateConfigs(cfg.Logger, cfg, tCfg); err != nil {
				return err
			}

			values, err := dbus.ParseArgs(args.Slice()[4:])
			if err != nil {
				return err
			}
			req := entrypoint.CallRequest{
				Dest:   args.Get(1),
				Path:   args.Get(2),
				Method: args.Get(3),
				Args:   values,
			}

			return entrypoint.Call(ctx, cfg, tCfg, req, os.Stdout)
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetTunnelFlags()...)

	return flags
}
