// Package shell implements the shell command, an interactive session on a
// remote bus.
package shell

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"dominicbreuker/remotebus/cmd/shared"
	"dominicbreuker/remotebus/pkg/entrypoint"
)

// GetCommand returns the CLI command for an interactive session.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "shell",
		Usage:       "Open an interactive session on a remote bus",
		Description: shared.GetBaseDescription() + "\nType help in the session for the list of commands.",
		ArgsUsage:   "transport",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() != 1 {
				return fmt.Errorf("must provide exactly one argument, got %d (%s)", args.Len(), strings.Join(args.Slice(), ", "))
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

			return entrypoint.Shell(ctx, cfg, tCfg)
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
