// Package gateway implements the gateway command, which runs on the remote
// side and bridges ws, udp or tcp tunnel links to the D-Bus daemon.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"dominicbreuker/remotebus/cmd/shared"
	"dominicbreuker/remotebus/pkg/entrypoint"
)

// GetCommand returns the CLI command for the gateway.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Bridge tunnel links to a local D-Bus daemon",
		Description: strings.Join([]string{
			"Specify the listening transport like this: ws://0.0.0.0:8080 (supports tcp|ws|udp)",
			"You can omit the host to bind to all interfaces.",
		}, "\n"),
		ArgsUsage: "transport",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() != 1 {
				return fmt.Errorf("must provide exactly one argument, got %d (%s)", args.Len(), strings.Join(args.Slice(), ", "))
			}

			cfg, err := shared.BuildShared(cmd, args.Get(0))
			if err != nil {
				return err
			}
			// the listen address may omit the host, Shared.Validate requires one
			if cfg.Host == "" {
				cfg.Host = "0.0.0.0"
			}
			gCfg, err := shared.BuildGateway(cmd)
			if err != nil {
				return err
			}
			if err := shared.ValidateConfigs(cfg.Logger, cfg, gCfg); err != nil {
				return err
			}

			return entrypoint.Gateway(ctx, cfg, gCfg)
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetGatewayFlags()...)

	return flags
}
