package entrypoint

import (
	"context"

	"dominicbreuker/remotebus/pkg/config"
)

// Gateway bridges incoming tunnel links to the daemon until ctx is cancelled.
func Gateway(ctx context.Context, cfg *config.Shared, gCfg *config.Gateway) error {
	return runGateway(ctx, cfg, gCfg, realGatewayServer())
}

func runGateway(ctx context.Context, cfg *config.Shared, gCfg *config.Gateway, serve gatewayServer) error {
	return withMetrics(ctx, cfg, func(ctx context.Context) error {
		return serve(ctx, cfg, gCfg)
	})
}
