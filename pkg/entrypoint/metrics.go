package entrypoint

import (
	"context"
	"sync"

	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/metrics"
)

// withMetrics runs fn and, if cfg.MetricsAddr is set, serves metrics for
// as long as fn runs.
func withMetrics(parent context.Context, cfg *config.Shared, fn func(ctx context.Context) error) error {
	if cfg.MetricsAddr == "" {
		return fn(parent)
	}

	ctx, cancel := context.WithCancel(parent)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metrics.Serve(ctx, cfg.MetricsAddr, cfg.Logger); err != nil {
			cfg.Logger.ErrorMsg("Metrics server on %s: %s", cfg.MetricsAddr, err)
		}
	}()

	err := fn(ctx)
	cancel()
	wg.Wait()
	return err
}
