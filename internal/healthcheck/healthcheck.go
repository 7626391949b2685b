package healthcheck

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/angeloszaimis/conn-dispatcher/internal/metrics"
	"github.com/angeloszaimis/conn-dispatcher/internal/upstream"
)

const probeTimeout = 5 * time.Second

// HealthCheck probes up once immediately and then every interval until ctx
// is cancelled. A probe succeeds when a TCP connection can be opened.
// collector may be nil.
func HealthCheck(
	ctx context.Context,
	up *upstream.Upstream,
	interval time.Duration,
	logger *slog.Logger,
	collector *metrics.Collector,
) {
	dialer := &net.Dialer{Timeout: probeTimeout}

	check := func() {
		conn, err := dialer.DialContext(ctx, "tcp4", up.Address())
		healthy := err == nil
		if healthy {
			conn.Close()
		}

		if !up.SetHealthy(healthy) {
			return
		}

		if collector != nil {
			collector.Emit(metrics.MetricEvent{
				Type:    metrics.EventUpstreamHealthChanged,
				Healthy: healthy,
			})
		}

		if healthy {
			logger.Info("Upstream is back up",
				slog.String("upstream", up.Address()))
		} else {
			logger.Warn("Upstream is down",
				slog.String("upstream", up.Address()),
				slog.Any("err", err))
		}
	}

	check()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Health check stopped",
				slog.String("upstream", up.Address()))
			return

		case <-ticker.C:
			check()
		}
	}
}
