package observe

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/consult-voice/internal/config"
)

// Module provides the meter provider, the metric instruments and, when an
// address is configured, the /metrics server.
var Module = fx.Module("observe",
	fx.Provide(
		NewProviderWithLifecycle,
		NewMetricsFromProvider,
	),
	fx.Invoke(registerServer),
)

// NewProviderWithLifecycle creates the provider and shuts it down on stop.
func NewProviderWithLifecycle(lc fx.Lifecycle) (*Provider, error) {
	p, err := NewProvider()
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.Shutdown(ctx)
		},
	})
	return p, nil
}

func NewMetricsFromProvider(p *Provider) (*Metrics, error) {
	return NewMetrics(p)
}

func registerServer(lc fx.Lifecycle, cfg *config.Config, p *Provider, logger *zap.Logger) {
	addr := cfg.Observability.MetricsAddr
	if addr == "" {
		logger.Info("Metrics server disabled")
		return
	}
	srv := NewServer(logger, addr, p.Handler())
	lc.Append(fx.Hook{
		OnStart: srv.Start,
		OnStop:  srv.Stop,
	})
}
