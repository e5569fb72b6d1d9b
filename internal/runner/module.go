package runner

import (
	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"alpha_bot/internal/modules/config"
	"alpha_bot/internal/modules/health/service"
	"alpha_bot/internal/notify"
	"alpha_bot/internal/stats"
	pgstore "alpha_bot/internal/storage/postgres"
)

func NewPipeline(
	cfg *config.Config,
	log *zap.Logger,
	n notify.Notifier,
	store *pgstore.Store,
	metrics *service.Metrics,
	tracer opentracing.Tracer,
) *Pipeline {
	var sinks []stats.Sink
	if store != nil {
		sinks = append(sinks, store)
	}
	return &Pipeline{
		Config:   cfg,
		Log:      log,
		Notifier: n,
		Sinks:    sinks,
		Observer: metrics,
		Tracer:   tracer,
	}
}

// NewAccountManager связывает супервизор с /healthz и /readyz.
func NewAccountManager(p *Pipeline, log *zap.Logger, state *service.State, opts ...Option) *Manager {
	opts = append(opts, WithOnReady(func() { state.SetReady(true) }))
	m := NewManager(p.Build, log, opts...)
	state.SetStatusSource(m.Status)
	return m
}

func Module(opts ...Option) fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewPipeline, // *Pipeline
			func(p *Pipeline, log *zap.Logger, state *service.State) *Manager {
				return NewAccountManager(p, log, state, opts...)
			},
		),
	)
}
