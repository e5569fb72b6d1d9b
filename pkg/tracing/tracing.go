package tracing

import (
	"fmt"

	"github.com/opentracing/opentracing-go"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
	"go.uber.org/zap"
)

type Config struct {
	Service string
	Host    string // пусто — трассировка выключена, отдаём NoopTracer
	Port    int
}

// InitTracer поднимает jaeger-репортер и ставит его глобальным трейсером.
func InitTracer(conf Config, log *zap.Logger) (opentracing.Tracer, func(), error) {
	if conf.Host == "" {
		return opentracing.NoopTracer{}, func() {}, nil
	}
	service := conf.Service
	if service == "" {
		service = "alphabot"
	}

	cfg := &jCfg.Configuration{
		ServiceName: service,
		Sampler: &jCfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jCfg.ReporterConfig{
			LogSpans:           false,
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	jMetricsFactory := metrics.NullFactory
	tracer, closer, err := cfg.NewTracer(
		jCfg.Metrics(jMetricsFactory),
	)
	if err != nil {
		return nil, nil, err
	}

	opentracing.SetGlobalTracer(tracer)
	log.Info("jaeger tracer started", zap.String("agent", cfg.Reporter.LocalAgentHostPort))
	return tracer, func() {
		if err := closer.Close(); err != nil {
			log.Error("Error closing Jaeger tracer", zap.Error(err))
		}
	}, nil
}
