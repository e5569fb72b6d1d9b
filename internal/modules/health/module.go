package health

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"alpha_bot/internal/modules/config"
	"alpha_bot/internal/modules/health/service"
)

type Config struct {
	Addr string // например ":8080"; пусто — сервер не поднимаем
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: cfg.HTTP.Addr}
}

func NewMux(state *service.State, metrics *service.Metrics) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: все аккаунты запущены
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"ready":     state.Ready(),
			"uptimeSec": int64(state.Uptime().Seconds()),
			"accounts":  state.Accounts(),
		}
		body, err := sonic.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, log *zap.Logger) {
	if cfg.Addr == "" {
		log.Info("health server disabled")
		return
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			log.Info("health server started", zap.String("addr", ln.Addr().String()))
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			service.NewMetrics,
			NewConfig,
			NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
