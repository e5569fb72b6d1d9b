package telegram

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"alpha_bot/internal/modules/config"
	"alpha_bot/internal/notify"
	"alpha_bot/internal/runner"
)

// NewNotifier: Telegram, если заданы токен и чат, иначе всё уходит в лог.
// Второй результат nil, когда Telegram выключен.
func NewNotifier(cfg *config.Config, log *zap.Logger) (notify.Notifier, *notify.Telegram, error) {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		log.Info("telegram disabled, notifications go to log")
		return notify.NewLog(log), nil, nil
	}
	t, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
	if err != nil {
		return nil, nil, err
	}
	return t, t, nil
}

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			NewNotifier, // notify.Notifier, *notify.Telegram
		),
		// /status отвечает снимком супервизора
		fx.Invoke(
			func(lc fx.Lifecycle, ctx context.Context, t *notify.Telegram, m *runner.Manager) {
				if t == nil {
					return
				}
				t.WithStatus(m.Status)
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						return t.Start(ctx)
					},
					OnStop: func(context.Context) error {
						t.Stop()
						return nil
					},
				})
			},
		),
	)
}
