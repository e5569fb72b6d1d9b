package runner

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"alpha_bot/internal/browser"
	"alpha_bot/internal/guard"
	"alpha_bot/internal/modules/config"
	"alpha_bot/internal/notify"
	"alpha_bot/internal/otp"
	"alpha_bot/internal/stats"
	"alpha_bot/internal/trader"
	"alpha_bot/pkg/logger"
)

const (
	connectAttempts = 3
	connectDelay    = 2 * time.Second
)

// Pipeline собирает изолированный набор на аккаунт:
// свой лог, свой браузер, свой guard, своя статистика, свой контроллер.
// Общие только нотифайер, приёмники статистики и метрики.
type Pipeline struct {
	Config   *config.Config
	Log      *zap.Logger
	Notifier notify.Notifier
	Sinks    []stats.Sink
	Observer Observer
	Tracer   opentracing.Tracer
}

func (p *Pipeline) Build(ctx context.Context, name string) (Job, error) {
	acc, ok := p.Config.Account(name)
	if !ok {
		return nil, errors.Errorf("unknown account %q", name)
	}

	log, err := logger.New(logger.Options{
		Account: name,
		Dir:     p.Config.Log.Dir,
		Level:   p.Config.Log.Level,
	})
	if err != nil {
		return nil, errors.Wrap(err, "account logger")
	}

	cdp := browser.NewCDP(browser.Options{
		Host:            acc.Host,
		Port:            acc.Port,
		TargetURL:       acc.TargetURL,
		PageTimeout:     acc.PageTimeout,
		ConnectAttempts: connectAttempts,
		ConnectDelay:    connectDelay,
		ScreenshotDir:   filepath.Join(p.Config.Log.Dir, "screenshots", strings.TrimSuffix(logger.FileName(name), ".log")),
		Selectors:       p.Config.Selectors,
	}, log)
	if err := cdp.Connect(ctx); err != nil {
		_ = log.Sync()
		return nil, errors.Wrapf(err, "connect browser %s:%d", acc.Host, acc.Port)
	}

	observer := p.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	g := guard.New(cdp, otp.NewProvider(acc.Secret), log,
		guard.WithOnBlock(func() { observer.VerificationBlock(name) }),
	)

	rec := stats.NewRecorder(name, nil)
	balances, err := stats.NewBalanceLog(p.Config.StatsDir, name, p.Sinks...)
	if err != nil {
		_ = cdp.Close()
		_ = log.Sync()
		return nil, err
	}

	note := notify.Prefixed{Next: p.Notifier, Prefix: name}
	ctrl, err := trader.New(acc.Cycle, trader.Deps{
		Driver:    guard.Wrap(cdp, g),
		Stats:     rec,
		Notifier:  note,
		Log:       log,
		Tracer:    p.Tracer,
		Selectors: p.Config.Selectors,
		TargetURL: acc.TargetURL,
	})
	if err != nil {
		_ = cdp.Close()
		_ = log.Sync()
		return nil, err
	}

	r := New(name, acc.Cycle, Deps{
		Trader:   ctrl,
		Stats:    rec,
		Balances: balances,
		Sinks:    p.Sinks,
		StatsDir: p.Config.StatsDir,
		Notifier: note,
		Observer: observer,
		Log:      log,
	})
	r.OnClose(func() error {
		_ = log.Sync() // stdout не синкается, это не ошибка
		return nil
	})
	r.OnClose(cdp.Close)

	log.Info("[ACCOUNT] готов к работе",
		zap.String("browser", acc.Host),
		zap.Int("port", acc.Port),
		zap.Bool("otp", acc.Secret != ""),
	)
	return r, nil
}
