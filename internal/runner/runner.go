package runner

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"alpha_bot/internal/clock"
	"alpha_bot/internal/models"
	"alpha_bot/internal/notify"
	"alpha_bot/internal/stats"
	"alpha_bot/internal/trader"
)

const (
	cancelSettle     = 3 * time.Second
	liquidateSettle  = 5 * time.Second
	finalSettle      = 5 * time.Second
	balanceSamples   = 5
	firstSampleGap   = time.Second
	sampleGap        = 2 * time.Second
	interruptTimeout = 30 * time.Second
)

// Trader — то, что раннер дёргает у контроллера.
type Trader interface {
	RunCycle(ctx context.Context) (models.CycleOutcome, error)
	Refresh(ctx context.Context, reason string) error
	CancelOrders(ctx context.Context) error
	ResidualHolding(ctx context.Context) (float64, bool, error)
	LiquidateWithRetries(ctx context.Context) (bool, error)
	Balance(ctx context.Context) (float64, bool, error)
}

var _ Trader = (*trader.Controller)(nil)

// Observer получает итог каждого цикла и замеры баланса (метрики).
type Observer interface {
	ObserveCycle(account string, out models.CycleOutcome)
	ObserveBalance(account string, v float64)
	VerificationBlock(account string)
}

type nopObserver struct{}

func (nopObserver) ObserveCycle(string, models.CycleOutcome) {}
func (nopObserver) ObserveBalance(string, float64)           {}
func (nopObserver) VerificationBlock(string)                 {}

type Deps struct {
	Trader   Trader
	Stats    *stats.Recorder
	Balances *stats.BalanceLog // может быть nil
	Sinks    []stats.Sink
	StatsDir string
	Notifier notify.Notifier
	Observer Observer
	Log      *zap.Logger
	Clock    clock.Clock
	Jitter   func(n int64) int64 // [0, n); по умолчанию math/rand
}

// Runner гоняет циклы одного аккаунта до TotalRuns завершённых и подводит итог.
type Runner struct {
	name string
	cfg  models.CycleConfig
	deps Deps
	log  *zap.Logger

	completed atomic.Int64
	closers   []func() error
}

func New(name string, cfg models.CycleConfig, deps Deps) *Runner {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLog(deps.Log)
	}
	if deps.Jitter == nil {
		deps.Jitter = rand.Int64N
	}
	return &Runner{
		name: name,
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.Named("runner"),
	}
}

func (r *Runner) Completed() int { return int(r.completed.Load()) }

// OnClose — что закрыть вместе с раннером (браузер, лог-файл).
func (r *Runner) OnClose(fn func() error) { r.closers = append(r.closers, fn) }

func (r *Runner) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i]())
	}
	return err
}

// Run — основной цикл. nil — план выполнен, context.Canceled — остановлены снаружи,
// прочее — аккаунт упал (потеря соединения).
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("[RUN] старт",
		zap.Int("total_runs", r.cfg.TotalRuns),
		zap.Float64("cost", r.cfg.Cost),
		zap.Int("refresh_interval", r.cfg.RefreshInterval),
	)
	r.deps.Notifier.Sendf("▶️ Старт: %d циклов по %s", r.cfg.TotalRuns, trader.FormatNumber(r.cfg.Cost))

	for iter := 1; r.Completed() < r.cfg.TotalRuns; iter++ {
		if err := ctx.Err(); err != nil {
			return r.interrupt(err)
		}

		if iter > 1 && (iter-1)%r.cfg.RefreshInterval == 0 {
			if err := r.deps.Trader.Refresh(ctx, "periodic"); err != nil {
				return r.abort(ctx, err)
			}
		}

		out, err := r.deps.Trader.RunCycle(ctx)
		r.deps.Observer.ObserveCycle(r.name, out)
		if err != nil {
			return r.abort(ctx, err)
		}
		if out.PreBuyBalance > 0 && !r.deps.Stats.HasStartBalance() {
			r.deps.Stats.SetStartBalance(out.PreBuyBalance)
		}
		if err := r.sampleBalance(ctx); err != nil {
			return r.abort(ctx, err)
		}

		if !out.Completed {
			r.log.Warn("[RUN] цикл не засчитан",
				zap.Int("iteration", iter),
				zap.String("branch", string(out.Branch)),
				zap.String("reason", out.Reason),
			)
			if err := r.deps.Clock.Sleep(ctx, r.cfg.FailBackoff); err != nil {
				return r.interrupt(err)
			}
			continue
		}

		done := r.completed.Add(1)
		r.log.Info("[RUN] цикл засчитан",
			zap.Int64("completed", done),
			zap.Int("total", r.cfg.TotalRuns),
			zap.String("branch", string(out.Branch)),
		)
		if int(done) >= r.cfg.TotalRuns {
			break
		}
		wait := r.interval()
		r.log.Debug("[RUN] пауза между циклами", zap.Duration("wait", wait))
		if err := r.deps.Clock.Sleep(ctx, wait); err != nil {
			return r.interrupt(err)
		}
	}

	return r.finalize(ctx)
}

// interval — случайная пауза в [MinInterval, MaxInterval].
func (r *Runner) interval() time.Duration {
	span := int64(r.cfg.MaxInterval - r.cfg.MinInterval)
	if span <= 0 {
		return r.cfg.MinInterval
	}
	return r.cfg.MinInterval + time.Duration(r.deps.Jitter(span+1))
}

func (r *Runner) sampleBalance(ctx context.Context) error {
	v, ok, err := r.deps.Trader.Balance(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	r.record(ctx, v)
	return nil
}

func (r *Runner) record(ctx context.Context, v float64) {
	r.deps.Observer.ObserveBalance(r.name, v)
	if r.deps.Balances == nil {
		return
	}
	if err := r.deps.Balances.Append(ctx, r.deps.Clock.Now(), v); err != nil {
		r.log.Warn("[RUN] не удалось записать баланс", zap.Error(err))
	}
}

// finalize: дать последней сделке исполниться, снять ордера, продать остаток,
// снять стабильный баланс и сохранить статистику.
func (r *Runner) finalize(ctx context.Context) error {
	r.log.Info("[FINAL] план выполнен, закрываем хвосты", zap.Duration("settle", r.cfg.SettleDelay))

	if err := r.deps.Clock.Sleep(ctx, r.cfg.SettleDelay); err != nil {
		return r.interrupt(err)
	}
	if err := r.deps.Trader.CancelOrders(ctx); err != nil {
		return r.abort(ctx, err)
	}
	if err := r.deps.Clock.Sleep(ctx, cancelSettle); err != nil {
		return r.interrupt(err)
	}

	holding, known, err := r.deps.Trader.ResidualHolding(ctx)
	if err != nil {
		return r.abort(ctx, err)
	}
	// непрочитанный остаток не считаем нулевым
	if holding > 0 || !known {
		r.log.Info("[FINAL] остаток позиции, продаём", zap.Float64("holding", holding), zap.Bool("known", known))
		sold, err := r.deps.Trader.LiquidateWithRetries(ctx)
		if err != nil {
			return r.abort(ctx, err)
		}
		switch {
		case !sold && !known:
			r.log.Error("[FINAL] остаток не прочитан и не продан")
			r.deps.Notifier.Send("⚠️ Остаток не прочитан, проверьте вручную")
		case !sold:
			r.log.Error("[FINAL] остаток не продан", zap.Float64("holding", holding))
			r.deps.Notifier.Sendf("⚠️ Остаток %s не продан, проверьте вручную", trader.FormatNumber(holding))
		}
		if err := r.deps.Clock.Sleep(ctx, liquidateSettle); err != nil {
			return r.interrupt(err)
		}
	}
	if err := r.deps.Clock.Sleep(ctx, finalSettle); err != nil {
		return r.interrupt(err)
	}

	end, ok, err := r.stableBalance(ctx)
	if err != nil {
		return r.abort(ctx, err)
	}
	if ok {
		r.deps.Stats.SetEndBalance(end)
		r.record(ctx, end)
	} else {
		r.log.Warn("[FINAL] конечный баланс не прочитан")
	}

	_ = r.flush(ctx)
	r.log.Info("[FINAL] готово", zap.Int("completed", r.Completed()))
	r.deps.Notifier.Send("✅ Готово\n" + r.deps.Stats.Report())
	return nil
}

// stableBalance — до balanceSamples замеров, первые два совпавших подряд побеждают,
// иначе берём последний прочитанный.
func (r *Runner) stableBalance(ctx context.Context) (float64, bool, error) {
	var (
		last float64
		have bool
	)
	for i := 0; i < balanceSamples; i++ {
		gap := sampleGap
		if i == 0 {
			gap = firstSampleGap
		}
		if err := r.deps.Clock.Sleep(ctx, gap); err != nil {
			return last, have, err
		}
		v, ok, err := r.deps.Trader.Balance(ctx)
		if err != nil {
			return last, have, err
		}
		if !ok {
			continue
		}
		if have && v == last {
			return v, true, nil
		}
		last, have = v, true
	}
	return last, have, nil
}

// interrupt — остановка снаружи: снять баланс на свежем контексте и сохранить что есть.
func (r *Runner) interrupt(cause error) error {
	r.log.Warn("[RUN] остановлено, сохраняем статистику", zap.Error(cause))

	ctx, cancel := context.WithTimeout(context.Background(), interruptTimeout)
	defer cancel()

	if v, ok, err := r.deps.Trader.Balance(ctx); err != nil {
		r.log.Warn("[RUN] баланс при остановке не прочитан", zap.Error(err))
	} else if ok {
		r.deps.Stats.SetEndBalance(v)
		r.record(ctx, v)
	}
	_ = r.flush(ctx)
	r.deps.Notifier.Sendf("⏹ Остановлено: %d/%d циклов", r.Completed(), r.cfg.TotalRuns)
	return cause
}

// abort — ошибка из контроллера. Отмену контекста считаем остановкой, остальное фатально для аккаунта.
func (r *Runner) abort(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return r.interrupt(ctx.Err())
	}
	r.log.Error("[RUN] аккаунт остановлен из-за ошибки", zap.Error(err))
	r.deps.Stats.RecordError(err.Error())

	fctx, cancel := context.WithTimeout(context.Background(), interruptTimeout)
	defer cancel()
	_ = r.flush(fctx)
	r.deps.Notifier.Sendf("❌ Аккаунт остановлен: %v", err)
	return err
}

func (r *Runner) flush(ctx context.Context) error {
	path, err := r.deps.Stats.Flush(ctx, r.deps.StatsDir, r.deps.Sinks...)
	if err != nil {
		r.log.Error("[STATS] сохранение статистики", zap.String("path", path), zap.Error(err))
		return err
	}
	r.log.Info("[STATS] статистика сохранена", zap.String("path", path))
	return nil
}
