package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"alpha_bot/internal/browser"
	"alpha_bot/internal/clock"
	"alpha_bot/internal/models"
	"alpha_bot/internal/notify"
	"alpha_bot/internal/stats"
)

// ErrPriceUnavailable — цену не удалось прочитать за PriceMaxRetries попыток.
var ErrPriceUnavailable = errors.New("price unavailable")

type Deps struct {
	Driver    browser.UIDriver // уже обёрнут guard.Wrap
	Stats     *stats.Recorder
	Notifier  notify.Notifier
	Log       *zap.Logger
	Clock     clock.Clock
	Tracer    opentracing.Tracer
	Selectors browser.Selectors
	TargetURL string
}

// Controller — машина состояний одного цикла покупка+обратная продажа.
// Один контроллер на аккаунт, вызовы строго последовательные.
type Controller struct {
	cfg       models.CycleConfig
	drv       browser.UIDriver
	stats     *stats.Recorder
	notifier  notify.Notifier
	log       *zap.Logger
	clock     clock.Clock
	tracer    opentracing.Tracer
	sel       browser.Selectors
	targetURL string

	insufficient int     // подряд циклов с нехваткой баланса
	lastPrice    float64 // последняя прочитанная цена, запасная для ликвидации
}

func New(cfg models.CycleConfig, deps Deps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Driver == nil {
		return nil, errors.Wrap(models.ErrInvalidConfig, "driver is required")
	}
	if deps.Stats == nil {
		return nil, errors.Wrap(models.ErrInvalidConfig, "stats recorder is required")
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Tracer == nil {
		deps.Tracer = opentracing.GlobalTracer()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLog(deps.Log)
	}
	return &Controller{
		cfg:       cfg,
		drv:       deps.Driver,
		stats:     deps.Stats,
		notifier:  deps.Notifier,
		log:       deps.Log.Named("trader"),
		clock:     deps.Clock,
		tracer:    deps.Tracer,
		sel:       deps.Selectors,
		targetURL: deps.TargetURL,
	}, nil
}

func (c *Controller) Config() models.CycleConfig { return c.cfg }

func (c *Controller) span(ctx context.Context, name string) (opentracing.Span, context.Context) {
	return opentracing.StartSpanFromContextWithTracer(ctx, c.tracer, name)
}

// buyRecord — итог попытки для журнала: ровно одна запись на цикл.
type buyRecord struct {
	price   float64
	amount  float64
	success bool
	errMsg  string
}

// RunCycle — один цикл. Всегда возвращает ровно один исход и пишет ровно одну
// попытку покупки в статистику. Ошибка — только потеря соединения или отмена.
func (c *Controller) RunCycle(ctx context.Context) (models.CycleOutcome, error) {
	span, ctx := c.span(ctx, "cycle")
	defer span.Finish()

	start := c.clock.Now()
	out, rec, err := c.runCycle(ctx)
	if err != nil {
		out.Success = false
		out.Completed = false
		out.Branch = models.BranchFailed
		if out.Reason == "" {
			out.Reason = err.Error()
		}
		if !rec.success && rec.errMsg == "" {
			rec.errMsg = err.Error()
		}
	}
	if !out.Success && out.Reason == "" {
		out.Reason = rec.errMsg
	}

	c.stats.RecordBuy(rec.price, rec.amount, rec.success, float64(c.clock.Now().Sub(start).Milliseconds()), rec.errMsg)

	span.SetTag("branch", string(out.Branch))
	span.SetTag("success", out.Success)
	if out.ManualReview {
		span.SetTag("manual_review", true)
	}
	return out, err
}

func failed(branch models.Branch, reason string, price float64) (models.CycleOutcome, buyRecord) {
	return models.CycleOutcome{Branch: branch, Reason: reason},
		buyRecord{price: price, errMsg: reason}
}

func (c *Controller) runCycle(ctx context.Context) (models.CycleOutcome, buyRecord, error) {
	price, err := c.DiscoverPrice(ctx)
	if err != nil {
		if errors.Is(err, ErrPriceUnavailable) {
			out, rec := failed(models.BranchFailed, "price unavailable", 0)
			return out, rec, nil
		}
		return models.CycleOutcome{}, buyRecord{}, err
	}

	if err := c.drv.ScrollTo(ctx, "", browser.ScrollTop); err != nil {
		return models.CycleOutcome{}, buyRecord{price: price}, err
	}
	if err := c.drv.ScrollTo(ctx, c.sel.GridScroll, browser.ScrollTop); err != nil {
		return models.CycleOutcome{}, buyRecord{price: price}, err
	}

	pre, ok, err := c.readSample(ctx, models.SamplePreBuy)
	if err != nil {
		return models.CycleOutcome{}, buyRecord{price: price}, err
	}
	if !ok {
		c.log.Warn("[BUY] не удалось прочитать баланс")
	} else {
		c.log.Info("[BUY] доступный баланс", zap.Float64("balance", pre.Value))
	}

	if Insufficient(pre.Value, c.cfg.Cost) {
		out, rec, err := c.starvation(ctx, pre.Value, price)
		out.PreBuyBalance = pre.Value
		return out, rec, err
	}
	c.insufficient = 0

	out, rec, err := c.submitBuy(ctx, pre, price)
	out.PreBuyBalance = pre.Value
	return out, rec, err
}

// DiscoverPrice читает цену до первого положительного значения. Пауза между
// попытками PriceRetryDelay; PriceMaxRetries=0 — без ограничения.
func (c *Controller) DiscoverPrice(ctx context.Context) (float64, error) {
	span, ctx := c.span(ctx, "discover_price")
	defer span.Finish()

	for attempt := 1; ; attempt++ {
		if err := c.drv.ScrollTo(ctx, "", browser.ScrollTop); err != nil {
			return 0, err
		}
		if err := c.drv.ScrollTo(ctx, c.sel.GridScroll, browser.ScrollTop); err != nil {
			return 0, err
		}
		if err := c.pause(ctx, time.Second); err != nil {
			return 0, err
		}

		price, ok, err := c.readPrice(ctx)
		if err != nil {
			return 0, err
		}
		if ok {
			c.lastPrice = price
			c.log.Info("[PRICE] цена получена", zap.Float64("price", price), zap.Int("attempt", attempt))
			return price, nil
		}

		if c.cfg.PriceMaxRetries > 0 && attempt >= c.cfg.PriceMaxRetries {
			c.log.Error("[PRICE] цена так и не прочиталась", zap.Int("attempts", attempt))
			return 0, errors.Wrapf(ErrPriceUnavailable, "after %d attempts", attempt)
		}
		if attempt%3 == 1 {
			c.log.Warn("[PRICE] не удалось прочитать цену, повторяем", zap.Int("attempt", attempt))
		}
		if err := c.pause(ctx, c.cfg.PriceRetryDelay); err != nil {
			return 0, err
		}
	}
}

// submitBuy — чекбокс обратного ордера, цена, сумма, обратная цена, кнопка, подтверждение.
func (c *Controller) submitBuy(ctx context.Context, pre models.BalanceSample, price float64) (models.CycleOutcome, buyRecord, error) {
	span, ctx := c.span(ctx, "submit_buy")
	defer span.Finish()

	ok, err := c.setReverse(ctx, true)
	if err != nil {
		return models.CycleOutcome{}, buyRecord{price: price}, err
	}
	if !ok {
		c.log.Warn("[BUY] чекбокс обратного ордера не найден")
		c.screenshot(ctx, "reverse_checkbox")
		if err := c.Refresh(ctx, "reverse checkbox"); err != nil {
			return models.CycleOutcome{}, buyRecord{price: price}, err
		}
		out, rec := failed(models.BranchFailed, "reverse checkbox unavailable", price)
		return out, rec, nil
	}

	buyPrice := price*c.cfg.BuyMarkup + c.cfg.BuyOffset
	reversePrice := buyPrice * c.cfg.SellMarkdown
	span.SetTag("buy_price", buyPrice)

	c.log.Info("[BUY] выставляем ордер",
		zap.String("price", FormatNumber(buyPrice)),
		zap.String("total", FormatNumber(c.cfg.Cost)),
		zap.String("reverse_price", FormatNumber(reversePrice)))

	for _, f := range []struct {
		name string
		sel  string
		v    float64
	}{
		{"limit price", c.sel.LimitPrice, buyPrice},
		{"limit total", c.sel.LimitTotal, c.cfg.Cost},
		{"reverse price", c.sel.ReversePrice, reversePrice},
	} {
		filled, err := c.fill(ctx, f.sel, f.v)
		if err != nil {
			return models.CycleOutcome{}, buyRecord{price: buyPrice}, err
		}
		if !filled {
			c.log.Warn("[BUY] поле не заполнилось", zap.String("field", f.name))
			c.screenshot(ctx, "buy_fill")
			out, rec := failed(models.BranchFailed, f.name+" input unavailable", buyPrice)
			return out, rec, nil
		}
	}

	if err := c.drv.ScrollTo(ctx, c.sel.TradeScroll, browser.ScrollBottom); err != nil {
		return models.CycleOutcome{}, buyRecord{price: buyPrice}, err
	}
	if err := c.drv.ScrollTo(ctx, "", browser.ScrollBottom); err != nil {
		return models.CycleOutcome{}, buyRecord{price: buyPrice}, err
	}

	clicked, err := c.click(ctx, c.sel.BuyButton, clickDefault)
	if err != nil {
		return models.CycleOutcome{}, buyRecord{price: buyPrice}, err
	}
	if !clicked {
		c.log.Warn("[BUY] кнопка покупки не нажалась")
		c.screenshot(ctx, "buy_button")
		out, rec := failed(models.BranchFailed, "buy button unavailable", buyPrice)
		return out, rec, nil
	}

	if err := c.pause(ctx, 300*time.Millisecond); err != nil {
		return models.CycleOutcome{}, buyRecord{price: buyPrice}, err
	}
	reason, err := c.confirmBuy(ctx)
	if err != nil {
		return models.CycleOutcome{}, buyRecord{price: buyPrice}, err
	}
	if reason != "" {
		c.log.Warn("[BUY] ордер не подтверждён", zap.String("reason", reason))
		c.screenshot(ctx, "buy_confirm")
		out, rec := failed(models.BranchFailed, reason, buyPrice)
		return out, rec, nil
	}

	if err := c.pause(ctx, 800*time.Millisecond); err != nil {
		return models.CycleOutcome{}, buyRecord{price: buyPrice}, err
	}
	return c.classify(ctx, pre, buyPrice)
}

// confirmBuy — пусто при успехе, иначе причина отказа.
func (c *Controller) confirmBuy(ctx context.Context) (string, error) {
	ok, err := c.click(ctx, c.sel.ConfirmButton, clickConfirm)
	if err != nil || ok {
		return "", err
	}
	slip, err := c.click(ctx, c.sel.SlippageCancel, clickSlippage)
	if err != nil {
		return "", err
	}
	if slip {
		return "slippage too high", nil
	}
	ok, err = c.click(ctx, c.sel.ConfirmButton, clickConfirm)
	if err != nil {
		return "", err
	}
	if !ok {
		return "confirm button unavailable", nil
	}
	return "", nil
}

// classify — по изменению баланса решаем, что исполнилось. Неоднозначно — опрашиваем
// BuyOrderTimeout; если висящих ордеров нет, а баланс всё ещё неоднозначен,
// смотрим на позицию.
func (c *Controller) classify(ctx context.Context, preSample models.BalanceSample, buyPrice float64) (models.CycleOutcome, buyRecord, error) {
	pre := preSample.Value
	expected := c.cfg.Cost / buyPrice
	done := func(v Verdict, post float64) (models.CycleOutcome, buyRecord, error) {
		switch v {
		case BothLegsFilled:
			c.log.Info("[BUY] fast fill: обе ноги исполнены",
				zap.Float64("pre", pre), zap.Float64("post", post), zap.Float64("delta", post-pre))
			return models.CycleOutcome{
				Success:           true,
				BuyPrice:          buyPrice,
				CompletedBothLegs: true,
				Branch:            models.BranchFastFill,
				Completed:         true,
			}, buyRecord{price: buyPrice, amount: expected, success: true}, nil
		default:
			holding, ok, err := c.readHolding(ctx)
			if err != nil {
				return models.CycleOutcome{}, buyRecord{price: buyPrice}, err
			}
			if !ok {
				// без исходной позиции сигнал по позиции не сработает
				c.log.Warn("[BUY] позиция после покупки не прочиталась")
				holding = 0
			}
			c.log.Info("[BUY] покупка исполнена, ждём обратный ордер",
				zap.Float64("delta", post-pre), zap.Float64("holding", holding))
			out, err := c.awaitReverse(ctx, post, holding, buyPrice)
			return out, buyRecord{price: buyPrice, amount: expected, success: true}, err
		}
	}

	post, ok, err := c.readSample(ctx, models.SamplePostBuy)
	if err != nil {
		return models.CycleOutcome{}, buyRecord{price: buyPrice}, err
	}
	if ok {
		c.log.Info("[BUY] баланс после отправки",
			zap.Float64("pre", pre), zap.Float64("post", post.Value),
			zap.Duration("since_pre", post.At.Sub(preSample.At)))
		if v := ClassifyDelta(post.Value-pre, c.cfg.Cost); v != Inconclusive {
			return done(v, post.Value)
		}
	}

	c.log.Info("[BUY] результат неоднозначен, ждём исполнения")
	deadline := c.clock.Now().Add(c.cfg.BuyOrderTimeout)
	for c.clock.Now().Before(deadline) {
		if err := c.pause(ctx, c.cfg.BuyPollInterval); err != nil {
			return models.CycleOutcome{}, buyRecord{price: buyPrice}, err
		}

		post, ok, err = c.readSample(ctx, models.SamplePoll)
		if err != nil {
			return models.CycleOutcome{}, buyRecord{price: buyPrice}, err
		}
		if !ok {
			continue
		}
		if v := ClassifyDelta(post.Value-pre, c.cfg.Cost); v != Inconclusive {
			return done(v, post.Value)
		}

		pending, err := c.pendingOrders(ctx)
		if err != nil {
			return models.CycleOutcome{}, buyRecord{price: buyPrice}, err
		}
		if pending.Count > 0 {
			c.log.Debug("[BUY] ордер ещё висит", zap.Int("pending", pending.Count), zap.Float64("balance", post.Value))
			continue
		}

		// баланс неоднозначен, ордеров нет: решает позиция
		holding, ok, err := c.readHolding(ctx)
		if err != nil {
			return models.CycleOutcome{}, buyRecord{price: buyPrice}, err
		}
		if !ok {
			c.log.Warn("[BUY] позиция не прочиталась, продолжаем опрос")
			continue
		}
		if holding >= expected*holdingDropShare {
			c.log.Info("[BUY] ордеров нет, позиция на месте", zap.Float64("holding", holding))
			out, err := c.awaitReverse(ctx, post.Value, holding, buyPrice)
			return out, buyRecord{price: buyPrice, amount: expected, success: true}, err
		}
		return done(BothLegsFilled, post.Value)
	}

	c.log.Warn("[BUY] buy timeout: ордер не исполнился, отменяем")
	if err := c.CancelOrders(ctx); err != nil {
		return models.CycleOutcome{}, buyRecord{price: buyPrice}, err
	}
	out, rec := failed(models.BranchFailed, "buy order timeout", buyPrice)
	out.BuyPrice = buyPrice
	return out, rec, nil
}

// starvation — на покупку не хватает. Второй раз подряд при заблокированных
// средствах ликвидируем, на MaxInsufficientRetries обновляем страницу.
func (c *Controller) starvation(ctx context.Context, balance, price float64) (models.CycleOutcome, buyRecord, error) {
	c.insufficient++
	c.log.Warn("[STARVATION] недостаточно баланса",
		zap.Float64("balance", balance),
		zap.Float64("required", c.cfg.Cost*requiredBalance),
		zap.Int("in_a_row", c.insufficient))

	snap, err := c.pendingOrders(ctx)
	if err != nil {
		return models.CycleOutcome{}, buyRecord{price: price}, err
	}
	pending := snap.Count
	locked := pending > 0

	if c.insufficient >= c.cfg.LiquidateAfter {
		if !locked {
			holding, ok, err := c.readHolding(ctx)
			if err != nil {
				return models.CycleOutcome{}, buyRecord{price: price}, err
			}
			if !ok {
				c.log.Warn("[STARVATION] позиция не прочиталась, ликвидацию не запускаем")
			}
			locked = ok && holding > c.cfg.MinSellAmount
		}
		if locked {
			c.log.Warn("[STARVATION] starvation escalation: ликвидируем позицию",
				zap.Int("pending", pending), zap.Int("in_a_row", c.insufficient))
			sold, err := c.LiquidateWithRetries(ctx)
			if err != nil {
				return models.CycleOutcome{}, buyRecord{price: price}, err
			}
			c.insufficient = 0

			out := models.CycleOutcome{
				Success:   true,
				BuyPrice:  price,
				Branch:    models.BranchStarvation,
				Completed: true,
				Reason:    "starvation liquidation",
			}
			if !sold {
				c.flagManualReview(ctx, &out, "starvation liquidation failed")
			}
			return out, buyRecord{price: price, success: sold, errMsg: out.Reason}, nil
		}
	}

	if pending > 0 {
		c.log.Info("[STARVATION] есть висящие ордера, ждём", zap.Int("pending", pending))
		if err := c.pause(ctx, c.cfg.StarvationWait); err != nil {
			return models.CycleOutcome{}, buyRecord{price: price}, err
		}
	}

	if c.insufficient >= c.cfg.MaxInsufficientRetries {
		if err := c.Refresh(ctx, "insufficient balance"); err != nil {
			return models.CycleOutcome{}, buyRecord{price: price}, err
		}
		c.insufficient = 0
	}

	out, rec := failed(models.BranchStarvation, fmt.Sprintf("insufficient balance: %.2f", balance), price)
	return out, rec, nil
}

// flagManualReview — цикл засчитан, но позиция могла остаться. Громко.
func (c *Controller) flagManualReview(ctx context.Context, out *models.CycleOutcome, reason string) {
	out.ManualReview = true
	out.Reason = reason
	c.log.Error("[LIQUIDATION] manual review required: продажа не подтверждена, цикл засчитан принудительно",
		zap.String("reason", reason))
	c.screenshot(ctx, "manual_review")
	c.stats.RecordError("manual review: " + reason)
	c.notifier.Send("⚠️ Нужна ручная проверка: " + reason)
}
