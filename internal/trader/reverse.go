package trader

import (
	"context"

	"go.uber.org/zap"

	"alpha_bot/internal/models"
)

// fillSignal — что именно показало исполнение обратного ордера.
type fillSignal string

const (
	signalNone    fillSignal = ""
	signalOrders  fillSignal = "orders"
	signalBalance fillSignal = "balance"
	signalHolding fillSignal = "holding"
)

// awaitReverse ждёт исполнения обратной продажи. Любой из сигналов достаточен:
// висящие ордера пропали, баланс вернулся на 90% cost, позиция упала вдвое.
// Непрочитанная позиция сигналом не считается.
// Не дождались — ликвидация.
func (c *Controller) awaitReverse(ctx context.Context, postBuy, holding, buyPrice float64) (models.CycleOutcome, error) {
	span, ctx := c.span(ctx, "await_reverse")
	defer span.Finish()

	out := models.CycleOutcome{
		Success:         true,
		BuyPrice:        buyPrice,
		HoldingAfterBuy: holding,
		Completed:       true,
	}

	signal, err := c.pollReverse(ctx, postBuy, holding)
	if err != nil {
		return out, err
	}
	if signal != signalNone {
		span.SetTag("signal", string(signal))
		out.Branch = models.BranchAwaitedFill
		out.CompletedBothLegs = true
		return out, nil
	}

	c.log.Warn("[REVERSE] обратный ордер не исполнился, liquidation fallback",
		zap.Duration("waited", c.cfg.ReverseOrderTimeout))
	sold, err := c.LiquidateWithRetries(ctx)
	if err != nil {
		return out, err
	}
	out.Branch = models.BranchLiquidated
	if !sold {
		c.flagManualReview(ctx, &out, "liquidation failed after retries")
	}
	return out, nil
}

func (c *Controller) pollReverse(ctx context.Context, postBuy, holding float64) (fillSignal, error) {
	start := c.clock.Now()
	deadline := start.Add(c.cfg.ReverseOrderTimeout)
	initialPending := -1
	hadPending := false

	for c.clock.Now().Before(deadline) {
		if err := c.pause(ctx, c.cfg.ReversePollInterval); err != nil {
			return signalNone, err
		}
		elapsed := c.clock.Now().Sub(start)

		snap, err := c.pendingOrders(ctx)
		if err != nil {
			return signalNone, err
		}
		pending := snap.Count
		if initialPending < 0 {
			initialPending = pending
			hadPending = pending > 0
		}
		if hadPending && pending == 0 {
			c.log.Info("[REVERSE] reverse filled: висящих ордеров больше нет", zap.Duration("after", elapsed))
			return signalOrders, nil
		}

		sample, ok, err := c.readSample(ctx, models.SamplePoll)
		if err != nil {
			return signalNone, err
		}
		balance := sample.Value
		if ok && balance-postBuy >= c.cfg.Cost*reverseFillShare {
			c.log.Info("[REVERSE] reverse filled: баланс вернулся",
				zap.Float64("balance", balance), zap.Duration("after", elapsed))
			return signalBalance, nil
		}

		current, ok, err := c.readHolding(ctx)
		if err != nil {
			return signalNone, err
		}
		if !ok {
			c.log.Debug("[REVERSE] позиция не прочиталась", zap.Duration("elapsed", elapsed))
		} else if current < holding*holdingDropShare {
			c.log.Info("[REVERSE] reverse filled: позиция уменьшилась",
				zap.Float64("from", holding), zap.Float64("to", current), zap.Duration("after", elapsed))
			return signalHolding, nil
		}

		c.log.Debug("[REVERSE] ждём",
			zap.Duration("elapsed", elapsed), zap.Float64("balance", balance), zap.Int("pending", pending))
	}
	return signalNone, nil
}
