package trader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"alpha_bot/internal/browser"
)

// LiquidateWithRetries — до LiquidationRetries попыток с паузой LiquidationBackoff.
// false значит позиция могла остаться; решение "засчитать цикл" за вызывающим.
func (c *Controller) LiquidateWithRetries(ctx context.Context) (bool, error) {
	for attempt := 1; attempt <= c.cfg.LiquidationRetries; attempt++ {
		ok, err := c.Liquidate(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		c.log.Warn("[LIQUIDATION] продажа не удалась",
			zap.Int("attempt", attempt), zap.Int("of", c.cfg.LiquidationRetries))
		if attempt < c.cfg.LiquidationRetries {
			if err := c.pause(ctx, c.cfg.LiquidationBackoff); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

// Liquidate — одна попытка продать всё по рынку: отменить ордера (иначе монеты
// заблокированы), перечитать позицию, продать holding-reserved по цене*MarketFactor.
func (c *Controller) Liquidate(ctx context.Context) (bool, error) {
	span, ctx := c.span(ctx, "liquidate")
	defer span.Finish()
	start := c.clock.Now()

	snap, err := c.pendingOrders(ctx)
	if err != nil {
		return false, err
	}
	if pending := snap.Count; pending > 0 {
		c.log.Warn("[LIQUIDATION] висящие ордера блокируют монеты, отменяем", zap.Int("pending", pending))
		if err := c.drv.ScrollTo(ctx, "", browser.ScrollBottom); err != nil {
			return false, err
		}
		for i := 0; i < 2 && pending > 0; i++ {
			if err := c.CancelOrders(ctx); err != nil {
				return false, err
			}
			if err := c.pause(ctx, time.Second); err != nil {
				return false, err
			}
			if snap, err = c.pendingOrders(ctx); err != nil {
				return false, err
			}
			pending = snap.Count
		}
	}

	holding, ok, err := c.readHolding(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		c.log.Warn("[LIQUIDATION] позиция не прочиталась, попытка не засчитана")
		c.screenshot(ctx, "liquidation_holding")
		return false, nil
	}
	if holding <= c.cfg.MinSellAmount {
		c.log.Info("[LIQUIDATION] продавать нечего",
			zap.Float64("holding", holding), zap.Float64("min_sell", c.cfg.MinSellAmount))
		return true, nil
	}
	amount := holding - c.cfg.ReservedAmount
	if amount <= 0 {
		c.log.Info("[LIQUIDATION] вся позиция в резерве", zap.Float64("holding", holding))
		return true, nil
	}

	price, ok, err := c.readPrice(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		price = c.lastPrice
		c.log.Warn("[LIQUIDATION] цена не прочиталась, берём последнюю", zap.Float64("price", price))
	} else {
		c.lastPrice = price
	}
	sellPrice := price * c.cfg.MarketFactor
	span.SetTag("sell_price", sellPrice)
	span.SetTag("amount", amount)

	c.log.Info("[LIQUIDATION] продаём",
		zap.String("price", FormatNumber(sellPrice)), zap.String("amount", FormatNumber(amount)))

	record := func(success bool, msg string) {
		c.stats.RecordSell(sellPrice, amount, success, float64(c.clock.Now().Sub(start).Milliseconds()), msg)
	}

	for _, f := range []struct {
		name string
		sel  string
		v    float64
	}{
		{"sell price", c.sel.LimitPrice, sellPrice},
		{"sell amount", c.sel.LimitAmount, amount},
	} {
		filled, err := c.fill(ctx, f.sel, f.v)
		if err != nil {
			return false, err
		}
		if !filled {
			c.log.Warn("[LIQUIDATION] поле не заполнилось", zap.String("field", f.name))
			c.screenshot(ctx, "liquidation_fill")
			record(false, f.name+" input unavailable")
			return false, nil
		}
	}
	if err := c.drv.ScrollTo(ctx, c.sel.TradeScroll, browser.ScrollBottom); err != nil {
		return false, err
	}
	if _, err := c.setReverse(ctx, false); err != nil {
		return false, err
	}
	if err := c.drv.ScrollTo(ctx, "", browser.ScrollBottom); err != nil {
		return false, err
	}

	clicked, err := c.click(ctx, c.sel.SellButton, clickDefault)
	if err != nil {
		return false, err
	}
	if !clicked {
		c.screenshot(ctx, "sell_button")
		record(false, "sell button unavailable")
		return false, nil
	}
	if err := c.pause(ctx, 300*time.Millisecond); err != nil {
		return false, err
	}

	confirmed, err := c.click(ctx, c.sel.ConfirmButton, clickConfirm)
	if err != nil {
		return false, err
	}
	if confirmed {
		if _, err := c.click(ctx, c.sel.ContinueButton, clickConfirm); err != nil {
			return false, err
		}
	} else {
		confirmed, err = c.click(ctx, c.sel.SlippageConfirm, clickSlippage)
		if err != nil {
			return false, err
		}
	}
	if !confirmed {
		c.screenshot(ctx, "sell_confirm")
		record(false, "sell confirm unavailable")
		return false, nil
	}

	c.log.Info("[LIQUIDATION] продажа подтверждена")
	record(true, "")
	return true, nil
}

// CancelOrders снимает висящие ордера: "отменить все", ссылка в строке или
// кнопка одной строки, затем подтверждение. До трёх заходов.
func (c *Controller) CancelOrders(ctx context.Context) error {
	snap, err := c.pendingOrders(ctx)
	if err != nil {
		return err
	}
	pending := snap.Count
	if pending == 0 {
		return nil
	}
	c.log.Info("[CANCEL] отменяем ордера", zap.Int("pending", pending))

	if err := c.drv.ScrollTo(ctx, c.sel.OrderTable, browser.ScrollRight); err != nil {
		return err
	}
	if err := c.pause(ctx, 500*time.Millisecond); err != nil {
		return err
	}

	const tries = 3
	for i := 1; i <= tries; i++ {
		clicked := false
		for _, b := range []struct {
			sel     string
			timeout time.Duration
		}{
			{c.sel.CancelAll, clickCancel},
			{c.sel.CancelLink, clickConfirm},
			{c.sel.CancelSingle, clickConfirm},
		} {
			if clicked, err = c.click(ctx, b.sel, b.timeout); err != nil {
				return err
			}
			if clicked {
				break
			}
		}

		if clicked {
			if err := c.pause(ctx, 500*time.Millisecond); err != nil {
				return err
			}
			confirmed, err := c.click(ctx, c.sel.CancelConfirm, clickCancel)
			if err != nil {
				return err
			}
			if !confirmed {
				if confirmed, err = c.click(ctx, c.sel.CancelConfirmAlt, clickCancel); err != nil {
					return err
				}
			}
			if confirmed {
				c.stats.RecordCancel(true)
				if err := c.pause(ctx, time.Second); err != nil {
					return err
				}
			} else {
				c.log.Warn("[CANCEL] кнопка подтверждения отмены не найдена")
			}
		}

		if snap, err = c.pendingOrders(ctx); err != nil {
			return err
		}
		if pending = snap.Count; pending == 0 {
			c.log.Info("[CANCEL] все ордера отменены")
			return nil
		}
		if i < tries {
			c.log.Warn("[CANCEL] ордера ещё висят, повторяем", zap.Int("pending", pending), zap.Int("try", i))
			if err := c.drv.ScrollTo(ctx, "", browser.ScrollBottom); err != nil {
				return err
			}
			if err := c.drv.ScrollTo(ctx, c.sel.OrderTable, browser.ScrollRight); err != nil {
				return err
			}
			if err := c.pause(ctx, time.Second); err != nil {
				return err
			}
		}
	}
	c.log.Warn("[CANCEL] не все ордера отменены", zap.Int("pending", pending))
	return nil
}

// ResidualHolding — позиция сверх MinSellAmount (для финализации).
// ok=false: позицию прочитать не удалось, остаток неизвестен.
func (c *Controller) ResidualHolding(ctx context.Context) (float64, bool, error) {
	h, ok, err := c.readHolding(ctx)
	if err != nil || !ok {
		return 0, ok, err
	}
	if h > c.cfg.MinSellAmount {
		return h, true, nil
	}
	return 0, true, nil
}

// Balance — текущий доступный баланс для RunLoop.
func (c *Controller) Balance(ctx context.Context) (float64, bool, error) {
	return c.readBalance(ctx)
}
