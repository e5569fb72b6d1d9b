package trader

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"alpha_bot/internal/browser"
	"alpha_bot/internal/models"
)

// Таймауты кликов по элементам терминала.
const (
	clickDefault  = 5 * time.Second
	clickConfirm  = time.Second
	clickSlippage = 500 * time.Millisecond
	clickCancel   = 2 * time.Second
	pageLoadWait  = 60 * time.Second
)

func (c *Controller) pause(ctx context.Context, d time.Duration) error {
	return c.clock.Sleep(ctx, d)
}

func (c *Controller) click(ctx context.Context, sel string, timeout time.Duration) (bool, error) {
	return c.drv.Click(ctx, sel, timeout)
}

func (c *Controller) fill(ctx context.Context, sel string, v float64) (bool, error) {
	return c.drv.Fill(ctx, sel, FormatNumber(v))
}

func (c *Controller) buyTab(ctx context.Context) error {
	_, err := c.click(ctx, c.sel.BuyTab, clickConfirm)
	return err
}

func (c *Controller) sellTab(ctx context.Context) error {
	_, err := c.click(ctx, c.sel.SellTab, clickConfirm)
	return err
}

// readBalance — доступный баланс на вкладке покупки. ok=false, если не прочитали.
func (c *Controller) readBalance(ctx context.Context) (float64, bool, error) {
	if err := c.buyTab(ctx); err != nil {
		return 0, false, err
	}
	txt, err := c.drv.ReadText(ctx, c.sel.Balance)
	if err != nil {
		return 0, false, err
	}
	v, ok := ParseBalance(txt)
	return v, ok, nil
}

// readSample — баланс с отметкой времени и источником замера.
func (c *Controller) readSample(ctx context.Context, src models.SampleSource) (models.BalanceSample, bool, error) {
	v, ok, err := c.readBalance(ctx)
	return models.BalanceSample{At: c.clock.Now(), Value: v, Source: src}, ok, err
}

// readHolding — сколько монет доступно на вкладке продажи. ok=false, если не прочитали.
func (c *Controller) readHolding(ctx context.Context) (float64, bool, error) {
	if err := c.sellTab(ctx); err != nil {
		return 0, false, err
	}
	if err := c.pause(ctx, 300*time.Millisecond); err != nil {
		return 0, false, err
	}
	txt, err := c.drv.ReadText(ctx, c.sel.Balance)
	if err != nil {
		return 0, false, err
	}
	v, ok := ParseHolding(txt)
	return v, ok, nil
}

// readPrice — одна попытка по основному и запасному локатору.
func (c *Controller) readPrice(ctx context.Context) (float64, bool, error) {
	for _, sel := range []string{c.sel.Price, c.sel.PriceBackup} {
		if sel == "" {
			continue
		}
		txt, err := c.drv.ReadText(ctx, sel)
		if err != nil {
			return 0, false, err
		}
		if v, ok := ParsePrice(txt); ok {
			return v, true, nil
		}
	}
	return 0, false, nil
}

// pendingOrders — число висящих ордеров по инструменту. Не смогли посчитать = 0.
func (c *Controller) pendingOrders(ctx context.Context) (models.PendingOrderSnapshot, error) {
	v, err := c.drv.Evaluate(ctx, browser.PendingOrdersJS, c.sel.OrderPaneCSS, c.sel.OrderRowsCSS)
	if err != nil {
		return models.PendingOrderSnapshot{}, err
	}
	return models.PendingOrderSnapshot{Count: toInt(v), At: c.clock.Now()}, nil
}

// screenshot — снимок страницы на ветке отказа. Сам снимок не критичен.
func (c *Controller) screenshot(ctx context.Context, op string) {
	path, err := c.drv.Screenshot(ctx, op)
	if err != nil {
		c.log.Warn("[SCREENSHOT] не удалось снять страницу", zap.String("op", op), zap.Error(err))
		return
	}
	if path != "" {
		c.log.Info("[SCREENSHOT] снимок сохранён", zap.String("op", op), zap.String("path", path))
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

// setReverse — чекбокс обратного ордера. false, если чекбокса нет.
func (c *Controller) setReverse(ctx context.Context, want bool) (bool, error) {
	v, err := c.drv.Evaluate(ctx, browser.SetCheckedJS, c.sel.ReverseCheck, want)
	if err != nil {
		return false, err
	}
	ok, _ := v.(bool)
	return ok, nil
}

// Refresh перезагружает терминал и ждёт маркер загрузки.
func (c *Controller) Refresh(ctx context.Context, reason string) error {
	c.log.Info("[PAGE] обновляем страницу", zap.String("reason", reason))
	if err := c.drv.ScrollTo(ctx, "", browser.ScrollTop); err != nil {
		return err
	}
	for attempt := 1; attempt <= 3; attempt++ {
		if err := c.drv.Reload(ctx, c.targetURL); err != nil {
			return err
		}
		if c.sel.PageLoaded == "" {
			return nil
		}
		ok, err := c.drv.WaitFor(ctx, c.sel.PageLoaded, browser.StateVisible, pageLoadWait)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		c.log.Warn("[PAGE] страница не загрузилась", zap.Int("attempt", attempt))
	}
	return nil
}
