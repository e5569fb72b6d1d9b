package trader

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alpha_bot/internal/browser"
	"alpha_bot/internal/models"
	"alpha_bot/internal/stats"
)

func TestClassifyDelta(t *testing.T) {
	cases := []struct {
		name  string
		delta float64
		cost  float64
		want  Verdict
	}{
		{"баланс почти не изменился", -2, 256, BothLegsFilled},
		{"покупка исполнилась", -256, 256, AwaitingReverse},
		{"неоднозначно", -100, 256, Inconclusive},
		{"граница 5% не входит", -12.8, 256, Inconclusive},
		{"рост баланса неоднозначен", 100, 256, Inconclusive},
		{"ровно половина не считается", -128, 256, Inconclusive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyDelta(tc.delta, tc.cost))
		})
	}
}

func TestParsers(t *testing.T) {
	p, ok := ParsePrice(" 1,234.5678\n")
	require.True(t, ok)
	assert.Equal(t, 1234.5678, p)

	_, ok = ParsePrice("--")
	assert.False(t, ok)
	_, ok = ParsePrice("0.000")
	assert.False(t, ok)

	b, ok := ParseBalance("1,000.50 USDT")
	require.True(t, ok)
	assert.Equal(t, 1000.5, b)
	_, ok = ParseBalance("")
	assert.False(t, ok)
	_, ok = ParseBalance("USDT 100")
	assert.False(t, ok)

	hv, ok := ParseHolding("Available 12,345.678 ALPHA")
	assert.True(t, ok)
	assert.Equal(t, 12345.678, hv)
	hv, ok = ParseHolding("0 ALPHA")
	assert.True(t, ok, "нулевая позиция прочитана")
	assert.Zero(t, hv)
	_, ok = ParseHolding("нет данных")
	assert.False(t, ok)
	_, ok = ParseHolding("")
	assert.False(t, ok)

	assert.Equal(t, "10.001", FormatNumber(10*1.0001))
	assert.Equal(t, "256", FormatNumber(256))
	assert.Equal(t, "0.12345679", FormatNumber(0.123456789))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	page := newFakePage()
	rec := stats.NewRecorder("x", nil)

	for name, mutate := range map[string]func(*models.CycleConfig){
		"buy markup below 1":     func(c *models.CycleConfig) { c.BuyMarkup = 0.99 },
		"buy markup above 1.1":   func(c *models.CycleConfig) { c.BuyMarkup = 1.2 },
		"sell markdown above 1":  func(c *models.CycleConfig) { c.SellMarkdown = 1.01 },
		"sell markdown zero":     func(c *models.CycleConfig) { c.SellMarkdown = 0 },
		"zero cost":              func(c *models.CycleConfig) { c.Cost = 0 },
		"min above max interval": func(c *models.CycleConfig) { c.MinInterval = time.Minute },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := models.DefaultCycleConfig()
			mutate(&cfg)
			_, err := New(cfg, Deps{Driver: page, Stats: rec})
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrInvalidConfig)
		})
	}

	_, err := New(models.DefaultCycleConfig(), Deps{Stats: rec})
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}

func TestFastFillEndToEnd(t *testing.T) {
	page := newFakePage()
	h := newHarness(t, page, func(c *models.CycleConfig) {
		c.Cost = 100
		c.BuyMarkup = 1.0001
		c.SellMarkdown = 0.9998
		c.ReverseOrderTimeout = 30 * time.Second
	})

	out, err := h.c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.True(t, out.CompletedBothLegs)
	assert.True(t, out.Completed)
	assert.Zero(t, out.HoldingAfterBuy)
	assert.Equal(t, models.BranchFastFill, out.Branch)
	assert.InDelta(t, 10.001, out.BuyPrice, 1e-9)
	assert.Equal(t, 1000.0, out.PreBuyBalance)

	assert.Equal(t, []string{"10.001"}, page.fills["limit_price"])
	assert.Equal(t, []string{"100"}, page.fills["limit_total"])
	require.Len(t, page.fills["reverse_price"], 1)
	rev, err := strconv.ParseFloat(page.fills["reverse_price"][0], 64)
	require.NoError(t, err)
	assert.InDelta(t, 9.999, rev, 1e-3)

	s := h.stats.Summary()
	assert.Equal(t, 1, s.TotalAttempts)
	assert.Equal(t, 1, s.SuccessfulBuys)
	assert.Zero(t, page.clickCount("sell_button"))
}

// Ордера пропали на втором опросе, баланс не изменился — исполнено сразу.
func TestReverseFilledByPendingOrdersAlone(t *testing.T) {
	page := newFakePage()
	page.balance = func(p *fakePage) string {
		if p.submitted {
			return "744 USDT"
		}
		return "1000 USDT"
	}
	page.holding = func(*fakePage) string { return "25.6 ALPHA" }
	page.pending = func(p *fakePage) int {
		if p.pendingPolls < 2 {
			return 1
		}
		return 0
	}
	h := newHarness(t, page, nil)

	out, err := h.c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.BranchAwaitedFill, out.Branch)
	assert.True(t, out.Success)
	assert.Equal(t, 25.6, out.HoldingAfterBuy)
	assert.Equal(t, 2, countSleeps(h.clk, 3*time.Second), "два опроса по 3с: исполнение на 6-й секунде")
	sleeps := h.clk.Sleeps()
	assert.Equal(t, 3*time.Second, sleeps[len(sleeps)-1], "после исчезновения ордеров больше не ждём")
	assert.Equal(t, 2, page.pendingPolls)
	assert.Zero(t, page.clickCount("sell_button"))
	assert.Equal(t, 1, h.stats.Attempts())
}

func TestReverseFilledByBalanceRecovery(t *testing.T) {
	page := newFakePage()
	page.balance = func(p *fakePage) string {
		switch {
		case !p.submitted:
			return "1000 USDT"
		case p.pendingPolls == 0:
			return "744 USDT"
		default:
			return "999.5 USDT"
		}
	}
	page.holding = func(*fakePage) string { return "25.6 ALPHA" }
	h := newHarness(t, page, nil)

	out, err := h.c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.BranchAwaitedFill, out.Branch)
	assert.Equal(t, 1, countSleeps(h.clk, 3*time.Second))
}

func TestReverseFilledByHoldingDrop(t *testing.T) {
	page := newFakePage()
	page.balance = func(p *fakePage) string {
		if p.submitted {
			return "744 USDT"
		}
		return "1000 USDT"
	}
	reads := 0
	page.holding = func(*fakePage) string {
		reads++
		if reads == 1 {
			return "25.6 ALPHA"
		}
		return "3 ALPHA"
	}
	h := newHarness(t, page, nil)

	out, err := h.c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.BranchAwaitedFill, out.Branch)
	assert.Equal(t, 25.6, out.HoldingAfterBuy)
}

// Обратный ордер так и не исполнился: отмена, позиция 9.98, продажа с третьей попытки.
func TestLiquidationSucceedsOnThirdRetry(t *testing.T) {
	page := newFakePage()
	page.balance = func(p *fakePage) string {
		if p.submitted {
			return "744 USDT"
		}
		return "1000 USDT"
	}
	page.holding = func(*fakePage) string { return "9.98 ALPHA" }
	page.pending = func(p *fakePage) int {
		if p.canceled {
			return 0
		}
		return 1
	}
	page.clickOK = func(sel string, n int) bool {
		return sel != "sell_button" || n >= 3
	}
	h := newHarness(t, page, func(c *models.CycleConfig) { c.ReverseOrderTimeout = 30 * time.Second })

	out, err := h.c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.True(t, out.Completed)
	assert.False(t, out.ManualReview)
	assert.Equal(t, models.BranchLiquidated, out.Branch)

	assert.True(t, page.canceled)
	assert.Equal(t, 3, page.clickCount("sell_button"))
	assert.Equal(t, []string{"9.98", "9.98", "9.98"}, page.fills["limit_amount"])
	assert.Equal(t, "9.995", page.fills["limit_price"][len(page.fills["limit_price"])-1])
	assert.Equal(t, 2, countSleeps(h.clk, 2*time.Second))

	s := h.stats.Summary()
	assert.Equal(t, 1, s.TotalAttempts)
	assert.Equal(t, 1, s.SuccessfulBuys)
	assert.Equal(t, 1, s.SuccessfulSells)
	assert.Equal(t, 2, s.FailedSells)
	assert.Equal(t, 1, s.CanceledOrders)
}

func TestLiquidationFailureFlagsManualReview(t *testing.T) {
	page := newFakePage()
	page.balance = func(p *fakePage) string {
		if p.submitted {
			return "744 USDT"
		}
		return "1000 USDT"
	}
	page.holding = func(*fakePage) string { return "25 ALPHA" }
	page.clickOK = func(sel string, n int) bool { return sel != "sell_button" }
	h := newHarness(t, page, nil)

	out, err := h.c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, out.Success, "цикл засчитан, чтобы не блокировать прогон")
	assert.True(t, out.Completed)
	assert.True(t, out.ManualReview)
	assert.Equal(t, models.BranchLiquidated, out.Branch)
	assert.Contains(t, h.note.joined(), "ручная проверка")
	assert.Contains(t, page.screenshots(), "sell_button")
	assert.Contains(t, page.screenshots(), "manual_review")

	snap := h.stats.Snapshot()
	assert.Equal(t, 3, snap.Summary.FailedSells)
	assert.Contains(t, snap.Errors[len(snap.Errors)-1], "manual review")
}

func TestStarvationEscalatesOnSecondOccurrence(t *testing.T) {
	page := newFakePage()
	page.balance = func(*fakePage) string { return "100 USDT" }
	page.holding = func(*fakePage) string { return "50 ALPHA" }
	page.pending = func(p *fakePage) int {
		if p.canceled {
			return 0
		}
		return 1
	}
	h := newHarness(t, page, nil)
	ctx := context.Background()

	first, err := h.c.RunCycle(ctx)
	require.NoError(t, err)
	assert.False(t, first.Success)
	assert.False(t, first.Completed)
	assert.Equal(t, models.BranchStarvation, first.Branch)
	assert.Equal(t, 1, countSleeps(h.clk, 5*time.Second), "первый раз ждём висящий ордер")
	assert.Zero(t, page.clickCount("sell_button"))

	second, err := h.c.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.Completed)
	assert.Equal(t, models.BranchStarvation, second.Branch)
	assert.Equal(t, 1, page.clickCount("sell_button"), "ликвидация до третьей покупки")
	assert.Zero(t, page.clickCount("buy_button"))
	assert.True(t, page.canceled)

	assert.Equal(t, 2, h.stats.Attempts())
}

func TestStarvationRefreshesOnFifth(t *testing.T) {
	page := newFakePage()
	page.balance = func(*fakePage) string { return "100 USDT" }
	h := newHarness(t, page, nil)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		out, err := h.c.RunCycle(ctx)
		require.NoError(t, err)
		assert.False(t, out.Completed)
		if i == 5 {
			assert.Equal(t, 1, page.reloads)
		}
	}
	assert.Equal(t, 1, page.reloads)
	assert.Zero(t, page.clickCount("sell_button"), "блокированных средств нет — продавать нечего")
	assert.Equal(t, 6, h.stats.Attempts())
}

func TestInconclusiveTimeoutCancelsBuy(t *testing.T) {
	page := newFakePage()
	page.balance = func(p *fakePage) string {
		if p.submitted {
			return "900 USDT"
		}
		return "1000 USDT"
	}
	page.pending = func(p *fakePage) int {
		if p.canceled {
			return 0
		}
		return 1
	}
	h := newHarness(t, page, nil)

	out, err := h.c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, models.BranchFailed, out.Branch)
	assert.Equal(t, "buy order timeout", out.Reason)
	assert.True(t, page.canceled)

	s := h.stats.Summary()
	assert.Equal(t, 1, s.TotalAttempts)
	assert.Equal(t, 1, s.FailedBuys)
	assert.Equal(t, 1, s.CanceledOrders)
}

func TestInconclusiveWithoutOrdersUsesHolding(t *testing.T) {
	t.Run("позиции нет — обе ноги исполнены", func(t *testing.T) {
		page := newFakePage()
		page.balance = func(p *fakePage) string {
			if p.submitted {
				return "900 USDT"
			}
			return "1000 USDT"
		}
		h := newHarness(t, page, nil)

		out, err := h.c.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, models.BranchFastFill, out.Branch)
		assert.True(t, out.CompletedBothLegs)
	})

	t.Run("позиция на месте — ждём обратный ордер", func(t *testing.T) {
		page := newFakePage()
		page.balance = func(p *fakePage) string {
			if p.submitted {
				return "900 USDT"
			}
			return "1000 USDT"
		}
		page.holding = func(*fakePage) string { return "25 ALPHA" }
		h := newHarness(t, page, nil)

		out, err := h.c.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 25.0, out.HoldingAfterBuy)
		assert.Equal(t, models.BranchLiquidated, out.Branch)
		assert.Equal(t, 1, page.clickCount("sell_button"))
	})
}

func TestDiscoverPriceRetriesUntilPositive(t *testing.T) {
	page := newFakePage()
	page.price = func(n int) string {
		if n < 3 {
			return "--"
		}
		return "12.5"
	}
	h := newHarness(t, page, nil)

	price, err := h.c.DiscoverPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12.5, price)
	assert.Equal(t, 2, countSleeps(h.clk, 10*time.Second))
}

func TestDiscoverPriceUsesBackupLocator(t *testing.T) {
	page := newFakePage()
	page.price = func(int) string { return "" }
	page.backup = func(int) string { return "0.0123" }
	h := newHarness(t, page, nil)

	price, err := h.c.DiscoverPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0123, price)
}

func TestDiscoverPriceCapIsOptIn(t *testing.T) {
	page := newFakePage()
	page.price = func(int) string { return "" }
	h := newHarness(t, page, func(c *models.CycleConfig) { c.PriceMaxRetries = 2 })

	out, err := h.c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "price unavailable", out.Reason)
	assert.Equal(t, 1, countSleeps(h.clk, 10*time.Second))
	assert.Zero(t, page.clickCount("buy_button"))
	assert.Equal(t, 1, h.stats.Attempts())
}

func TestSlippageWarningFailsCycle(t *testing.T) {
	page := newFakePage()
	page.clickOK = func(sel string, n int) bool { return sel != "confirm" }
	h := newHarness(t, page, nil)

	out, err := h.c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "slippage too high", out.Reason)
	assert.Equal(t, 1, h.stats.Summary().FailedBuys)
	assert.Equal(t, []string{"buy_confirm"}, page.screenshots())
}

func TestMissingReverseCheckboxRefreshes(t *testing.T) {
	page := newFakePage()
	page.checkbox = false
	h := newHarness(t, page, nil)

	out, err := h.c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "reverse checkbox unavailable", out.Reason)
	assert.Equal(t, []string{"reverse_checkbox"}, page.screenshots())
	assert.Equal(t, 1, page.reloads)
	assert.Zero(t, page.clickCount("buy_button"))
}

func TestConnectionLossIsReturned(t *testing.T) {
	page := newFakePage()
	page.failOn = "balance"
	h := newHarness(t, page, nil)

	out, err := h.c.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, browser.IsFatal(err))
	assert.False(t, out.Success)
	assert.Equal(t, models.BranchFailed, out.Branch)
	assert.Equal(t, 1, h.stats.Attempts())
}

func TestCancelledContextStopsCycle(t *testing.T) {
	page := newFakePage()
	page.price = func(int) string { return "" }
	h := newHarness(t, page, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.c.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.stats.Attempts())
}

func TestAttemptsGrowByOnePerCycle(t *testing.T) {
	page := newFakePage()
	cycle := 0
	page.balance = func(p *fakePage) string {
		// чередуем: нормальный баланс и нехватка
		if cycle%2 == 1 {
			return "10 USDT"
		}
		return "1000 USDT"
	}
	h := newHarness(t, page, nil)

	for cycle = 0; cycle < 6; cycle++ {
		_, err := h.c.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, cycle+1, h.stats.Attempts())
	}
}

// Пустой текст позиции на одном опросе — не исполнение обратного ордера.
func TestUnreadableHoldingIsNotReverseFill(t *testing.T) {
	page := newFakePage()
	page.balance = func(p *fakePage) string {
		if p.submitted {
			return "744 USDT"
		}
		return "1000 USDT"
	}
	reads := 0
	page.holding = func(*fakePage) string {
		reads++
		if reads == 2 {
			return ""
		}
		return "25.6 ALPHA"
	}
	page.pending = func(p *fakePage) int {
		if p.canceled {
			return 0
		}
		return 1
	}
	h := newHarness(t, page, func(c *models.CycleConfig) { c.ReverseOrderTimeout = 9 * time.Second })

	out, err := h.c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, models.BranchAwaitedFill, out.Branch)
	assert.Equal(t, models.BranchLiquidated, out.Branch)
	assert.Equal(t, 25.6, out.HoldingAfterBuy)
	assert.Equal(t, 3, countSleeps(h.clk, 3*time.Second), "ждали весь таймаут обратного ордера")
	assert.Equal(t, 1, page.clickCount("sell_button"))
	assert.False(t, out.ManualReview)
}

// Таймаут обратного ордера, после отмены позиция не читается: продажи нет, ручная проверка.
func TestUnreadableHoldingFailsLiquidation(t *testing.T) {
	page := newFakePage()
	page.balance = func(p *fakePage) string {
		if p.submitted {
			return "744 USDT"
		}
		return "1000 USDT"
	}
	page.holding = func(p *fakePage) string {
		if p.canceled {
			return ""
		}
		return "25.6 ALPHA"
	}
	page.pending = func(p *fakePage) int {
		if p.canceled {
			return 0
		}
		return 1
	}
	h := newHarness(t, page, func(c *models.CycleConfig) { c.ReverseOrderTimeout = 9 * time.Second })

	out, err := h.c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.BranchLiquidated, out.Branch)
	assert.True(t, out.ManualReview)
	assert.Equal(t, "liquidation failed after retries", out.Reason)
	assert.Contains(t, h.note.joined(), "ручная проверка")
	assert.Zero(t, page.clickCount("sell_button"), "по непрочитанной позиции не продаём")
	assert.Empty(t, page.fills["limit_amount"])
	assert.Contains(t, page.screenshots(), "liquidation_holding")
	assert.Contains(t, page.screenshots(), "manual_review")
}

func TestBuyFillFailureFailsCycle(t *testing.T) {
	page := newFakePage()
	page.fillOK = func(sel string) bool { return sel != "limit_price" }
	h := newHarness(t, page, nil)

	out, err := h.c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, models.BranchFailed, out.Branch)
	assert.Equal(t, "limit price input unavailable", out.Reason)
	assert.Zero(t, page.clickCount("buy_button"))
	assert.Empty(t, page.fills["limit_total"], "после отказа поля дальше не заполняем")
	assert.Equal(t, []string{"buy_fill"}, page.screenshots())

	s := h.stats.Summary()
	assert.Equal(t, 1, s.TotalAttempts)
	assert.Equal(t, 1, s.FailedBuys)
}

func TestSellFillFailureCountsAsFailedAttempt(t *testing.T) {
	page := newFakePage()
	page.balance = func(p *fakePage) string {
		if p.submitted {
			return "744 USDT"
		}
		return "1000 USDT"
	}
	page.holding = func(*fakePage) string { return "25 ALPHA" }
	page.fillOK = func(sel string) bool { return sel != "limit_amount" }
	h := newHarness(t, page, func(c *models.CycleConfig) { c.ReverseOrderTimeout = 9 * time.Second })

	out, err := h.c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.BranchLiquidated, out.Branch)
	assert.True(t, out.ManualReview)
	assert.Zero(t, page.clickCount("sell_button"))
	assert.Contains(t, page.screenshots(), "liquidation_fill")

	snap := h.stats.Snapshot()
	assert.Equal(t, 3, snap.Summary.FailedSells)
	assert.Zero(t, snap.Summary.SuccessfulSells)
}

func TestSamplesCarrySourceAndTime(t *testing.T) {
	page := newFakePage()
	page.pending = func(*fakePage) int { return 2 }
	h := newHarness(t, page, nil)
	ctx := context.Background()

	s, ok, err := h.c.readSample(ctx, models.SamplePreBuy)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1000.0, s.Value)
	assert.Equal(t, models.SamplePreBuy, s.Source)
	assert.Equal(t, h.clk.Now(), s.At)

	snap, err := h.c.pendingOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Count)
	assert.Equal(t, h.clk.Now(), snap.At)
}
