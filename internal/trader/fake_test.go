package trader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"alpha_bot/internal/browser"
	"alpha_bot/internal/clock"
	"alpha_bot/internal/models"
	"alpha_bot/internal/stats"
)

// testSelectors — у каждого элемента свой уникальный локатор.
func testSelectors() browser.Selectors {
	return browser.Selectors{
		Price:            "price",
		PriceBackup:      "price_backup",
		Balance:          "balance",
		LimitPrice:       "limit_price",
		LimitAmount:      "limit_amount",
		LimitTotal:       "limit_total",
		ReversePrice:     "reverse_price",
		ReverseCheck:     "reverse_check",
		BuyTab:           "buy_tab",
		SellTab:          "sell_tab",
		BuyButton:        "buy_button",
		SellButton:       "sell_button",
		ConfirmButton:    "confirm",
		ContinueButton:   "continue",
		SlippageCancel:   "slippage_cancel",
		SlippageConfirm:  "slippage_confirm",
		OrderTable:       "order_table",
		OrderRowsCSS:     "order_rows",
		OrderPaneCSS:     "order_pane",
		CancelAll:        "cancel_all",
		CancelLink:       "cancel_link",
		CancelSingle:     "cancel_single",
		CancelConfirm:    "cancel_confirm",
		CancelConfirmAlt: "cancel_confirm_alt",
		TradeScroll:      "trade_scroll",
		GridScroll:       "grid_scroll",
		PageLoaded:       "page_loaded",
	}
}

// fakePage — торговый терминал в памяти. Реагирует на клики так, как
// настоящая страница: вкладки, отправка покупки, отмена ордеров.
type fakePage struct {
	mu  sync.Mutex
	sel browser.Selectors
	tab string

	price    func(n int) string // n — номер чтения основного локатора
	backup   func(n int) string
	balance  func(p *fakePage) string
	holding  func(p *fakePage) string
	pending  func(p *fakePage) int
	clickOK  func(sel string, n int) bool
	fillOK   func(sel string) bool
	checkbox bool
	failOn   string

	buyClicked bool
	submitted  bool
	canceled   bool

	reads        map[string]int
	clicks       map[string]int
	fills        map[string][]string
	shots        []string
	pendingPolls int
	reloads      int
}

func newFakePage() *fakePage {
	return &fakePage{
		sel:      testSelectors(),
		tab:      "buy",
		checkbox: true,
		price:    func(int) string { return "10.0" },
		backup:   func(int) string { return "" },
		balance:  func(*fakePage) string { return "1000 USDT" },
		holding:  func(*fakePage) string { return "0 ALPHA" },
		pending:  func(*fakePage) int { return 0 },
		reads:    map[string]int{},
		clicks:   map[string]int{},
		fills:    map[string][]string{},
	}
}

func (p *fakePage) fail(sel string) error {
	if p.failOn != "" && sel == p.failOn {
		return errors.Wrap(browser.ErrConnection, "test: page gone")
	}
	return nil
}

func (p *fakePage) Locate(ctx context.Context, selector string) (*browser.Element, error) {
	txt, err := p.ReadText(ctx, selector)
	if err != nil {
		return nil, err
	}
	return &browser.Element{Selector: selector, Text: txt, Visible: true}, nil
}

func (p *fakePage) ReadText(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail(selector); err != nil {
		return "", err
	}
	p.reads[selector]++
	n := p.reads[selector]
	switch selector {
	case p.sel.Price:
		return p.price(n), nil
	case p.sel.PriceBackup:
		return p.backup(n), nil
	case p.sel.Balance:
		if p.tab == "sell" {
			return p.holding(p), nil
		}
		return p.balance(p), nil
	}
	return "", nil
}

func (p *fakePage) Fill(ctx context.Context, selector, value string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail(selector); err != nil {
		return false, err
	}
	if p.fillOK != nil && !p.fillOK(selector) {
		return false, nil
	}
	p.fills[selector] = append(p.fills[selector], value)
	return true, nil
}

func (p *fakePage) Click(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail(selector); err != nil {
		return false, err
	}
	p.clicks[selector]++
	ok := true
	if p.clickOK != nil {
		ok = p.clickOK(selector, p.clicks[selector])
	}
	if !ok {
		return false, nil
	}
	switch selector {
	case p.sel.BuyTab:
		p.tab = "buy"
	case p.sel.SellTab:
		p.tab = "sell"
	case p.sel.BuyButton:
		p.buyClicked = true
	case p.sel.ConfirmButton:
		if p.buyClicked {
			p.submitted = true
		}
	case p.sel.CancelConfirm, p.sel.CancelConfirmAlt:
		p.canceled = true
	}
	return true, nil
}

func (p *fakePage) ScrollTo(ctx context.Context, target string, dir browser.Direction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fail(target)
}

func (p *fakePage) Evaluate(ctx context.Context, js string, args ...any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch js {
	case browser.PendingOrdersJS:
		if err := p.fail("pending"); err != nil {
			return nil, err
		}
		p.pendingPolls++
		return float64(p.pending(p)), nil
	case browser.SetCheckedJS:
		if !p.checkbox {
			return nil, nil
		}
		return true, nil
	}
	return nil, nil
}

func (p *fakePage) WaitFor(ctx context.Context, selector string, state browser.WaitState, timeout time.Duration) (bool, error) {
	return true, nil
}

func (p *fakePage) CurrentURL(ctx context.Context) (string, error) { return "", nil }

func (p *fakePage) Screenshot(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shots = append(p.shots, name)
	return "screenshots/" + name + ".png", nil
}

func (p *fakePage) screenshots() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.shots...)
}

func (p *fakePage) Reload(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloads++
	return nil
}

func (p *fakePage) clickCount(sel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clicks[sel]
}

type recNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recNotifier) Send(msg string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
}

func (n *recNotifier) Sendf(format string, args ...any) { n.Send(fmt.Sprintf(format, args...)) }

func (n *recNotifier) joined() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return strings.Join(n.msgs, "\n")
}

type harness struct {
	c     *Controller
	page  *fakePage
	stats *stats.Recorder
	clk   *clock.Fake
	note  *recNotifier
}

func newHarness(t *testing.T, page *fakePage, mutate func(*models.CycleConfig)) *harness {
	t.Helper()
	cfg := models.DefaultCycleConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rec := stats.NewRecorder("test", clk.Now)
	note := &recNotifier{}

	c, err := New(cfg, Deps{
		Driver:    page,
		Stats:     rec,
		Notifier:  note,
		Log:       zap.NewNop(),
		Clock:     clk,
		Selectors: page.sel,
		TargetURL: "https://example.com/trade",
	})
	require.NoError(t, err)
	return &harness{c: c, page: page, stats: rec, clk: clk, note: note}
}

func countSleeps(clk *clock.Fake, d time.Duration) int {
	n := 0
	for _, s := range clk.Sleeps() {
		if s == d {
			n++
		}
	}
	return n
}
