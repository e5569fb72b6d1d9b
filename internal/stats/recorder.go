package stats

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"alpha_bot/internal/models"
)

// Recorder — накопитель статистики одного прогона. Все мутации O(1) под мьютексом,
// читать можно из любой горутины (health-эндпоинт).
type Recorder struct {
	account string
	now     func() time.Time

	mu        sync.Mutex
	startedAt time.Time

	attempts        int
	successfulBuys  int
	failedBuys      int
	successfulSells int
	failedSells     int
	canceled        int
	errs            int

	buyVolume  float64
	sellVolume float64
	totalOpMs  float64

	startBalance float64
	endBalance   float64
	startSet     bool

	records  []models.TradeRecord
	messages []string
}

func NewRecorder(account string, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		account:   account,
		now:       now,
		startedAt: now(),
	}
}

func (r *Recorder) Account() string { return r.account }

// RecordBuy — одна попытка цикла. Каждый вызов = +1 к attempts.
func (r *Recorder) RecordBuy(price, amount float64, success bool, durationMs float64, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts++
	r.totalOpMs += durationMs
	if success {
		r.successfulBuys++
		r.buyVolume += price * amount
	} else {
		r.failedBuys++
		r.errs++
		if errMsg != "" {
			r.messages = append(r.messages, "[BUY] "+errMsg)
		}
	}
	r.appendLocked(models.TradeBuy, price, amount, success, durationMs, errMsg)
}

func (r *Recorder) RecordSell(price, amount float64, success bool, durationMs float64, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.totalOpMs += durationMs
	if success {
		r.successfulSells++
		r.sellVolume += price * amount
	} else {
		r.failedSells++
		r.errs++
		if errMsg != "" {
			r.messages = append(r.messages, "[SELL] "+errMsg)
		}
	}
	r.appendLocked(models.TradeSell, price, amount, success, durationMs, errMsg)
}

func (r *Recorder) RecordCancel(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if success {
		r.canceled++
	}
	r.appendLocked(models.TradeCancel, 0, 0, success, 0, "")
}

func (r *Recorder) RecordError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errs++
	r.messages = append(r.messages, "[ERROR] "+msg)
}

func (r *Recorder) appendLocked(typ models.TradeType, price, amount float64, success bool, durationMs float64, errMsg string) {
	r.records = append(r.records, models.TradeRecord{
		Timestamp:  r.now(),
		Type:       typ,
		Price:      price,
		Amount:     amount,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
	})
}

// SetStartBalance — только первый вызов имеет эффект.
func (r *Recorder) SetStartBalance(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startSet {
		return
	}
	r.startBalance = v
	r.startSet = true
}

func (r *Recorder) HasStartBalance() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startSet
}

// SetEndBalance — последнее значение побеждает: финализация и прерывание
// могут записать его оба раза, в файл уходит самое свежее.
func (r *Recorder) SetEndBalance(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endBalance = v
}

func (r *Recorder) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *Recorder) SuccessRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successRateLocked()
}

func (r *Recorder) successRateLocked() float64 {
	if r.attempts == 0 {
		return 0
	}
	return float64(r.successfulBuys) / float64(r.attempts) * 100
}

func (r *Recorder) Profit() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endBalance - r.startBalance
}

// FeeConsumed — сколько съели комиссии и проскальзывание (отрицательный профит).
func (r *Recorder) FeeConsumed() float64 {
	p := r.Profit()
	if p < 0 {
		return -p
	}
	return 0
}

func (r *Recorder) Runtime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Sub(r.startedAt)
}

// Summary — все счётчики и производные метрики одним снимком.
func (r *Recorder) Summary() models.StatsSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

func (r *Recorder) summaryLocked() models.StatsSummary {
	profit := r.endBalance - r.startBalance
	fee := 0.0
	if profit < 0 {
		fee = -profit
	}
	avgCost := 0.0
	if r.successfulBuys > 0 {
		avgCost = fee / float64(r.successfulBuys)
	}
	avgOp := 0.0
	if ops := r.successfulBuys + r.failedBuys + r.successfulSells + r.failedSells; ops > 0 {
		avgOp = r.totalOpMs / float64(ops)
	}

	return models.StatsSummary{
		Account:         r.account,
		TotalAttempts:   r.attempts,
		SuccessfulBuys:  r.successfulBuys,
		FailedBuys:      r.failedBuys,
		SuccessfulSells: r.successfulSells,
		FailedSells:     r.failedSells,
		CanceledOrders:  r.canceled,
		Errors:          r.errs,
		TotalBuyVolume:  r.buyVolume,
		TotalSellVolume: r.sellVolume,
		SuccessRate:     r.successRateLocked(),
		StartBalance:    r.startBalance,
		EndBalance:      r.endBalance,
		Profit:          profit,
		FeeConsumed:     fee,
		AvgCostPerTrade: avgCost,
		RuntimeSeconds:  r.now().Sub(r.startedAt).Seconds(),
		AvgOperationMs:  avgOp,
		StartedAt:       r.startedAt,
	}
}

// Snapshot — копия для сохранения, дальше журнал может расти.
func (r *Recorder) Snapshot() models.StatsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.StatsSnapshot{
		Summary: r.summaryLocked(),
		Records: append([]models.TradeRecord{}, r.records...),
		Errors:  append([]string{}, r.messages...),
	}
}

// Report — текстовая сводка для лога и уведомления.
func (r *Recorder) Report() string {
	s := r.Summary()
	var b strings.Builder

	fmt.Fprintf(&b, "📊 Итоги [%s]\n", s.Account)
	fmt.Fprintf(&b, "попыток: %d, покупок: %d/%d, продаж: %d/%d, отмен: %d, ошибок: %d\n",
		s.TotalAttempts, s.SuccessfulBuys, s.FailedBuys, s.SuccessfulSells, s.FailedSells, s.CanceledOrders, s.Errors)
	fmt.Fprintf(&b, "успешность: %.1f%%, среднее время операции: %.0fms\n", s.SuccessRate, s.AvgOperationMs)
	fmt.Fprintf(&b, "баланс: %.2f → %.2f (%+.4f)\n", s.StartBalance, s.EndBalance, s.Profit)
	fmt.Fprintf(&b, "потрачено: %.4f", s.FeeConsumed)
	if s.SuccessfulBuys > 0 {
		fmt.Fprintf(&b, ", на сделку: %.4f", s.AvgCostPerTrade)
	}
	fmt.Fprintf(&b, "\nвремя работы: %s", time.Duration(s.RuntimeSeconds*float64(time.Second)).Round(time.Second))

	r.mu.Lock()
	msgs := r.messages
	if len(msgs) > 5 {
		msgs = msgs[len(msgs)-5:]
	}
	tail := append([]string{}, msgs...)
	total := len(r.messages)
	r.mu.Unlock()

	if len(tail) > 0 {
		b.WriteString("\nпоследние ошибки:")
		for i, m := range tail {
			fmt.Fprintf(&b, "\n  %d. %s", i+1, m)
		}
		if total > len(tail) {
			fmt.Fprintf(&b, "\n  ... ещё %d", total-len(tail))
		}
	}
	return b.String()
}
