package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidConfig — ошибка конфигурации: ловим на старте, никогда посреди цикла.
var ErrInvalidConfig = errors.New("invalid config")

// CycleConfig — неизменяемые параметры одного прогона.
type CycleConfig struct {
	// Торговля
	Cost           float64 // сумма одной покупки (в валюте котировки)
	TotalRuns      int     // сколько завершённых циклов нужно сделать
	ReservedAmount float64 // сколько монет оставляем при ликвидации
	MinSellAmount  float64 // меньше этого продавать не пытаемся

	// Цены
	BuyMarkup    float64 // множитель цены покупки, 1 <= x <= 1.1
	BuyOffset    float64 // фиксированная добавка к цене покупки
	SellMarkdown float64 // множитель цены обратной продажи, 0 < x <= 1
	MarketFactor float64 // множитель "рыночной" продажи при ликвидации (0.9995)

	// Таймауты и интервалы
	BuyOrderTimeout     time.Duration // ожидание неоднозначного бай-ордера
	BuyPollInterval     time.Duration
	ReverseOrderTimeout time.Duration // ожидание обратного ордера
	ReversePollInterval time.Duration
	PriceRetryDelay     time.Duration
	PriceMaxRetries     int // 0 = без ограничения
	StarvationWait      time.Duration

	// Нехватка баланса
	LiquidateAfter         int // на каком подряд случае нехватки ликвидируем
	MaxInsufficientRetries int // на каком подряд случае обновляем страницу

	// Ликвидация
	LiquidationRetries int
	LiquidationBackoff time.Duration

	// RunLoop
	RefreshInterval int // каждые N итераций обновляем страницу
	MinInterval     time.Duration
	MaxInterval     time.Duration
	FailBackoff     time.Duration
	SettleDelay     time.Duration
}

// DefaultCycleConfig — значения по умолчанию (те же, что в env-дефолтах).
func DefaultCycleConfig() CycleConfig {
	return CycleConfig{
		Cost:                   256,
		TotalRuns:              36,
		ReservedAmount:         0,
		MinSellAmount:          1,
		BuyMarkup:              1.0001,
		BuyOffset:              0,
		SellMarkdown:           0.9998,
		MarketFactor:           0.9995,
		BuyOrderTimeout:        5 * time.Second,
		BuyPollInterval:        time.Second,
		ReverseOrderTimeout:    30 * time.Second,
		ReversePollInterval:    3 * time.Second,
		PriceRetryDelay:        10 * time.Second,
		PriceMaxRetries:        0,
		StarvationWait:         5 * time.Second,
		LiquidateAfter:         2,
		MaxInsufficientRetries: 5,
		LiquidationRetries:     3,
		LiquidationBackoff:     2 * time.Second,
		RefreshInterval:        5,
		MinInterval:            5 * time.Second,
		MaxInterval:            10 * time.Second,
		FailBackoff:            2 * time.Second,
		SettleDelay:            10 * time.Second,
	}
}

// Validate проверяет инварианты. Ничего не подрезает, только отказывает.
// Сравнения записаны так, чтобы NaN не проходил.
func (c CycleConfig) Validate() error {
	var errs []string

	if !(c.Cost > 0) || math.IsInf(c.Cost, 0) {
		errs = append(errs, "cost must be > 0")
	}
	if c.TotalRuns <= 0 {
		errs = append(errs, "total_runs must be > 0")
	}
	if !(c.SellMarkdown > 0 && c.SellMarkdown <= 1) {
		errs = append(errs, "sell_price_percent must be in (0, 1]")
	}
	if !(c.BuyMarkup >= 1 && c.BuyMarkup <= 1.1) {
		errs = append(errs, "buy_price_percent must be in [1, 1.1]")
	}
	if !(c.MarketFactor > 0 && c.MarketFactor <= 1) {
		errs = append(errs, "market factor must be in (0, 1]")
	}
	if !(c.ReservedAmount >= 0 && c.MinSellAmount >= 0) {
		errs = append(errs, "reserved_amount and min_sell_amount must be >= 0")
	}
	if c.RefreshInterval < 1 {
		errs = append(errs, "refresh_interval must be >= 1")
	}
	if c.MinInterval < 0 || c.MinInterval > c.MaxInterval {
		errs = append(errs, "min_interval must be in [0, max_interval]")
	}
	if c.BuyPollInterval <= 0 || c.ReversePollInterval <= 0 {
		errs = append(errs, "poll intervals must be > 0")
	}
	if c.ReverseOrderTimeout <= 0 || c.BuyOrderTimeout <= 0 {
		errs = append(errs, "order timeouts must be > 0")
	}
	if c.PriceMaxRetries < 0 {
		errs = append(errs, "price max retries must be >= 0")
	}
	if c.LiquidationRetries < 1 {
		errs = append(errs, "liquidation retries must be >= 1")
	}
	if c.LiquidateAfter < 1 || c.MaxInsufficientRetries < 1 {
		errs = append(errs, "insufficient balance thresholds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// Branch — по какой ветке закрылся цикл.
type Branch string

const (
	BranchFastFill    Branch = "fast_fill"
	BranchAwaitedFill Branch = "awaited_fill"
	BranchLiquidated  Branch = "liquidated"
	BranchStarvation  Branch = "starvation"
	BranchFailed      Branch = "failed"
)

// CycleOutcome — результат одного вызова контроллера. Создаётся ровно один раз за цикл.
type CycleOutcome struct {
	Success           bool
	HoldingAfterBuy   float64
	BuyPrice          float64
	CompletedBothLegs bool
	Reason            string

	Branch        Branch
	Completed     bool // засчитывается в TotalRuns
	ManualReview  bool // ликвидация не удалась, нужна ручная проверка
	PreBuyBalance float64
}

type SampleSource string

const (
	SamplePreBuy  SampleSource = "pre-buy"
	SamplePostBuy SampleSource = "post-buy"
	SamplePoll    SampleSource = "poll"
)

// BalanceSample — замер баланса вокруг отправки ордера. Живёт только до классификации.
type BalanceSample struct {
	At     time.Time
	Value  float64
	Source SampleSource
}

// PendingOrderSnapshot — сколько висит ордеров по инструменту.
type PendingOrderSnapshot struct {
	Count int
	At    time.Time
}
