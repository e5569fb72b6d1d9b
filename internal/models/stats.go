package models

import "time"

type TradeType string

const (
	TradeBuy    TradeType = "buy"
	TradeSell   TradeType = "sell"
	TradeCancel TradeType = "cancel"
)

// TradeRecord — одна запись в журнале операций.
type TradeRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       TradeType `json:"type"`
	Price      float64   `json:"price"`
	Amount     float64   `json:"amount"`
	Success    bool      `json:"success"`
	DurationMs float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// StatsSummary — агрегаты + производные метрики на момент снимка.
type StatsSummary struct {
	Account         string  `json:"account"`
	TotalAttempts   int     `json:"total_attempts"`
	SuccessfulBuys  int     `json:"successful_buys"`
	FailedBuys      int     `json:"failed_buys"`
	SuccessfulSells int     `json:"successful_sells"`
	FailedSells     int     `json:"failed_sells"`
	CanceledOrders  int     `json:"canceled_orders"`
	Errors          int     `json:"errors"`
	TotalBuyVolume  float64 `json:"total_buy_volume"`
	TotalSellVolume float64 `json:"total_sell_volume"`
	SuccessRate     float64 `json:"success_rate"`
	StartBalance    float64 `json:"start_balance"`
	EndBalance      float64 `json:"end_balance"`
	Profit          float64 `json:"profit"`
	FeeConsumed     float64 `json:"total_fee_consumed"`
	AvgCostPerTrade float64 `json:"avg_cost_per_trade"`
	RuntimeSeconds  float64 `json:"total_runtime_seconds"`
	AvgOperationMs  float64 `json:"avg_operation_time_ms"`

	StartedAt time.Time `json:"started_at"`
}

// StatsSnapshot — то, что уходит в файл/БД.
type StatsSnapshot struct {
	Summary StatsSummary  `json:"summary"`
	Records []TradeRecord `json:"records"`
	Errors  []string      `json:"errors"`
}
