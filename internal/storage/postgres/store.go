package postgres

import (
	"context"
	_ "embed"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"alpha_bot/internal/models"
	"alpha_bot/internal/stats"
	"alpha_bot/pkg/db"
)

//go:embed schema.sql
var schema string

// Store — постгрес-приёмник статистики: итоги прогонов, журнал сделок, ряд баланса.
type Store struct {
	tx db.TxManager
}

func NewStore(tx db.TxManager) *Store {
	return &Store{tx: tx}
}

var _ stats.Sink = (*Store)(nil)

// Migrate применяет схему. Все операторы идемпотентны, можно вызывать на каждом старте.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.tx.Conn().Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

// SaveRun пишет итог прогона и все записи журнала одной транзакцией.
func (s *Store) SaveRun(ctx context.Context, snap models.StatsSnapshot) error {
	sum := snap.Summary
	return s.tx.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		var runID int64
		err := tx.QueryRow(ctxTx, `
			INSERT INTO runs (
				account, started_at, total_attempts,
				successful_buys, failed_buys, successful_sells, failed_sells,
				canceled_orders, errors, success_rate,
				start_balance, end_balance, profit, fee_consumed, runtime_seconds,
				error_messages
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id`,
			sum.Account, sum.StartedAt, sum.TotalAttempts,
			sum.SuccessfulBuys, sum.FailedBuys, sum.SuccessfulSells, sum.FailedSells,
			sum.CanceledOrders, sum.Errors, sum.SuccessRate,
			sum.StartBalance, sum.EndBalance, sum.Profit, sum.FeeConsumed, sum.RuntimeSeconds,
			nonNil(snap.Errors),
		).Scan(&runID)
		if err != nil {
			return errors.Wrap(err, "insert run")
		}

		if len(snap.Records) == 0 {
			return nil
		}
		rows := make([][]any, 0, len(snap.Records))
		for _, r := range snap.Records {
			rows = append(rows, []any{runID, r.Timestamp, string(r.Type), r.Price, r.Amount, r.Success, r.DurationMs, r.Error})
		}
		_, err = tx.CopyFrom(ctxTx,
			pgx.Identifier{"trade_records"},
			[]string{"run_id", "ts", "type", "price", "amount", "success", "duration_ms", "error"},
			pgx.CopyFromRows(rows),
		)
		return errors.Wrap(err, "copy trade records")
	})
}

// AppendBalance — одна точка ряда. Повтор с тем же временем перезаписывает значение.
func (s *Store) AppendBalance(ctx context.Context, account string, sample models.BalanceSample) error {
	_, err := s.tx.Conn().Exec(ctx, `
		INSERT INTO balance_samples (account, ts, value, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account, ts) DO UPDATE SET value = EXCLUDED.value, source = EXCLUDED.source`,
		account, sample.At, sample.Value, string(sample.Source),
	)
	return errors.Wrap(err, "insert balance sample")
}

// Balances — ряд баланса аккаунта по времени.
func (s *Store) Balances(ctx context.Context, account string) ([]models.BalanceSample, error) {
	rows, err := s.tx.Conn().Query(ctx,
		`SELECT ts, value, source FROM balance_samples WHERE account = $1 ORDER BY ts`, account)
	if err != nil {
		return nil, errors.Wrap(err, "query balances")
	}
	defer rows.Close()

	var out []models.BalanceSample
	for rows.Next() {
		var (
			at     time.Time
			value  float64
			source string
		)
		if err := rows.Scan(&at, &value, &source); err != nil {
			return nil, errors.Wrap(err, "scan balance")
		}
		out = append(out, models.BalanceSample{At: at, Value: value, Source: models.SampleSource(source)})
	}
	return out, errors.Wrap(rows.Err(), "iterate balances")
}

// LastRun — последний сохранённый итог аккаунта и число его записей журнала.
func (s *Store) LastRun(ctx context.Context, account string) (models.StatsSummary, int, error) {
	var (
		sum     models.StatsSummary
		runID   int64
		records int
	)
	err := s.tx.Conn().QueryRow(ctx, `
		SELECT id, account, started_at, total_attempts, successful_buys, failed_buys,
		       successful_sells, failed_sells, canceled_orders, errors, success_rate,
		       start_balance, end_balance, profit, fee_consumed, runtime_seconds
		FROM runs WHERE account = $1 ORDER BY id DESC LIMIT 1`, account,
	).Scan(&runID, &sum.Account, &sum.StartedAt, &sum.TotalAttempts, &sum.SuccessfulBuys, &sum.FailedBuys,
		&sum.SuccessfulSells, &sum.FailedSells, &sum.CanceledOrders, &sum.Errors, &sum.SuccessRate,
		&sum.StartBalance, &sum.EndBalance, &sum.Profit, &sum.FeeConsumed, &sum.RuntimeSeconds)
	if err != nil {
		return sum, 0, errors.Wrap(err, "select run")
	}
	err = s.tx.Conn().QueryRow(ctx, `SELECT count(*) FROM trade_records WHERE run_id = $1`, runID).Scan(&records)
	return sum, records, errors.Wrap(err, "count records")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
