package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"alpha_bot/internal/models"
	"alpha_bot/internal/stats"
	"alpha_bot/pkg/db"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("alphabot"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewStore(db.NewPgTxManager(pool))
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "схема применяется повторно без ошибок")
	return s
}

func TestSaveRun(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	rec := stats.NewRecorder("acc", func() time.Time { return now })
	rec.SetStartBalance(1000)
	rec.RecordBuy(10, 25.6, true, 1200, "")
	rec.RecordBuy(10, 0, false, 300, "buy order timeout")
	rec.RecordSell(9.99, 25.6, true, 800, "")
	rec.RecordCancel(true)
	now = start.Add(time.Minute)
	rec.SetEndBalance(999.5)

	require.NoError(t, s.SaveRun(ctx, rec.Snapshot()))

	sum, records, err := s.LastRun(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalAttempts)
	assert.Equal(t, 1, sum.SuccessfulBuys)
	assert.Equal(t, 1, sum.FailedBuys)
	assert.Equal(t, 1, sum.CanceledOrders)
	assert.InDelta(t, -0.5, sum.Profit, 1e-9)
	assert.InDelta(t, 0.5, sum.FeeConsumed, 1e-9)
	assert.True(t, sum.StartedAt.Equal(start))
	assert.Equal(t, 4, records)
}

func TestAppendBalance(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendBalance(ctx, "acc", models.BalanceSample{At: at, Value: 1000, Source: models.SamplePoll}))
	require.NoError(t, s.AppendBalance(ctx, "acc", models.BalanceSample{At: at.Add(time.Minute), Value: 998, Source: models.SamplePoll}))
	require.NoError(t, s.AppendBalance(ctx, "acc", models.BalanceSample{At: at.Add(time.Minute), Value: 997, Source: models.SamplePoll}))
	require.NoError(t, s.AppendBalance(ctx, "other", models.BalanceSample{At: at, Value: 1, Source: models.SamplePoll}))

	got, err := s.Balances(ctx, "acc")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1000.0, got[0].Value)
	assert.Equal(t, 997.0, got[1].Value)
	assert.Equal(t, models.SamplePoll, got[1].Source)
}

func TestBalanceLogForwardsToStore(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	log, err := stats.NewBalanceLog(t.TempDir(), "acc", s)
	require.NoError(t, err)
	require.NoError(t, log.Append(ctx, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), 512.25))

	got, err := s.Balances(ctx, "acc")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 512.25, got[0].Value)
}
