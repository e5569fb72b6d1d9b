package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"alpha_bot/internal/browser"
	"alpha_bot/internal/clock"
	"alpha_bot/internal/models"
)

type fakeJob struct {
	run       func(ctx context.Context) error
	completed int
	closed    bool
}

func (j *fakeJob) Run(ctx context.Context) error { return j.run(ctx) }
func (j *fakeJob) Completed() int                { return j.completed }
func (j *fakeJob) Close() error {
	j.closed = true
	return nil
}

func newTestManager(t *testing.T, jobs map[string]*fakeJob, opts ...Option) (*Manager, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	factory := func(ctx context.Context, name string) (Job, error) {
		j, ok := jobs[name]
		if !ok {
			return nil, errors.Errorf("no browser for %s", name)
		}
		return j, nil
	}
	opts = append([]Option{WithClock(clk), WithMonitorInterval(0)}, opts...)
	return NewManager(factory, zap.NewNop(), opts...), clk
}

func statusOf(list []models.AccountStatus, name string) models.AccountStatus {
	for _, st := range list {
		if st.Name == name {
			return st
		}
	}
	return models.AccountStatus{}
}

func TestRunAllIsolatesFailures(t *testing.T) {
	ok := &fakeJob{completed: 36, run: func(context.Context) error { return nil }}
	broken := &fakeJob{completed: 4, run: func(context.Context) error {
		return errors.Wrap(browser.ErrConnection, "websocket closed")
	}}
	jobs := map[string]*fakeJob{"a": ok, "b": broken}

	var ready bool
	m, clk := newTestManager(t, jobs, WithOnReady(func() { ready = true }))

	err := m.RunAll(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrConnection)
	assert.Len(t, multierr.Errors(err), 2, "b упал, c не поднялся")

	list := m.Status()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{list[0].Name, list[1].Name, list[2].Name})

	assert.Equal(t, models.AccountCompleted, statusOf(list, "a").State)
	assert.Equal(t, 36, statusOf(list, "a").Completed)
	assert.Equal(t, models.AccountFailed, statusOf(list, "b").State)
	assert.Equal(t, 4, statusOf(list, "b").Completed)
	assert.Contains(t, statusOf(list, "b").Error, "connection")
	assert.Equal(t, models.AccountFailed, statusOf(list, "c").State)
	assert.Contains(t, statusOf(list, "c").Error, "no browser")

	assert.True(t, ok.closed)
	assert.True(t, broken.closed)
	assert.True(t, ready)
	assert.True(t, m.Ready())
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, clk.Sleeps(), "старты разнесены")
}

func TestRunAllRecoversPanic(t *testing.T) {
	jobs := map[string]*fakeJob{
		"a": {run: func(context.Context) error { panic("nil map") }},
		"b": {run: func(context.Context) error { return nil }},
	}
	m, _ := newTestManager(t, jobs)

	err := m.RunAll(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	list := m.Status()
	assert.Equal(t, models.AccountFailed, statusOf(list, "a").State)
	assert.Equal(t, models.AccountCompleted, statusOf(list, "b").State)
	assert.True(t, jobs["a"].closed)
}

func TestRunAllStopOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started sync.WaitGroup
	started.Add(2)
	wait := func(ctx context.Context) error {
		started.Done()
		<-ctx.Done()
		return ctx.Err()
	}
	jobs := map[string]*fakeJob{"a": {run: wait}, "b": {run: wait}}
	m, _ := newTestManager(t, jobs, WithStagger(0))

	done := make(chan error, 1)
	go func() { done <- m.RunAll(ctx, []string{"a", "b"}) }()

	started.Wait()
	for _, st := range m.Status() {
		assert.Equal(t, models.AccountRunning, st.State)
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "остановка снаружи не ошибка")
	case <-time.After(5 * time.Second):
		t.Fatal("RunAll did not return")
	}
	for _, st := range m.Status() {
		assert.Equal(t, models.AccountStopped, st.State)
	}
}

func TestRunAllCancelledDuringStagger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := map[string]*fakeJob{
		"a": {run: func(ctx context.Context) error { return ctx.Err() }},
		"b": {run: func(context.Context) error { return nil }},
	}
	m, _ := newTestManager(t, jobs)

	require.NoError(t, m.RunAll(ctx, []string{"a", "b"}))
	list := m.Status()
	assert.Equal(t, models.AccountStopped, statusOf(list, "a").State)
	assert.Equal(t, models.AccountStopped, statusOf(list, "b").State)
	assert.Contains(t, statusOf(list, "b").Error, "not started")
	assert.False(t, jobs["b"].closed, "b не создавался")
}

func TestRunAllValidatesNames(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assert.ErrorIs(t, m.RunAll(context.Background(), nil), ErrNoAccounts)

	m, _ = newTestManager(t, nil)
	assert.Error(t, m.RunAll(context.Background(), []string{"a", "a"}))
}
