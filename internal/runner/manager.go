package runner

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"alpha_bot/internal/clock"
	"alpha_bot/internal/models"
)

// Job — один запущенный аккаунт.
type Job interface {
	Run(ctx context.Context) error
	Completed() int
	Close() error
}

// Factory собирает Job для аккаунта: браузер, guard, статистика, контроллер.
type Factory func(ctx context.Context, account string) (Job, error)

var ErrNoAccounts = errors.New("no accounts to run")

// Manager запускает аккаунты параллельно, каждый в своей горутине,
// и следит за ними. Упавший аккаунт не перезапускается.
type Manager struct {
	mu       sync.Mutex
	statuses map[string]*models.AccountStatus
	jobs     map[string]Job
	order    []string

	factory Factory
	log     *zap.Logger
	clock   clock.Clock
	stagger time.Duration
	monitor time.Duration
	ready   atomic.Bool
	onReady func()
}

type Option func(*Manager)

// WithStagger — пауза между стартами аккаунтов.
func WithStagger(d time.Duration) Option {
	return func(m *Manager) { m.stagger = d }
}

// WithMonitorInterval — как часто писать сводку по аккаунтам; 0 выключает.
func WithMonitorInterval(d time.Duration) Option {
	return func(m *Manager) { m.monitor = d }
}

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithOnReady вызывается, когда все аккаунты запущены.
func WithOnReady(fn func()) Option {
	return func(m *Manager) { m.onReady = fn }
}

func NewManager(factory Factory, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		statuses: make(map[string]*models.AccountStatus),
		jobs:     make(map[string]Job),
		factory:  factory,
		log:      log.Named("manager"),
		clock:    clock.Real(),
		stagger:  3 * time.Second,
		monitor:  time.Minute,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RunAll блокируется до завершения всех аккаунтов. Ошибка — объединение ошибок упавших.
func (m *Manager) RunAll(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return ErrNoAccounts
	}
	if err := m.register(names); err != nil {
		return err
	}

	mctx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	if m.monitor > 0 {
		go m.monitorLoop(mctx)
	}

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  error
	)
	for i, name := range names {
		if i > 0 && m.stagger > 0 {
			if err := m.clock.Sleep(ctx, m.stagger); err != nil {
				for _, rest := range names[i:] {
					m.finish(rest, models.AccountStopped, errors.Wrap(err, "not started"))
				}
				break
			}
		}
		m.log.Info("[MANAGER] запускаем аккаунт", zap.String("account", name), zap.Int("index", i+1), zap.Int("total", len(names)))

		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := m.runOne(ctx, name); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
		}(name)
	}

	m.ready.Store(true)
	if m.onReady != nil {
		m.onReady()
	}

	wg.Wait()
	m.report()
	return errs
}

func (m *Manager) register(names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		if _, dup := m.statuses[name]; dup {
			return errors.Errorf("account %q listed twice", name)
		}
		m.statuses[name] = &models.AccountStatus{Name: name, State: models.AccountPending}
		m.order = append(m.order, name)
	}
	return nil
}

func (m *Manager) runOne(ctx context.Context, name string) (err error) {
	log := m.log.With(zap.String("account", name))
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("account %s: panic: %v", name, p)
			log.Error("[MANAGER] паника в аккаунте", zap.Any("panic", p), zap.Stack("stack"))
			m.finish(name, models.AccountFailed, err)
		}
	}()

	job, err := m.factory(ctx, name)
	if err != nil {
		err = errors.Wrapf(err, "account %s", name)
		log.Error("[MANAGER] аккаунт не поднялся", zap.Error(err))
		m.finish(name, models.AccountFailed, err)
		return err
	}
	defer func() {
		if cerr := job.Close(); cerr != nil {
			log.Warn("[MANAGER] закрытие аккаунта", zap.Error(cerr))
		}
	}()
	m.start(name, job)

	runErr := job.Run(ctx)
	switch {
	case runErr == nil:
		m.finish(name, models.AccountCompleted, nil)
		return nil
	case errors.Is(runErr, context.Canceled):
		m.finish(name, models.AccountStopped, runErr)
		return nil
	default:
		err = errors.Wrapf(runErr, "account %s", name)
		log.Error("[MANAGER] аккаунт упал", zap.Error(runErr))
		m.finish(name, models.AccountFailed, err)
		return err
	}
}

func (m *Manager) start(name string, job Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[name] = job
	st := m.statuses[name]
	st.State = models.AccountRunning
	st.StartedAt = m.clock.Now()
}

func (m *Manager) finish(name string, state models.AccountState, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[name]
	if !ok {
		return
	}
	st.State = state
	st.EndedAt = m.clock.Now()
	if err != nil {
		st.Error = err.Error()
	}
	if job, ok := m.jobs[name]; ok {
		st.Completed = job.Completed()
	}
}

// Status — снимок состояний в порядке запуска.
func (m *Manager) Status() []models.AccountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AccountStatus, 0, len(m.order))
	for _, name := range m.order {
		st := *m.statuses[name]
		if job, ok := m.jobs[name]; ok && st.State == models.AccountRunning {
			st.Completed = job.Completed()
		}
		out = append(out, st)
	}
	return out
}

// Ready — все аккаунты запущены (или отказались стартовать).
func (m *Manager) Ready() bool { return m.ready.Load() }

func (m *Manager) monitorLoop(ctx context.Context) {
	t := time.NewTicker(m.monitor)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.report()
		}
	}
}

func (m *Manager) report() {
	list := m.Status()
	counts := make(map[models.AccountState]int)
	for _, st := range list {
		counts[st.State]++
		m.log.Info("[MANAGER] статус",
			zap.String("account", st.Name),
			zap.String("state", string(st.State)),
			zap.Int("completed", st.Completed),
			zap.String("error", st.Error),
		)
	}
	states := make([]string, 0, len(counts))
	for s := range counts {
		states = append(states, string(s))
	}
	sort.Strings(states)
	fields := make([]zap.Field, 0, len(states))
	for _, s := range states {
		fields = append(fields, zap.Int(s, counts[models.AccountState(s)]))
	}
	m.log.Info("[MANAGER] сводка", fields...)
}
