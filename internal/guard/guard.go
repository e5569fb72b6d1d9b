package guard

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"alpha_bot/internal/browser"
	"alpha_bot/internal/clock"
	"alpha_bot/internal/otp"
)

type State int32

const (
	Clear State = iota
	Blocked
)

func (s State) String() string {
	if s == Blocked {
		return "blocked"
	}
	return "clear"
}

// CodeSource — откуда берём одноразовые коды (otp.Provider).
type CodeSource interface {
	Enabled() bool
	Code() (string, error)
}

const DefaultInterval = 5 * time.Second

// Guard — синхронный перехватчик окна верификации. EnsureClear зовётся перед
// каждым обращением к странице и держит вызывающего, пока окно не уйдёт.
type Guard struct {
	overlay  browser.Overlay
	codes    CodeSource
	log      *zap.Logger
	clock    clock.Clock
	interval time.Duration
	onBlock  func()

	state  atomic.Int32
	blocks atomic.Int64
}

type Option func(*Guard)

func WithInterval(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.interval = d
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(g *Guard) { g.clock = c }
}

// WithOnBlock — хук на каждый новый эпизод блокировки (метрики).
func WithOnBlock(fn func()) Option {
	return func(g *Guard) { g.onBlock = fn }
}

func New(overlay browser.Overlay, codes CodeSource, log *zap.Logger, opts ...Option) *Guard {
	g := &Guard{
		overlay:  overlay,
		codes:    codes,
		log:      log.Named("guard"),
		clock:    clock.Real(),
		interval: DefaultInterval,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Guard) State() State { return State(g.state.Load()) }

func (g *Guard) Blocks() int64 { return g.blocks.Load() }

func (g *Guard) enabled() bool {
	return g != nil && g.overlay != nil && g.codes != nil && g.codes.Enabled()
}

// EnsureClear возвращается, когда окна нет. Ошибка детектора = окна нет (fail-open).
// Ошибки: только отмена контекста или битый секрет.
func (g *Guard) EnsureClear(ctx context.Context) error {
	if !g.enabled() {
		return nil
	}

	present, err := g.overlay.Present(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.log.Warn("[GUARD] ошибка проверки окна верификации, считаем что его нет", zap.Error(err))
		return nil
	}
	if !present {
		g.state.Store(int32(Clear))
		return nil
	}

	g.state.Store(int32(Blocked))
	g.blocks.Add(1)
	if g.onBlock != nil {
		g.onBlock()
	}
	g.log.Warn("[GUARD] окно верификации, все операции на паузе")

	for attempt := 1; ; attempt++ {
		if err := g.clock.Sleep(ctx, g.interval); err != nil {
			return err
		}

		code, err := g.codes.Code()
		if err != nil {
			return errors.Wrap(err, "verification code")
		}

		entered, err := g.overlay.EnterCode(ctx, code)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			g.log.Warn("[GUARD] не удалось ввести код", zap.Int("attempt", attempt), zap.Error(err))
		case !entered:
			g.log.Warn("[GUARD] поле для кода не найдено", zap.Int("attempt", attempt))
		default:
			g.log.Info("[GUARD] код введён", zap.Int("attempt", attempt), zap.String("code", otp.Mask(code)))
		}

		present, err = g.overlay.Present(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.log.Warn("[GUARD] ошибка повторной проверки, продолжаем", zap.Error(err))
			present = false
		}
		if !present {
			g.state.Store(int32(Clear))
			g.log.Info("[GUARD] верификация пройдена, продолжаем", zap.Int("attempts", attempt))
			return nil
		}
	}
}
