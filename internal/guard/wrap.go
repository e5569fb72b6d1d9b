package guard

import (
	"context"
	"time"

	"alpha_bot/internal/browser"
)

// Wrap возвращает драйвер, у которого каждый вызов сначала проходит EnsureClear.
func Wrap(d browser.UIDriver, g *Guard) browser.UIDriver {
	return &guarded{d: d, g: g}
}

type guarded struct {
	d browser.UIDriver
	g *Guard
}

func (w *guarded) Locate(ctx context.Context, selector string) (*browser.Element, error) {
	if err := w.g.EnsureClear(ctx); err != nil {
		return nil, err
	}
	return w.d.Locate(ctx, selector)
}

func (w *guarded) ReadText(ctx context.Context, selector string) (string, error) {
	if err := w.g.EnsureClear(ctx); err != nil {
		return "", err
	}
	return w.d.ReadText(ctx, selector)
}

func (w *guarded) Fill(ctx context.Context, selector, value string) (bool, error) {
	if err := w.g.EnsureClear(ctx); err != nil {
		return false, err
	}
	return w.d.Fill(ctx, selector, value)
}

func (w *guarded) Click(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	if err := w.g.EnsureClear(ctx); err != nil {
		return false, err
	}
	return w.d.Click(ctx, selector, timeout)
}

func (w *guarded) ScrollTo(ctx context.Context, target string, dir browser.Direction) error {
	if err := w.g.EnsureClear(ctx); err != nil {
		return err
	}
	return w.d.ScrollTo(ctx, target, dir)
}

func (w *guarded) Evaluate(ctx context.Context, js string, args ...any) (any, error) {
	if err := w.g.EnsureClear(ctx); err != nil {
		return nil, err
	}
	return w.d.Evaluate(ctx, js, args...)
}

func (w *guarded) WaitFor(ctx context.Context, selector string, state browser.WaitState, timeout time.Duration) (bool, error) {
	if err := w.g.EnsureClear(ctx); err != nil {
		return false, err
	}
	return w.d.WaitFor(ctx, selector, state, timeout)
}

func (w *guarded) CurrentURL(ctx context.Context) (string, error) {
	if err := w.g.EnsureClear(ctx); err != nil {
		return "", err
	}
	return w.d.CurrentURL(ctx)
}

func (w *guarded) Screenshot(ctx context.Context, name string) (string, error) {
	if err := w.g.EnsureClear(ctx); err != nil {
		return "", err
	}
	return w.d.Screenshot(ctx, name)
}

func (w *guarded) Reload(ctx context.Context, url string) error {
	if err := w.g.EnsureClear(ctx); err != nil {
		return err
	}
	return w.d.Reload(ctx, url)
}
