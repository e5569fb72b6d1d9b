package browser

import (
	"context"
	"errors"
	"time"
)

// ErrConnection — страница недоступна. Единственная ошибка драйвера, которую
// отдаём наверх: для аккаунта это фатально.
var ErrConnection = errors.New("browser connection lost")

type Direction string

const (
	ScrollTop    Direction = "top"
	ScrollBottom Direction = "bottom"
	ScrollLeft   Direction = "left"
	ScrollRight  Direction = "right"
)

type WaitState string

const (
	StateAttached WaitState = "attached"
	StateDetached WaitState = "detached"
	StateVisible  WaitState = "visible"
	StateHidden   WaitState = "hidden"
)

// Element — что удалось узнать про найденный элемент.
type Element struct {
	Selector string
	Tag      string
	Text     string
	Visible  bool
}

// UIDriver — узкий интерфейс над удалённой страницей.
// Все вызовы best-effort: при неудаче пустой результат, ошибка только ErrConnection
// (или отмена контекста).
type UIDriver interface {
	Locate(ctx context.Context, selector string) (*Element, error)
	ReadText(ctx context.Context, selector string) (string, error)
	Fill(ctx context.Context, selector, value string) (bool, error)
	Click(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	ScrollTo(ctx context.Context, target string, dir Direction) error
	Evaluate(ctx context.Context, js string, args ...any) (any, error)
	WaitFor(ctx context.Context, selector string, state WaitState, timeout time.Duration) (bool, error)
	CurrentURL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, name string) (string, error)
	Reload(ctx context.Context, url string) error
}

// Overlay — окно верификации: один предикат присутствия и одно поле для кода.
type Overlay interface {
	Present(ctx context.Context) (bool, error)
	EnterCode(ctx context.Context, code string) (bool, error)
}

// IsFatal — ошибка, после которой аккаунт дальше не работает.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConnection)
}
