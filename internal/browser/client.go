package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Options struct {
	Host            string // по умолчанию 127.0.0.1
	Port            int
	TargetURL       string        // какую вкладку предпочесть
	PageTimeout     time.Duration // таймаут одного вызова
	ConnectAttempts int
	ConnectDelay    time.Duration
	ScreenshotDir   string
	Selectors       Selectors
}

type target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// CDP — UIDriver поверх Chrome DevTools Protocol (Chrome с --remote-debugging-port).
type CDP struct {
	opts Options
	log  *zap.Logger
	http *http.Client

	mu      sync.Mutex
	c       *conn
	pageURL string
}

var (
	_ UIDriver = (*CDP)(nil)
	_ Overlay  = (*CDP)(nil)
)

func NewCDP(opts Options, log *zap.Logger) *CDP {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 5 * time.Second
	}
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 1
	}
	if opts.ScreenshotDir == "" {
		opts.ScreenshotDir = "screenshots"
	}
	return &CDP{
		opts: opts,
		log:  log.Named("cdp"),
		http: &http.Client{Timeout: 3 * time.Second},
	}
}

// Connect ищет вкладку и поднимает websocket. Несколько попыток — браузер может
// ещё открывать страницу.
func (b *CDP) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= b.opts.ConnectAttempts; attempt++ {
		t, err := b.pickTarget(ctx)
		if err == nil {
			c, derr := dial(ctx, t.WebSocketDebuggerURL)
			if derr == nil {
				b.mu.Lock()
				b.c = c
				b.pageURL = t.URL
				b.mu.Unlock()
				b.log.Info("[CDP] подключились к вкладке", zap.String("url", t.URL))
				if strings.Contains(t.URL, "accounts.") {
					b.log.Warn("[CDP] вкладка похожа на страницу безопасности аккаунта, торговля может не работать")
				}
				return nil
			}
			err = derr
		}
		lastErr = err
		b.log.Warn("[CDP] нет подходящей вкладки",
			zap.Int("attempt", attempt), zap.Int("of", b.opts.ConnectAttempts), zap.Error(err))

		if attempt < b.opts.ConnectAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.opts.ConnectDelay):
			}
		}
	}
	return lastErr
}

func (b *CDP) Close() error {
	b.mu.Lock()
	c := b.c
	b.c = nil
	b.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.close()
}

func (b *CDP) pickTarget(ctx context.Context) (*target, error) {
	url := fmt.Sprintf("http://%s:%d/json/list", b.opts.Host, b.opts.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build targets request")
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrConnection, "devtools %s: %v", url, err)
	}
	defer resp.Body.Close()

	var targets []target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, errors.Wrap(err, "decode targets")
	}

	t := chooseTarget(targets, b.opts.TargetURL)
	if t == nil {
		return nil, errors.Wrap(ErrConnection, "no page targets")
	}
	return t, nil
}

// chooseTarget: сначала вкладка с TargetURL, потом торговая, потом любая не-devtools
// и не страница безопасности, в крайнем случае последняя страница.
func chooseTarget(targets []target, hint string) *target {
	var pages []target
	for _, t := range targets {
		if t.Type != "page" || t.WebSocketDebuggerURL == "" || strings.HasPrefix(t.URL, "devtools://") {
			continue
		}
		pages = append(pages, t)
	}
	if len(pages) == 0 {
		return nil
	}
	if hint != "" {
		for i := range pages {
			if strings.Contains(pages[i].URL, hint) {
				return &pages[i]
			}
		}
	}
	for i := range pages {
		if strings.Contains(pages[i].URL, "/trade") || strings.Contains(pages[i].URL, "spot") {
			return &pages[i]
		}
	}
	for i := range pages {
		if !strings.Contains(pages[i].URL, "accounts.") {
			return &pages[i]
		}
	}
	return &pages[len(pages)-1]
}

func (b *CDP) conn() (*conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.c == nil {
		return nil, errors.Wrap(ErrConnection, "not connected")
	}
	return b.c, nil
}

// call — один CDP-вызов с таймаутом страницы.
func (b *CDP) call(ctx context.Context, method string, params any, out any) error {
	c, err := b.conn()
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, b.opts.PageTimeout)
	defer cancel()
	return c.call(cctx, method, params, out)
}

type evalResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails"`
}

func buildExpression(fn string, args ...any) (string, error) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		s, err := sonic.MarshalString(a)
		if err != nil {
			return "", errors.Wrap(err, "marshal js arg")
		}
		parts = append(parts, s)
	}
	return "(" + fn + ")(" + strings.Join(parts, ", ") + ")", nil
}

func (b *CDP) eval(ctx context.Context, fn string, args ...any) (json.RawMessage, error) {
	expr, err := buildExpression(fn, args...)
	if err != nil {
		return nil, err
	}
	var res evalResult
	err = b.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
		"awaitPromise":  true,
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.ExceptionDetails != nil {
		return nil, fmt.Errorf("js exception: %s", res.ExceptionDetails.Text)
	}
	return res.Result.Value, nil
}

// soft гасит не-фатальные ошибки: драйвер best-effort.
func (b *CDP) soft(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsFatal(err) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	b.log.Debug("[CDP] операция не удалась", zap.String("op", op), zap.Error(err))
	return nil
}

func (b *CDP) Evaluate(ctx context.Context, js string, args ...any) (any, error) {
	raw, err := b.eval(ctx, js, args...)
	if err != nil {
		return nil, b.soft(ctx, "evaluate", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return nil, nil
	}
	return v, nil
}

func (b *CDP) Locate(ctx context.Context, selector string) (*Element, error) {
	raw, err := b.eval(ctx, jsLocate, selector)
	if err != nil {
		return nil, b.soft(ctx, "locate", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var el struct {
		Tag     string `json:"tag"`
		Text    string `json:"text"`
		Visible bool   `json:"visible"`
	}
	if err := sonic.Unmarshal(raw, &el); err != nil {
		return nil, nil
	}
	return &Element{Selector: selector, Tag: el.Tag, Text: el.Text, Visible: el.Visible}, nil
}

func (b *CDP) ReadText(ctx context.Context, selector string) (string, error) {
	el, err := b.Locate(ctx, selector)
	if err != nil || el == nil {
		return "", err
	}
	return strings.TrimSpace(el.Text), nil
}

func (b *CDP) boolEval(ctx context.Context, op, js string, args ...any) (bool, error) {
	raw, err := b.eval(ctx, js, args...)
	if err != nil {
		return false, b.soft(ctx, op, err)
	}
	return string(raw) == "true", nil
}

func (b *CDP) Fill(ctx context.Context, selector, value string) (bool, error) {
	return b.boolEval(ctx, "fill", jsFill, selector, value)
}

// Click ждёт кликабельный элемент до timeout.
func (b *CDP) Click(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := b.boolEval(ctx, "click", jsClick, selector)
		if err != nil || ok {
			return ok, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (b *CDP) ScrollTo(ctx context.Context, target string, dir Direction) error {
	_, err := b.boolEval(ctx, "scroll", jsScroll, target, string(dir))
	return err
}

func (b *CDP) WaitFor(ctx context.Context, selector string, state WaitState, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		el, err := b.Locate(ctx, selector)
		if err != nil {
			return false, err
		}
		var ok bool
		switch state {
		case StateAttached:
			ok = el != nil
		case StateDetached:
			ok = el == nil
		case StateHidden:
			ok = el == nil || !el.Visible
		default:
			ok = el != nil && el.Visible
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (b *CDP) CurrentURL(ctx context.Context) (string, error) {
	raw, err := b.eval(ctx, "() => location.href")
	if err != nil {
		b.mu.Lock()
		last := b.pageURL
		b.mu.Unlock()
		return last, b.soft(ctx, "url", err)
	}
	var u string
	_ = sonic.Unmarshal(raw, &u)
	if u != "" {
		b.mu.Lock()
		b.pageURL = u
		b.mu.Unlock()
	}
	return u, nil
}

func (b *CDP) Screenshot(ctx context.Context, name string) (string, error) {
	var res struct {
		Data string `json:"data"`
	}
	if err := b.call(ctx, "Page.captureScreenshot", map[string]any{"format": "png"}, &res); err != nil {
		return "", b.soft(ctx, "screenshot", err)
	}
	img, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return "", b.soft(ctx, "screenshot", err)
	}
	if err := os.MkdirAll(b.opts.ScreenshotDir, 0o755); err != nil {
		return "", b.soft(ctx, "screenshot", err)
	}
	path := filepath.Join(b.opts.ScreenshotDir, fmt.Sprintf("%s_%s.png", name, time.Now().Format("20060102_150405")))
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", b.soft(ctx, "screenshot", err)
	}
	return path, nil
}

// Reload: если вкладка ушла с нужного адреса — переходим, иначе просто перезагружаем.
func (b *CDP) Reload(ctx context.Context, url string) error {
	cur, err := b.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if url != "" && cur != url {
		b.log.Info("[CDP] переход", zap.String("url", url))
		return b.soft(ctx, "navigate", b.call(ctx, "Page.navigate", map[string]any{"url": url}, nil))
	}
	return b.soft(ctx, "reload", b.call(ctx, "Page.reload", map[string]any{"ignoreCache": false}, nil))
}

func (b *CDP) Present(ctx context.Context) (bool, error) {
	raw, err := b.eval(ctx, jsOverlayPresent, b.opts.Selectors.OverlayHost, b.opts.Selectors.OverlayMarker)
	if err != nil {
		return false, err
	}
	return string(raw) == "true", nil
}

func (b *CDP) EnterCode(ctx context.Context, code string) (bool, error) {
	ok, err := b.boolEval(ctx, "overlay-focus", jsOverlayFocus, b.opts.Selectors.OverlayHost, b.opts.Selectors.OverlayInput)
	if err != nil || !ok {
		return false, err
	}
	if err := b.call(ctx, "Input.insertText", map[string]any{"text": code}, nil); err != nil {
		return false, b.soft(ctx, "insert-text", err)
	}
	return true, nil
}
