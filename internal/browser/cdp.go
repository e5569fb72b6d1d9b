package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

type cdpRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cdpResponse struct {
	ID     int64           `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
}

// conn — одно websocket-соединение с таргетом DevTools.
// Запросы мультиплексируются по id, ответы раздаёт readLoop.
type conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan cdpResponse

	done    chan struct{}
	doneErr error
}

func dial(ctx context.Context, wsURL string) (*conn, error) {
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := d.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrConnection, "dial %s: %v", wsURL, err)
	}
	c := &conn{
		ws:      ws,
		pending: make(map[int64]chan cdpResponse),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *conn) readLoop() {
	var err error
	defer func() {
		c.mu.Lock()
		c.doneErr = err
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		var data []byte
		_, data, err = c.ws.ReadMessage()
		if err != nil {
			return
		}
		var resp cdpResponse
		if uerr := sonic.Unmarshal(data, &resp); uerr != nil {
			continue
		}
		// события (без id) нам не нужны
		if resp.ID == 0 {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// call шлёт метод и ждёт ответ. Обрыв сокета -> ErrConnection,
// таймаут контекста -> ctx.Err().
func (c *conn) call(ctx context.Context, method string, params any, out any) error {
	select {
	case <-c.done:
		return errors.Wrapf(ErrConnection, "%s: socket closed: %v", method, c.doneErr)
	default:
	}

	id := c.nextID.Add(1)
	ch := make(chan cdpResponse, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := sonic.Marshal(cdpRequest{ID: id, Method: method, Params: params})
	if err != nil {
		c.forget(id)
		return errors.Wrap(err, "marshal cdp request")
	}

	c.writeMu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(dl)
	}
	err = c.ws.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return errors.Wrapf(ErrConnection, "%s: write: %v", method, err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return errors.Wrapf(ErrConnection, "%s: socket closed", method)
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: cdp error %d: %s", method, resp.Error.Code, resp.Error.Message)
		}
		if out != nil && len(resp.Result) > 0 {
			if err := sonic.Unmarshal(resp.Result, out); err != nil {
				return errors.Wrapf(err, "%s: decode result", method)
			}
		}
		return nil
	}
}

func (c *conn) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *conn) close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
