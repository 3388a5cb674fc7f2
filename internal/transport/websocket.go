package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/chatlink/internal/logging"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var ErrConnClosed = errors.New("transport: connection closed")

const closeWriteWait = time.Second

// WebSocketDialer dials text-frame WebSocket connections.
type WebSocketDialer struct {
	log zerolog.Logger
}

func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{log: logging.Component("transport")}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string, opts Options, h Handler) (Conn, error) {
	if h == nil {
		return nil, errors.New("transport: nil handler")
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	c := &wsConn{
		ws:           ws,
		handler:      h,
		writeTimeout: opts.WriteTimeout,
		done:         make(chan struct{}),
		log:          d.log.With().Str("url", url).Logger(),
	}
	go c.readLoop()
	d.log.Debug().Str("url", url).Msg("websocket connected")
	return c, nil
}

type wsConn struct {
	ws           *websocket.Conn
	handler      Handler
	writeTimeout time.Duration
	log          zerolog.Logger

	writeMu sync.Mutex

	mu          sync.Mutex
	closing     bool
	localCode   int
	localReason string

	done chan struct{}
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	var deadline time.Time
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.localCode = code
	c.localReason = reason
	c.mu.Unlock()

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	c.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.log.Debug().Err(err).Msg("close frame not sent")
	}
	return c.ws.Close()
}

// Done is closed when the read loop has exited.
func (c *wsConn) Done() <-chan struct{} {
	return c.done
}

func (c *wsConn) readLoop() {
	defer close(c.done)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			code, reason := c.closeStatus(err)
			_ = c.ws.Close()
			c.log.Debug().Int("code", code).Str("reason", reason).Msg("websocket closed")
			c.handler.OnClose(code, reason)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		c.handler.OnData(data)
	}
}

func (c *wsConn) closeStatus(err error) (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return c.localCode, c.localReason
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return CloseAbnormal, err.Error()
}
