package im

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/chatlink/internal/clock"
	"github.com/danmuck/chatlink/internal/protocol"
	"github.com/danmuck/chatlink/internal/protocol/session"
	"github.com/danmuck/chatlink/internal/testutil/testlog"
	"github.com/danmuck/chatlink/internal/transport"
)

var epoch = time.Unix(1700000000, 0)

type fakeConn struct {
	mu      sync.Mutex
	handler transport.Handler
	writes  chan *protocol.Message
	closed  bool
	code    int
	reason  string

	// lazyClose holds OnClose back until deliverClose.
	lazyClose bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{writes: make(chan *protocol.Message, 64)}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("fake: closed")
	}
	for _, msg := range protocol.Decode(data) {
		c.writes <- msg
	}
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.code = code
	c.reason = reason
	h := c.handler
	lazy := c.lazyClose
	c.mu.Unlock()
	if h != nil && !lazy {
		h.OnClose(code, reason)
	}
	return nil
}

func (c *fakeConn) deliverClose() {
	c.mu.Lock()
	h := c.handler
	code, reason := c.code, c.reason
	c.mu.Unlock()
	h.OnClose(code, reason)
}

func (c *fakeConn) serverClose(code int, reason string) {
	c.mu.Lock()
	c.closed = true
	h := c.handler
	c.mu.Unlock()
	h.OnClose(code, reason)
}

func (c *fakeConn) push(format string, args ...any) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h.OnData([]byte(fmt.Sprintf(format, args...)))
}

func (c *fakeConn) next(t *testing.T) *protocol.Message {
	t.Helper()
	select {
	case msg := <-c.writes:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for outbound message")
	}
	return nil
}

// nextPath skips outbound messages until one with pathname arrives.
func (c *fakeConn) nextPath(t *testing.T, pathname string) *protocol.Message {
	t.Helper()
	for {
		msg := c.next(t)
		if msg.Pathname() == pathname {
			return msg
		}
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(_ context.Context, _ string, _ transport.Options, h transport.Handler) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	idx := d.dials - 1
	if idx >= len(d.conns) {
		return nil, errors.New("fake: refused")
	}
	conn := d.conns[idx]
	conn.mu.Lock()
	conn.handler = h
	conn.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type harness struct {
	clock  *clock.Fake
	conns  []*fakeConn
	dialer *fakeDialer
	client *Client
	user   *User
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	testlog.Start(t)
	h := &harness{clock: clock.NewFake(epoch)}
	for i := 0; i < 3; i++ {
		h.conns = append(h.conns, newFakeConn())
	}
	h.dialer = &fakeDialer{conns: h.conns}
	opts := Options{
		Session: session.Config{
			Backoff: session.BackoffConfig{InitialDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute},
		},
		Clock:  h.clock,
		Dialer: h.dialer,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.client = NewClient(opts)
	h.user = NewUser(session.Identity{
		Account:       "alice",
		ServerName:    "main",
		SocketURL:     "ws://chat.test/ws",
		ServerVersion: "2.5.0",
	}, "secret")
	t.Cleanup(h.client.Close)
	return h
}

func (h *harness) conn() *fakeConn {
	return h.conns[h.dialer.count()-1]
}

// handshake answers a login on conn: user list first, then the echo.
func (h *harness) handshake(t *testing.T, conn *fakeConn, errCh <-chan error) {
	t.Helper()
	login := conn.nextPath(t, "chat/login")
	conn.push(`{"module":"chat","method":"usergetlist","result":"success","data":[{"id":7,"account":"alice","realname":"Alice"},{"id":8,"account":"bob","realname":"Bob","status":"online"}],"roles":{"dev":"Developer"}}`)
	conn.push(`{"module":"chat","method":"login","rid":%q,"result":"success","data":{"id":7,"account":"alice","realname":"Alice","status":"online"}}`, login.RID)
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("login: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("login did not return")
	}
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Login(context.Background(), h.user) }()
	h.handshake(t, h.conns[0], errCh)
}
