package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/chatlink/internal/protocol"
	"github.com/danmuck/chatlink/internal/transport"
)

type fakeConn struct {
	mu          sync.Mutex
	handler     transport.Handler
	writes      chan *protocol.Message
	closed      bool
	closeCode   int
	closeReason string

	// lazyClose holds OnClose back until deliverClose, like a socket read
	// loop noticing the close after Close has returned.
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
	c.closeCode = code
	c.closeReason = reason
	h := c.handler
	lazy := c.lazyClose
	c.mu.Unlock()
	if h != nil && !lazy {
		h.OnClose(code, reason)
	}
	return nil
}

// deliverClose reports a held-back close to the handler.
func (c *fakeConn) deliverClose() {
	c.mu.Lock()
	h := c.handler
	code, reason := c.closeCode, c.closeReason
	c.mu.Unlock()
	h.OnClose(code, reason)
}

// serverClose simulates the remote end dropping the connection.
func (c *fakeConn) serverClose(code int, reason string) {
	c.mu.Lock()
	c.closed = true
	h := c.handler
	c.mu.Unlock()
	h.OnClose(code, reason)
}

func (c *fakeConn) push(raw string) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h.OnData([]byte(raw))
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

func (c *fakeConn) assertNoWrite(t *testing.T) {
	t.Helper()
	select {
	case msg := <-c.writes:
		t.Fatalf("unexpected outbound message %s", msg.Pathname())
	default:
	}
}

func (c *fakeConn) reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

type fakeDialer struct {
	mu    sync.Mutex
	conn  *fakeConn
	err   error
	dials int
}

// use points later dials at conn.
func (d *fakeDialer) use(conn *fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = conn
}

func (d *fakeDialer) Dial(_ context.Context, _ string, _ transport.Options, h transport.Handler) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	d.conn.mu.Lock()
	d.conn.handler = h
	d.conn.mu.Unlock()
	return d.conn, nil
}

type fakePrincipal struct {
	mu          sync.Mutex
	id          Identity
	online      bool
	disconnects int
	unverifieds int
}

func newPrincipal() *fakePrincipal {
	return &fakePrincipal{
		id: Identity{
			ID:            7,
			Account:       "alice",
			ServerName:    "main",
			PasswordHash:  MD5Hex("secret"),
			SocketURL:     "ws://chat.test/ws",
			ServerVersion: "2.5.0",
		},
		online: true,
	}
}

func (p *fakePrincipal) Identity() Identity { return p.id }

func (p *fakePrincipal) IsOnline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *fakePrincipal) MarkDisconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects++
	p.online = false
}

func (p *fakePrincipal) MarkUnverified() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unverifieds++
	p.online = false
}

func (p *fakePrincipal) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnects, p.unverifieds
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for result")
	}
	return nil
}
