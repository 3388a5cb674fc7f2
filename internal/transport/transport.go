// Package transport carries raw socket payloads for the session. The session
// owns framing and state; a transport only moves bytes and reports closes.
package transport

import (
	"context"
	"net/http"
	"time"
)

// Standard close codes.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// Options configure one dial.
type Options struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
}

// Handler receives inbound payloads and the final close notification for a
// connection. OnData calls for one connection never overlap. OnClose is
// called exactly once, after the last OnData.
type Handler interface {
	OnData(raw []byte)
	OnClose(code int, reason string)
}

// Conn is an established connection.
type Conn interface {
	// Write returns once the payload has been handed to the network.
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string, opts Options, h Handler) (Conn, error)
}
