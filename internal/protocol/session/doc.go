// Package session owns the client side of one chat server connection.
//
// Ownership boundary:
// - connection state machine and login handshake
// - request correlation with deadlines
// - inbound ordering during login
// - keepalive and graceful logout
// - retry/backoff primitives
package session
