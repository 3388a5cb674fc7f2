// Package im is the chat client context. A Client owns one event bus, one
// dispatch table, one session, one conversation cache ledger and one notice
// engine, and registers the server push handlers that keep the signed-in
// user, the member roster and the conversation list current.
package im
