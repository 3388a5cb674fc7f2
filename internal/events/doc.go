// Package events provides the in-process publish/subscribe bus shared by the
// session, dispatch table, notice engine and client, plus the trailing-edge
// debouncer used for merged data-change and notice triggers.
package events
