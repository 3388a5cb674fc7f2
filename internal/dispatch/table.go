// Package dispatch routes inbound messages to handlers by pathname and
// broadcasts each outcome on the event bus.
package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/chatlink/internal/events"
	"github.com/danmuck/chatlink/internal/logging"
	"github.com/danmuck/chatlink/internal/protocol"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidPathname = errors.New("dispatch: invalid pathname")
	ErrInvalidRoute    = errors.New("dispatch: route needs a handler or alias")
	ErrAliasCycle      = errors.New("dispatch: alias cycle")
)

// HandlerFunc processes one inbound message. A nil return means "no value";
// the dispatcher substitutes the message success flag.
type HandlerFunc func(msg *protocol.Message) any

// Route is either a handler or an alias to another pathname.
type Route struct {
	handler HandlerFunc
	alias   string
}

// Handle wraps fn as a route.
func Handle(fn HandlerFunc) Route {
	return Route{handler: fn}
}

// AliasTo routes to whatever target resolves to.
func AliasTo(target string) Route {
	return Route{alias: normalize(target)}
}

func (r Route) IsAlias() bool { return r.alias != "" }

// Target returns the alias target, or "" for handler routes.
func (r Route) Target() string { return r.alias }

func (r Route) valid() bool { return r.handler != nil || r.alias != "" }

// Inbound is the payload of events.EventInbound.
type Inbound struct {
	Message *protocol.Message
	Result  any
}

// Table maps pathnames to routes. Registration rejects alias cycles, so
// resolution always terminates.
type Table struct {
	mu     sync.RWMutex
	routes map[string]Route
	bus    *events.Bus
	log    zerolog.Logger
}

// NewTable returns an empty table that publishes results on bus.
func NewTable(bus *events.Bus) *Table {
	return &Table{
		routes: make(map[string]Route),
		bus:    bus,
		log:    logging.Component("dispatch"),
	}
}

// Register adds or replaces one route.
func (t *Table) Register(pathname string, route Route) error {
	return t.RegisterAll(map[string]Route{pathname: route})
}

// RegisterAll adds or replaces a batch of routes. The batch is applied only
// if every route is valid and no alias cycle results.
func (t *Table) RegisterAll(routes map[string]Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]Route, len(t.routes)+len(routes))
	for k, v := range t.routes {
		next[k] = v
	}
	for raw, route := range routes {
		key := normalize(raw)
		if key == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPathname, raw)
		}
		if !route.valid() {
			return fmt.Errorf("%w: %s", ErrInvalidRoute, key)
		}
		next[key] = route
	}
	for raw, route := range routes {
		if !route.IsAlias() {
			continue
		}
		if err := checkCycle(next, normalize(raw)); err != nil {
			return err
		}
	}
	t.routes = next
	return nil
}

// HandleFunc registers fn for pathname.
func (t *Table) HandleFunc(pathname string, fn HandlerFunc) error {
	return t.Register(pathname, Handle(fn))
}

// Alias registers pathname as an alias of target.
func (t *Table) Alias(pathname, target string) error {
	return t.Register(pathname, AliasTo(target))
}

// Remove deletes a route. Aliases pointing at it become dead ends.
func (t *Table) Remove(pathname string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, normalize(pathname))
}

// Route returns the raw route stored for pathname.
func (t *Table) Route(pathname string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[normalize(pathname)]
	return r, ok
}

// Resolve follows aliases from pathname. found reports whether pathname has
// any route; handler is nil when the alias chain ends at a missing route.
func (t *Table) Resolve(pathname string) (handler HandlerFunc, found bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key := normalize(pathname)
	route, ok := t.routes[key]
	if !ok {
		return nil, false
	}
	for hops := 0; route.IsAlias(); hops++ {
		if hops > len(t.routes) {
			return nil, true
		}
		route, ok = t.routes[route.alias]
		if !ok {
			return nil, true
		}
	}
	return route.handler, true
}

// Dispatch runs the handler for msg and emits the result as
// events.EventInbound. With no route the result is the message data; a
// handler returning nil (or a dead alias) yields the success flag.
func (t *Table) Dispatch(msg *protocol.Message) any {
	if msg == nil {
		return nil
	}
	handler, found := t.Resolve(msg.Pathname())
	var result any
	switch {
	case !found:
		result = msg.DataValue()
	case handler != nil:
		result = t.invoke(handler, msg)
	}
	if result == nil {
		result = msg.IsSuccess()
	}
	if t.bus != nil {
		t.bus.Emit(events.EventInbound, Inbound{Message: msg, Result: result})
	}
	return result
}

func (t *Table) invoke(handler HandlerFunc, msg *protocol.Message) (result any) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().
				Str("pathname", msg.Pathname()).
				Interface("panic", r).
				Msg("handler panicked")
			result = false
		}
	}()
	return handler(msg)
}

func checkCycle(routes map[string]Route, start string) error {
	seen := map[string]bool{start: true}
	path := []string{start}
	cur := routes[start]
	for cur.IsAlias() {
		if seen[cur.alias] {
			path = append(path, cur.alias)
			return fmt.Errorf("%w: %s", ErrAliasCycle, strings.Join(path, " -> "))
		}
		seen[cur.alias] = true
		path = append(path, cur.alias)
		next, ok := routes[cur.alias]
		if !ok {
			return nil
		}
		cur = next
	}
	return nil
}

func normalize(pathname string) string {
	return strings.ToLower(strings.TrimSpace(pathname))
}
