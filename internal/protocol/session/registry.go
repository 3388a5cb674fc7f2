package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/chatlink/internal/clock"
	"github.com/danmuck/chatlink/internal/observability"
	"github.com/danmuck/chatlink/internal/protocol"
)

// CheckFunc maps a reply result to the value a request resolves with. ok
// false rejects the request.
type CheckFunc func(result any) (value any, ok bool)

// Outcome is the settled value of a pending request.
type Outcome struct {
	Value any
	Err   error
}

// PendingRequest tracks one request awaiting its reply.
type PendingRequest struct {
	Module     string
	Method     string
	RID        string
	CreatedAt  time.Time
	DeadlineAt time.Time

	id    uint64
	check CheckFunc
	timer *clock.Timer
	done  chan Outcome
	reg   *Registry
}

// Pathname is the lowercased module/method the request listens for.
func (p *PendingRequest) Pathname() string {
	return protocol.Pathname(p.Module, p.Method)
}

// Done delivers the outcome exactly once.
func (p *PendingRequest) Done() <-chan Outcome {
	return p.done
}

// Wait blocks for the outcome. Canceling ctx settles the request with the
// context error.
func (p *PendingRequest) Wait(ctx context.Context) (any, error) {
	select {
	case out := <-p.done:
		return out.Value, out.Err
	case <-ctx.Done():
		p.reg.Cancel(p, ctx.Err())
		out := <-p.done
		return out.Value, out.Err
	}
}

func (p *PendingRequest) matches(msg *protocol.Message) bool {
	if !strings.EqualFold(p.Module, msg.Module) || !strings.EqualFold(p.Method, msg.Method) {
		return false
	}
	return p.RID == "" || msg.RID == "" || msg.RID == p.RID
}

// PendingInfo is a read-only view of a pending request.
type PendingInfo struct {
	Pathname   string    `json:"pathname"`
	RID        string    `json:"rid,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	DeadlineAt time.Time `json:"deadline_at"`
}

// Registry correlates outbound requests with inbound replies. Each pending
// request settles exactly once: resolved, rejected, timed out or canceled.
type Registry struct {
	mu      sync.Mutex
	clock   clock.Clock
	timeout time.Duration
	next    uint64
	items   []*PendingRequest
}

func NewRegistry(c clock.Clock, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultConfig().RequestTimeout
	}
	return &Registry{
		clock:   clock.OrReal(c),
		timeout: timeout,
	}
}

// Listen registers interest in module/method replies. An empty rid matches
// any reply for the pathname. A non-positive timeout uses the registry
// default.
func (r *Registry) Listen(module, method, rid string, timeout time.Duration, check CheckFunc) *PendingRequest {
	if timeout <= 0 {
		timeout = r.timeout
	}
	now := r.clock.Now()
	p := &PendingRequest{
		Module:     module,
		Method:     method,
		RID:        strings.TrimSpace(rid),
		CreatedAt:  now,
		DeadlineAt: now.Add(timeout),
		check:      check,
		done:       make(chan Outcome, 1),
		reg:        r,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	p.id = r.next
	r.items = append(r.items, p)
	p.timer = r.clock.AfterFunc(timeout, func() {
		if r.take(p) {
			err := fmt.Errorf("%w: %s rid=%q after %s", ErrTimeout, p.Pathname(), p.RID, timeout)
			r.settle(p, Outcome{Err: err}, "timeout")
		}
	})
	return p
}

// Match settles every pending request the message answers and returns how
// many were settled.
func (r *Registry) Match(msg *protocol.Message, result any) int {
	if msg == nil {
		return 0
	}
	r.mu.Lock()
	var matched []*PendingRequest
	kept := r.items[:0]
	for _, p := range r.items {
		if p.matches(msg) {
			matched = append(matched, p)
			continue
		}
		kept = append(kept, p)
	}
	clearTail(r.items, len(kept))
	r.items = kept
	r.mu.Unlock()

	for _, p := range matched {
		value, ok := result, truthy(result)
		if p.check != nil {
			value, ok = p.check(result)
		}
		if ok {
			r.settle(p, Outcome{Value: value}, "resolved")
			continue
		}
		err := fmt.Errorf("%w: %s", ErrRequestRejected, p.Pathname())
		r.settle(p, Outcome{Value: value, Err: err}, "rejected")
	}
	return len(matched)
}

// Cancel settles p with err if it is still pending.
func (r *Registry) Cancel(p *PendingRequest, err error) bool {
	if p == nil || !r.take(p) {
		return false
	}
	r.settle(p, Outcome{Err: err}, "canceled")
	return true
}

// RejectAll settles every pending request with err.
func (r *Registry) RejectAll(err error) int {
	r.mu.Lock()
	items := r.items
	r.items = nil
	r.mu.Unlock()
	for _, p := range items {
		r.settle(p, Outcome{Err: err}, "disconnect")
	}
	return len(items)
}

// Len reports the number of pending requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// List returns pending requests in registration order.
func (r *Registry) List() []PendingInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingInfo, 0, len(r.items))
	for _, p := range r.items {
		out = append(out, PendingInfo{
			Pathname:   p.Pathname(),
			RID:        p.RID,
			CreatedAt:  p.CreatedAt,
			DeadlineAt: p.DeadlineAt,
		})
	}
	return out
}

func (r *Registry) take(p *PendingRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, candidate := range r.items {
		if candidate == p {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return true
		}
	}
	return false
}

// settle runs once per request: callers remove p from items first.
func (r *Registry) settle(p *PendingRequest, out Outcome, outcome string) {
	p.timer.Stop()
	p.done <- out
	observability.RecordRequestSettled(p.Pathname(), outcome)
}

func clearTail(items []*PendingRequest, from int) {
	for i := from; i < len(items); i++ {
		items[i] = nil
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	default:
		return true
	}
}
