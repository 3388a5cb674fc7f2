package session

import (
	"time"

	"github.com/danmuck/chatlink/internal/clock"
	"github.com/jellydator/ttlcache/v3"
)

// LatencyTracker remembers when correlated requests were sent so reply
// round-trip time can be reported. A reply arriving TTL or more after its
// send, measured on the injected clock, is not reported. The cache's own
// eviction runs on the wall clock and only bounds memory for requests that
// never get a reply.
type LatencyTracker struct {
	clock clock.Clock
	ttl   time.Duration
	cache *ttlcache.Cache[string, time.Time]
}

func NewLatencyTracker(c clock.Clock, ttl time.Duration) *LatencyTracker {
	cache := ttlcache.New[string, time.Time](
		ttlcache.WithTTL[string, time.Time](ttl),
		ttlcache.WithDisableTouchOnHit[string, time.Time](),
	)
	return &LatencyTracker{clock: clock.OrReal(c), ttl: ttl, cache: cache}
}

// Sent records the send time for rid.
func (t *LatencyTracker) Sent(rid string) {
	if rid == "" {
		return
	}
	t.cache.DeleteExpired()
	t.cache.Set(rid, t.clock.Now(), ttlcache.DefaultTTL)
}

// Received returns the round-trip time for rid and forgets it.
func (t *LatencyTracker) Received(rid string) (time.Duration, bool) {
	if rid == "" {
		return 0, false
	}
	item := t.cache.Get(rid)
	if item == nil {
		return 0, false
	}
	t.cache.Delete(rid)
	rtt := t.clock.Now().Sub(item.Value())
	if t.ttl > 0 && rtt >= t.ttl {
		return 0, false
	}
	return rtt, true
}

// Len reports tracked requests.
func (t *LatencyTracker) Len() int {
	return t.cache.Len()
}
