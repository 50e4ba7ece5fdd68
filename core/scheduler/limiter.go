package scheduler

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/pluginforge/core/pluginapi"
)

// ownerLimiter is a per-owner token bucket admission guard, grounded on
// the teacher's TokenBucketLimiter (control_plane/scheduler/limiter.go),
// narrowed from per-node/per-tenant rate limiting to per-plugin-owner
// admission throttling. Disabled entirely (Allow always true) when the
// scheduler is configured with a zero rate, so it never changes default
// behavior.
type ownerLimiter struct {
	mu       sync.Mutex
	limiters map[pluginapi.OwnerID]*rate.Limiter
	r        rate.Limit
	b        int
	enabled  bool
}

func newOwnerLimiter(ratePerSec float64, burst int) *ownerLimiter {
	return &ownerLimiter{
		limiters: make(map[pluginapi.OwnerID]*rate.Limiter),
		r:        rate.Limit(ratePerSec),
		b:        burst,
		enabled:  ratePerSec > 0,
	}
}

// Allow reports whether owner may submit another task right now. Anonymous
// tasks (spec.md: "unaffected by any cancel(owner_id)") are also exempt
// from per-owner throttling, since they carry no owner.
func (l *ownerLimiter) Allow(owner pluginapi.OwnerID, hasOwner bool) bool {
	if !l.enabled || !hasOwner {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[owner]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[owner] = lim
	}
	return lim.Allow()
}
