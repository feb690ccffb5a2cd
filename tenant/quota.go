package tenant

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TenantQuota defines request limits for a single tenant.
type TenantQuota struct {
	TenantID int64

	// MaxAPIRequestsPerMinute is the sustained request rate.
	MaxAPIRequestsPerMinute int
	// Burst is the number of requests allowed at once. Zero means one
	// minute's worth.
	Burst int
}

// DefaultQuota returns the quota used for tenants without an explicit one.
func DefaultQuota(tenantID int64) TenantQuota {
	return TenantQuota{
		TenantID:                tenantID,
		MaxAPIRequestsPerMinute: 1000,
	}
}

func (q TenantQuota) limiter() *rate.Limiter {
	burst := q.Burst
	if burst <= 0 {
		burst = q.MaxAPIRequestsPerMinute
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(max(q.MaxAPIRequestsPerMinute, 1))), burst)
}

// Limiters unused for QuotaIdleTTL are dropped by the sweeper so the
// registry only holds tenants that are sending traffic.
const (
	QuotaSweepInterval = 5 * time.Minute
	QuotaIdleTTL       = 10 * time.Minute
)

// tenantLimiter is a tenant's quota, its token bucket and the last time it
// was used. explicit marks quotas set through SetQuota, which the sweeper
// keeps.
type tenantLimiter struct {
	quota    TenantQuota
	limiter  *rate.Limiter
	lastSeen time.Time
	explicit bool
}

// QuotaRegistry holds a token-bucket limiter per tenant.
type QuotaRegistry struct {
	mu       sync.Mutex
	entries  map[int64]*tenantLimiter
	fallback func(int64) TenantQuota
	now      func() time.Time

	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewQuotaRegistry creates a new quota registry. Tenants without a quota get
// DefaultQuota.
func NewQuotaRegistry() *QuotaRegistry {
	return &QuotaRegistry{
		entries:  make(map[int64]*tenantLimiter),
		fallback: DefaultQuota,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// SetDefaultRate changes the per-minute rate given to tenants without an
// explicit quota. Limiters already created keep their rate.
func (r *QuotaRegistry) SetDefaultRate(perMinute int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = func(tenantID int64) TenantQuota {
		return TenantQuota{TenantID: tenantID, MaxAPIRequestsPerMinute: perMinute}
	}
}

// SetQuota sets the quota for a tenant and resets its limiter.
func (r *QuotaRegistry) SetQuota(q TenantQuota) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[q.TenantID] = &tenantLimiter{quota: q, limiter: q.limiter(), lastSeen: r.now(), explicit: true}
}

// GetQuota returns the quota in force for a tenant.
func (r *QuotaRegistry) GetQuota(tenantID int64) (TenantQuota, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[tenantID]
	if !ok {
		return TenantQuota{}, false
	}
	return e.quota, true
}

// RemoveQuota removes a tenant's quota and limiter.
func (r *QuotaRegistry) RemoveQuota(tenantID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, tenantID)
}

// Len returns the number of tenants holding a limiter.
func (r *QuotaRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CheckAPIRate consumes one request token for the tenant. Callers pass
// tenants that TenantIsolation has already resolved.
func (r *QuotaRegistry) CheckAPIRate(tenantID int64) error {
	r.mu.Lock()
	e, ok := r.entries[tenantID]
	if !ok {
		q := r.fallback(tenantID)
		e = &tenantLimiter{quota: q, limiter: q.limiter()}
		r.entries[tenantID] = e
	}
	e.lastSeen = r.now()
	lim, q := e.limiter, e.quota
	r.mu.Unlock()

	if !lim.Allow() {
		return fmt.Errorf("tenant %d exceeded API rate limit (%d/min)", tenantID, q.MaxAPIRequestsPerMinute)
	}
	return nil
}

// Sweep drops default-quota limiters not used within idle and returns how
// many were removed. Quotas set with SetQuota are kept.
func (r *QuotaRegistry) Sweep(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-idle)
	removed := 0
	for id, e := range r.entries {
		if !e.explicit && e.lastSeen.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep(idle) every interval until Stop is called. Only
// the first call starts a goroutine.
func (r *QuotaRegistry) StartSweeper(interval, idle time.Duration) {
	r.startOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					r.Sweep(idle)
				case <-r.stopCh:
					return
				}
			}
		}()
	})
}

// Stop ends the sweeper goroutine. It is safe to call multiple times.
func (r *QuotaRegistry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}
