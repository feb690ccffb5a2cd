package tenant

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestQuotaRegistryDefaults(t *testing.T) {
	r := NewQuotaRegistry()
	if _, ok := r.GetQuota(7); ok {
		t.Fatal("expected no quota before first request")
	}
	if err := r.CheckAPIRate(7); err != nil {
		t.Fatalf("first request: %v", err)
	}
	q, ok := r.GetQuota(7)
	if !ok || q.MaxAPIRequestsPerMinute != 1000 {
		t.Errorf("expected default quota, got %+v ok=%v", q, ok)
	}
}

func TestQuotaRegistryBurst(t *testing.T) {
	r := NewQuotaRegistry()
	r.SetQuota(TenantQuota{TenantID: 3, MaxAPIRequestsPerMinute: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		if err := r.CheckAPIRate(3); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := r.CheckAPIRate(3); err == nil {
		t.Fatal("expected rate limit error")
	}

	// Other tenants are unaffected.
	if err := r.CheckAPIRate(4); err != nil {
		t.Errorf("tenant 4: %v", err)
	}
}

func TestQuotaRegistryRemove(t *testing.T) {
	r := NewQuotaRegistry()
	r.SetQuota(TenantQuota{TenantID: 3, MaxAPIRequestsPerMinute: 1, Burst: 1})
	_ = r.CheckAPIRate(3)
	if err := r.CheckAPIRate(3); err == nil {
		t.Fatal("expected rate limit error")
	}

	r.RemoveQuota(3)
	if err := r.CheckAPIRate(3); err != nil {
		t.Errorf("after remove the default quota applies: %v", err)
	}
}

func TestQuotaRegistryDefaultRate(t *testing.T) {
	r := NewQuotaRegistry()
	r.SetDefaultRate(2)

	for i := 0; i < 2; i++ {
		if err := r.CheckAPIRate(8); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := r.CheckAPIRate(8); err == nil {
		t.Fatal("expected rate limit error")
	}
	if q, ok := r.GetQuota(8); !ok || q.MaxAPIRequestsPerMinute != 2 {
		t.Errorf("quota = %+v, %v", q, ok)
	}
}

func TestQuotaRegistrySweepDropsIdleLimiters(t *testing.T) {
	r := NewQuotaRegistry()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.SetQuota(TenantQuota{TenantID: 1, MaxAPIRequestsPerMinute: 5})
	for id := int64(2); id <= 50; id++ {
		if err := r.CheckAPIRate(id); err != nil {
			t.Fatalf("tenant %d: %v", id, err)
		}
	}
	if got := r.Len(); got != 50 {
		t.Fatalf("expected 50 limiters, got %d", got)
	}

	now = now.Add(QuotaIdleTTL / 2)
	_ = r.CheckAPIRate(2)
	if removed := r.Sweep(QuotaIdleTTL); removed != 0 {
		t.Fatalf("nothing is idle yet, removed %d", removed)
	}

	now = now.Add(QuotaIdleTTL/2 + time.Second)
	if removed := r.Sweep(QuotaIdleTTL); removed != 48 {
		t.Errorf("expected 48 idle limiters removed, got %d", removed)
	}
	if got := r.Len(); got != 2 {
		t.Errorf("expected explicit quota and active tenant to remain, got %d", got)
	}
	if q, ok := r.GetQuota(1); !ok || q.MaxAPIRequestsPerMinute != 5 {
		t.Errorf("explicit quota lost: %+v, %v", q, ok)
	}
	if _, ok := r.GetQuota(3); ok {
		t.Error("idle default quota should be gone")
	}
}

func TestQuotaRegistryStartSweeper(t *testing.T) {
	r := NewQuotaRegistry()
	defer r.Stop()
	_ = r.CheckAPIRate(9)

	r.StartSweeper(10*time.Millisecond, time.Nanosecond)
	r.StartSweeper(10*time.Millisecond, time.Nanosecond)
	deadline := time.Now().Add(2 * time.Second)
	for r.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not remove the idle limiter")
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	r.Stop()
}

func TestQuotaEnforcerIgnoresUnknownTenants(t *testing.T) {
	reg := NewQuotaRegistry()
	handler := NewTenantIsolation(activeTenants(4)).Process(NewQuotaEnforcer(reg).Process(echoTenant()))

	for i := range 100 {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Tenant-ID", strconv.Itoa(1000+i))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("tenant %d: expected 404, got %d", 1000+i, rec.Code)
		}
	}
	if got := reg.Len(); got != 0 {
		t.Errorf("unknown tenants must not get limiters, have %d", got)
	}
}
