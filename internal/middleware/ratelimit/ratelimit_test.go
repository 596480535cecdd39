package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestLimiter(t *testing.T, perMinute int) (*Limiter, *clock) {
	t.Helper()
	rl := NewLimiter(Config{RequestsPerMinute: perMinute, CleanupInterval: time.Hour})
	t.Cleanup(rl.Stop)
	c := &clock{t: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	rl.now = c.now
	return rl, c
}

func TestLimiter_Allow(t *testing.T) {
	rl, c := newTestLimiter(t, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d rejected", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("fourth request in the window should be rejected")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("other clients have their own window")
	}

	c.t = c.t.Add(40 * time.Second)
	if got := rl.RetryAfter("1.2.3.4"); got != 20 {
		t.Errorf("RetryAfter = %d, want 20", got)
	}
	if rl.Allow("1.2.3.4") {
		t.Error("window must not slide on rejected requests")
	}

	c.t = c.t.Add(20 * time.Second)
	if !rl.Allow("1.2.3.4") {
		t.Error("new window should allow requests")
	}

	m := rl.GetMetrics()
	if m.RejectedRequests != 2 || m.ClientCount != 2 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	rl, c := newTestLimiter(t, 10)
	rl.Allow("a")
	c.t = c.t.Add(5 * time.Minute)
	rl.Allow("b")
	c.t = c.t.Add(6 * time.Minute)

	if n := rl.cleanupStaleEntries(); n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if got := rl.GetMetrics().ClientCount; got != 1 {
		t.Errorf("clients = %d, want 1", got)
	}
	rl.Stop()
	rl.Stop()
}

func TestLimiter_Middleware(t *testing.T) {
	rl, _ := newTestLimiter(t, 1)
	key := func(r *http.Request) string { return r.RemoteAddr }
	h := rl.Middleware(key, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		want   int
		header string
	}{
		{"first passes", http.StatusNoContent, ""},
		{"second limited", http.StatusTooManyRequests, "60"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/cards", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.header {
				t.Errorf("Retry-After = %q, want %q", got, tt.header)
			}
		})
	}
}
