package cache

import (
	"testing"
	"time"
)

func TestNewEntry(t *testing.T) {
	before := time.Now()
	entry := NewEntry([]byte(`{"type":"Feature Layer"}`), 10*time.Minute)

	if string(entry.Data) != `{"type":"Feature Layer"}` {
		t.Errorf("Data = %s", entry.Data)
	}
	if entry.CachedAt.Before(before) {
		t.Errorf("CachedAt %v before construction time %v", entry.CachedAt, before)
	}
	if got := entry.Expires.Sub(entry.CachedAt); got != 10*time.Minute {
		t.Errorf("Expires - CachedAt = %v, want 10m", got)
	}
	if entry.IsExpired() {
		t.Error("fresh entry reported as expired")
	}
}

func TestCacheEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{"expired an hour ago", time.Now().Add(-time.Hour), true},
		{"valid for an hour", time.Now().Add(time.Hour), false},
		{"just expired", time.Now().Add(-time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &CacheEntry{Expires: tt.expires}
			if got := entry.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheEntry_TTL(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		wantMin time.Duration
		wantMax time.Duration
	}{
		{"one hour remaining", time.Hour, 59 * time.Minute, time.Hour},
		{"already expired", -time.Hour, 0, 0},
		{"zero ttl", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewEntry(nil, tt.ttl).TTL()
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("TTL() = %v, want between %v and %v", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}
