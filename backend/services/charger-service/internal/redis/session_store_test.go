package redisstore

import (
	"testing"
	"time"
)

func TestSessionKey(t *testing.T) {
	if got := sessionKey("Garage Outlet"); got != "charger:session:Garage Outlet" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestSessionTTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if got := sessionTTL(now, now.Add(time.Hour)); got != time.Hour+time.Minute {
		t.Fatalf("expected ttl past expiry, got %s", got)
	}
	if got := sessionTTL(now, now.Add(-time.Hour)); got != time.Minute {
		t.Fatalf("expected minimum ttl for expired session, got %s", got)
	}
}
