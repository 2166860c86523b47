package locate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ampease/backend/services/charger-service/internal/apperrors"
	"ampease/backend/services/charger-service/internal/clients"
)

func TestLocate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json/203.0.113.7":
			_, _ = w.Write([]byte(`{"status":"success","lat":45.52,"lon":-122.68}`))
		default:
			_, _ = w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
		}
	}))
	defer srv.Close()

	locator := NewIPLocator(srv.URL, clients.NewDefaultHTTPClient(time.Second))

	loc, err := locator.Locate(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if loc.Lat != 45.52 || loc.Lon != -122.68 {
		t.Fatalf("unexpected coordinates %+v", loc)
	}

	if _, err := locator.Locate(context.Background(), "10.0.0.1"); !errors.Is(err, ErrNotLocated) {
		t.Fatalf("expected not located, got %v", err)
	}
}

func TestLocateRejectsGarbage(t *testing.T) {
	locator := NewIPLocator("http://unused.invalid", clients.NewDefaultHTTPClient(time.Second))
	_, err := locator.Locate(context.Background(), "not-an-ip")
	var vErr *apperrors.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIsLoopback(t *testing.T) {
	for ip, want := range map[string]bool{"127.0.0.1": true, "::1": true, "192.168.1.4": false, "junk": false} {
		if got := IsLoopback(ip); got != want {
			t.Fatalf("IsLoopback(%q) = %t, want %t", ip, got, want)
		}
	}
}
