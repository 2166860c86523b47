package locate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"ampease/backend/services/charger-service/internal/apperrors"
	"ampease/backend/services/charger-service/internal/clients"
	"ampease/backend/services/charger-service/internal/models"
)

// DefaultBaseURL is the ip-api.com JSON endpoint.
const DefaultBaseURL = "http://ip-api.com"

// ErrNotLocated means the service could not place the address.
var ErrNotLocated = errors.New("address could not be located")

// IPLocator resolves a client IP address to approximate coordinates.
type IPLocator struct {
	base *clients.BaseClient
}

// NewIPLocator returns locator instance.
func NewIPLocator(baseURL string, httpClient clients.HTTPDoer) *IPLocator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &IPLocator{base: clients.NewBaseClient(baseURL, httpClient, nil)}
}

// Locate looks up ip.
func (l *IPLocator) Locate(ctx context.Context, ip string) (models.Coordinates, error) {
	if net.ParseIP(ip) == nil {
		return models.Coordinates{}, &apperrors.ValidationError{Field: "ip", Reason: fmt.Sprintf("%q is not an IP address", ip)}
	}

	var resp struct {
		Status  string  `json:"status"`
		Message string  `json:"message"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
	}
	path := "/json/" + url.PathEscape(ip) + "?fields=status,message,lat,lon"
	if err := l.base.DoJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return models.Coordinates{}, apperrors.External(apperrors.ServiceLocator, "locate", err)
	}
	if resp.Status != "success" {
		return models.Coordinates{}, fmt.Errorf("%w: %s", ErrNotLocated, resp.Message)
	}
	return models.Coordinates{Lat: resp.Lat, Lon: resp.Lon}, nil
}

// IsLoopback reports whether ip is a loopback address.
func IsLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
