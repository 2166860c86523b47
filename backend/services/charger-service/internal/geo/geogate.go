package geo

import (
	"math"

	"ampease/backend/services/charger-service/internal/models"
)

// EarthRadiusKM is the mean earth radius.
const EarthRadiusKM = 6371.0088

// Deny reasons reported by Gate.Check.
const (
	ReasonTooFar                = "too_far"
	ReasonDeviceLocationUnknown = "device_location_unknown"
	ReasonClientLocationUnknown = "client_location_unknown"
)

// Decision is the outcome of a geofence check.
type Decision struct {
	Allowed    bool
	DistanceKM float64
	Reason     string
}

// DistanceKM returns the great-circle distance between a and b using the haversine formula.
func DistanceKM(a, b models.Coordinates) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Allow reports whether client is within radiusKM of device.
func Allow(client, device models.Coordinates, radiusKM float64) bool {
	return DistanceKM(client, device) <= radiusKM
}

// Gate applies the geofence with a fail-closed policy for unknown locations.
type Gate struct {
	radiusKM float64
}

// NewGate returns a gate for the given radius.
func NewGate(radiusKM float64) *Gate {
	return &Gate{radiusKM: radiusKM}
}

// RadiusKM returns the configured radius.
func (g *Gate) RadiusKM() float64 {
	return g.radiusKM
}

// Check denies when either location is the (0,0) sentinel or out of range.
func (g *Gate) Check(client, device models.Coordinates) Decision {
	if device.IsZero() || !device.Valid() {
		return Decision{Reason: ReasonDeviceLocationUnknown}
	}
	if client.IsZero() || !client.Valid() {
		return Decision{Reason: ReasonClientLocationUnknown}
	}

	distance := DistanceKM(client, device)
	if distance > g.radiusKM {
		return Decision{DistanceKM: distance, Reason: ReasonTooFar}
	}
	return Decision{Allowed: true, DistanceKM: distance}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
