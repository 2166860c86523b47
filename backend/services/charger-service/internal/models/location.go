package models

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IsZero reports the (0,0) sentinel returned when a location is unknown.
func (c Coordinates) IsZero() bool {
	return c.Lat == 0 && c.Lon == 0
}

// Valid reports whether both components are inside their ranges.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}
