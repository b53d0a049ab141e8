package models

// Coordinates represents a geographical point defined by its longitude and latitude.
type Coordinates struct {
	Longitude float64 // Longitude of the geographical point.
	Latitude  float64 // Latitude of the geographical point.
}

// Valid reports whether both components are inside the WGS84 range.
func (c Coordinates) Valid() bool {
	const maxLat, maxLon = 90, 180
	return c.Latitude >= -maxLat && c.Latitude <= maxLat && c.Longitude >= -maxLon && c.Longitude <= maxLon
}
