package models

// Place is a row of the places queue waiting for coordinates.
type Place struct {
	ID      int    // ID is the unique identifier for the place.
	Address string // Address is the hierarchical location to be resolved.
}

// MatchMethod tells which path produced a resolution.
type MatchMethod string

const (
	MatchCache       MatchMethod = "cache"
	MatchPlaceSearch MatchMethod = "place_search"
	MatchGeocode     MatchMethod = "geocode"
)

// Resolution is the outcome of resolving one address.
type Resolution struct {
	Result           *GeocodeResult // Result is nil when no level produced a validated hit.
	MatchLevel       int            // MatchLevel is the number of levels dropped before the match.
	MatchMethod      MatchMethod
	ValidationPassed bool
	Attempts         int // Attempts counts provider calls made for this resolution.
}

// Found reports whether the resolution carries a result.
func (r Resolution) Found() bool { return r.Result != nil }
