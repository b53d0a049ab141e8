package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// Errors returned by ResultBuilder.Build.
var (
	ErrMissingProvider    = errors.New("geocode result has no provider")
	ErrInvalidCoordinates = errors.New("geocode result has coordinates out of range")
	ErrEmptyResult        = errors.New("geocode result has neither coordinates nor display name")
)

// GeocodeResult is a normalized provider answer. It is immutable once built,
// use ResultBuilder to create one.
type GeocodeResult struct {
	coords          *Coordinates
	displayName     string
	locality        string
	countryCode     string
	provider        string
	providerID      string
	rawAddressParts map[string]string
}

// Coordinates returns the result position, or nil when the provider did not return one.
func (r *GeocodeResult) Coordinates() *Coordinates {
	if r.coords == nil {
		return nil
	}
	c := *r.coords
	return &c
}

func (r *GeocodeResult) DisplayName() string { return r.displayName }
func (r *GeocodeResult) Locality() string    { return r.locality }
func (r *GeocodeResult) CountryCode() string { return r.countryCode }
func (r *GeocodeResult) Provider() string    { return r.provider }
func (r *GeocodeResult) ProviderID() string  { return r.providerID }

// RawAddressParts returns a copy of the administrative fields reported by the provider.
func (r *GeocodeResult) RawAddressParts() map[string]string {
	return maps.Clone(r.rawAddressParts)
}

// Equal reports whether two results carry the same data.
func (r *GeocodeResult) Equal(other *GeocodeResult) bool {
	if r == nil || other == nil {
		return r == other
	}
	if (r.coords == nil) != (other.coords == nil) {
		return false
	}
	if r.coords != nil && *r.coords != *other.coords {
		return false
	}
	return r.displayName == other.displayName &&
		r.locality == other.locality &&
		r.countryCode == other.countryCode &&
		r.provider == other.provider &&
		r.providerID == other.providerID &&
		maps.Equal(r.rawAddressParts, other.rawAddressParts)
}

type resultJSON struct {
	Latitude        *float64          `json:"latitude,omitempty"`
	Longitude       *float64          `json:"longitude,omitempty"`
	DisplayName     string            `json:"displayName,omitempty"`
	Locality        string            `json:"locality,omitempty"`
	CountryCode     string            `json:"countryCode,omitempty"`
	Provider        string            `json:"provider"`
	ProviderID      string            `json:"providerId,omitempty"`
	RawAddressParts map[string]string `json:"rawAddressParts,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r *GeocodeResult) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		DisplayName:     r.displayName,
		Locality:        r.locality,
		CountryCode:     r.countryCode,
		Provider:        r.provider,
		ProviderID:      r.providerID,
		RawAddressParts: r.rawAddressParts,
	}
	if r.coords != nil {
		lat, lon := r.coords.Latitude, r.coords.Longitude
		out.Latitude, out.Longitude = &lat, &lon
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. The decoded value goes through
// the same checks as ResultBuilder.Build.
func (r *GeocodeResult) UnmarshalJSON(data []byte) error {
	var in resultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	builder := NewResultBuilder(in.Provider).
		DisplayName(in.DisplayName).
		Locality(in.Locality).
		CountryCode(in.CountryCode).
		ProviderID(in.ProviderID)
	if in.Latitude != nil && in.Longitude != nil {
		builder.Coordinates(*in.Latitude, *in.Longitude)
	}
	for k, v := range in.RawAddressParts {
		builder.AddressPart(k, v)
	}

	built, err := builder.Build()
	if err != nil {
		return err
	}
	*r = *built
	return nil
}

// ResultBuilder assembles a GeocodeResult and validates it on Build.
type ResultBuilder struct {
	res GeocodeResult
}

// NewResultBuilder starts a result for the given provider.
func NewResultBuilder(provider string) *ResultBuilder {
	return &ResultBuilder{res: GeocodeResult{provider: provider}}
}

func (b *ResultBuilder) Coordinates(lat, lon float64) *ResultBuilder {
	b.res.coords = &Coordinates{Latitude: lat, Longitude: lon}
	return b
}

func (b *ResultBuilder) DisplayName(s string) *ResultBuilder { b.res.displayName = s; return b }
func (b *ResultBuilder) Locality(s string) *ResultBuilder    { b.res.locality = s; return b }
func (b *ResultBuilder) CountryCode(s string) *ResultBuilder { b.res.countryCode = s; return b }
func (b *ResultBuilder) ProviderID(s string) *ResultBuilder  { b.res.providerID = s; return b }

// AddressPart records an administrative field. Empty values are ignored.
func (b *ResultBuilder) AddressPart(key, value string) *ResultBuilder {
	if value == "" {
		return b
	}
	if b.res.rawAddressParts == nil {
		b.res.rawAddressParts = make(map[string]string)
	}
	b.res.rawAddressParts[key] = value
	return b
}

// Build validates the collected fields and returns the result.
func (b *ResultBuilder) Build() (*GeocodeResult, error) {
	if b.res.provider == "" {
		return nil, ErrMissingProvider
	}
	if b.res.coords != nil && !b.res.coords.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCoordinates, *b.res.coords)
	}
	if b.res.coords == nil && b.res.displayName == "" {
		return nil, ErrEmptyResult
	}

	out := b.res
	out.rawAddressParts = maps.Clone(b.res.rawAddressParts)
	return &out, nil
}
