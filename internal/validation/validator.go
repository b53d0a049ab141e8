// Package validation decides whether a geocode result plausibly matches the
// address it was requested for.
package validation

import (
	"fmt"
	"strings"

	"github.com/UnknownOlympus/meridian/internal/models"
)

// Check names reported in a ValidationOutcome.
const (
	CheckLocality = "locality"
	CheckDistance = "distance"
)

// Administrative suffixes removed from a city name before comparing it with a
// display name. Longest first.
var citySuffixes = []string{"自治州", "地区", "市", "盟"}

// ThresholdKm returns the maximum accepted distance between a result and the
// reference city for an address with the given number of levels.
func ThresholdKm(levels int) float64 {
	switch {
	case levels >= 4:
		return 20
	case levels >= 3:
		return 50
	case levels >= 2:
		return 150
	default:
		return 800
	}
}

// WithinThreshold reports whether distanceKm is acceptable. The bound is inclusive.
func WithinThreshold(distanceKm float64, levels int) bool {
	return distanceKm <= ThresholdKm(levels)
}

// Validator runs the enabled checks against a candidate result.
type Validator struct {
	refs          *ReferenceTable
	checkLocality bool
	checkDistance bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithoutLocalityCheck disables the locality check.
func WithoutLocalityCheck() Option {
	return func(v *Validator) { v.checkLocality = false }
}

// WithoutDistanceCheck disables the distance check.
func WithoutDistanceCheck() Option {
	return func(v *Validator) { v.checkDistance = false }
}

// New creates a Validator with both checks enabled. A nil table falls back to
// the built-in reference points.
func New(refs *ReferenceTable, opts ...Option) *Validator {
	if refs == nil {
		refs = DefaultReferenceTable()
	}

	v := &Validator{refs: refs, checkLocality: true, checkDistance: true}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs every enabled check. The outcome passes only if all of them pass.
// The validator has no state, so it may be shared between workers.
func (v *Validator) Validate(addr models.Address, res *models.GeocodeResult) models.ValidationOutcome {
	out := models.ValidationOutcome{Passed: true}
	if res == nil {
		return out
	}

	if v.checkLocality {
		out.Checks = append(out.Checks, LocalityMatch(addr, res))
	}
	if v.checkDistance {
		out.Checks = append(out.Checks, v.DistanceSanity(addr, res))
	}

	for _, c := range out.Checks {
		if !c.Passed {
			out.Passed = false
		}
	}
	return out
}

// LocalityMatch verifies that the district (level 3) and city (level 2) of the
// address show up in the result. The district is only checked against a
// result that reports a locality. Absent fields never fail the check.
func LocalityMatch(addr models.Address, res *models.GeocodeResult) models.Check {
	check := models.Check{Name: CheckLocality, Passed: true}

	locality := res.Locality()
	display := res.DisplayName()
	if locality == "" && display == "" {
		check.Reason = "result carries no locality"
		return check
	}

	if district := addr.Level(3); district != "" && locality != "" {
		if !strings.Contains(locality, district) && !strings.Contains(display, district) {
			check.Passed = false
			check.Reason = fmt.Sprintf("district %q not found in %q", district, locality)
			return check
		}
	}

	if city := addr.Level(2); city != "" && display != "" {
		if base := stripCitySuffix(city); !strings.Contains(display, base) {
			check.Passed = false
			check.Reason = fmt.Sprintf("city %q not found in %q", base, display)
			return check
		}
	}

	return check
}

// DistanceSanity verifies that the result lies within the specificity
// threshold of the reference point of the address city. Results without
// coordinates and cities without a reference point pass.
func (v *Validator) DistanceSanity(addr models.Address, res *models.GeocodeResult) models.Check {
	check := models.Check{Name: CheckDistance, Passed: true}

	coords := res.Coordinates()
	if coords == nil {
		check.Reason = "result has no coordinates"
		return check
	}

	city := addr.Level(2)
	ref, ok := v.refs.Lookup(city)
	if !ok {
		check.Reason = fmt.Sprintf("no reference point for %q", city)
		return check
	}

	levels := addr.Len()
	dist := DistanceKm(*coords, ref)
	if WithinThreshold(dist, levels) {
		check.Reason = fmt.Sprintf("%.1f km from %s", dist, city)
		return check
	}

	check.Passed = false
	check.Reason = fmt.Sprintf("%.1f km from %s exceeds %.0f km", dist, city, ThresholdKm(levels))
	if nearest, km, found := v.refs.Nearest(*coords); found && nearest != city {
		check.Reason += fmt.Sprintf(", closest to %s (%.1f km)", nearest, km)
	}
	return check
}

func stripCitySuffix(city string) string {
	for _, suffix := range citySuffixes {
		if base := strings.TrimSuffix(city, suffix); base != city && base != "" {
			return base
		}
	}
	return city
}
