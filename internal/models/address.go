package models

import (
	"errors"
	"strings"
)

// DefaultLevelSeparator separates levels in a hierarchical address string.
const DefaultLevelSeparator = "-"

// ErrEmptyAddress is returned when an address string has no non-empty levels.
var ErrEmptyAddress = errors.New("address has no levels")

// Address is a hierarchical place reference ordered from the coarsest level
// (province) to the finest one (POI).
type Address struct {
	levels []string
}

// ParseAddress splits raw on sep and drops empty segments. Level order is kept as is.
func ParseAddress(raw, sep string) (Address, error) {
	if sep == "" {
		sep = DefaultLevelSeparator
	}

	var levels []string
	for _, part := range strings.Split(raw, sep) {
		if part = strings.TrimSpace(part); part != "" {
			levels = append(levels, part)
		}
	}

	if len(levels) == 0 {
		return Address{}, ErrEmptyAddress
	}

	return Address{levels: levels}, nil
}

// NewAddress builds an address from already split levels.
func NewAddress(levels ...string) (Address, error) {
	return ParseAddress(strings.Join(levels, DefaultLevelSeparator), DefaultLevelSeparator)
}

// Len returns the number of levels.
func (a Address) Len() int { return len(a.levels) }

// Levels returns a copy of the address levels.
func (a Address) Levels() []string {
	out := make([]string, len(a.levels))
	copy(out, a.levels)
	return out
}

// Level returns the n-th level counting from 1, or "" when the address is shorter.
func (a Address) Level(n int) string {
	if n < 1 || n > len(a.levels) {
		return ""
	}
	return a.levels[n-1]
}

// CityHint is the coarsest level, passed to providers to bound the search area.
func (a Address) CityHint() string { return a.Level(1) }

// Query concatenates the first k levels without a separator.
func (a Address) Query(k int) string {
	if k > len(a.levels) {
		k = len(a.levels)
	}
	if k < 0 {
		k = 0
	}
	return strings.Join(a.levels[:k], "")
}

// String joins the levels back with the default separator.
func (a Address) String() string {
	return strings.Join(a.levels, DefaultLevelSeparator)
}
