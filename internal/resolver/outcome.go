package resolver

import "github.com/UnknownOlympus/meridian/internal/models"

// Outcome is the answer of one endpoint for one query. It is one of Found,
// NoHits or ValidationFailed.
type Outcome interface {
	outcome()
}

// Found carries a validated result.
type Found struct {
	Result *models.GeocodeResult
}

// NoHits means the endpoint answered with an empty list.
type NoHits struct{}

// ValidationFailed means the top hit was rejected.
type ValidationFailed struct {
	Result  *models.GeocodeResult // nil when the hit could not be normalized
	Reasons []string
}

func (Found) outcome()            {}
func (NoHits) outcome()           {}
func (ValidationFailed) outcome() {}
