// Package resolver turns a hierarchical address into a validated geocode
// result, dropping trailing levels until a provider answer passes validation.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/meridian/internal/cache"
	"github.com/UnknownOlympus/meridian/internal/geocoding"
	"github.com/UnknownOlympus/meridian/internal/metrics"
	"github.com/UnknownOlympus/meridian/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Validator checks a candidate result against the requested address.
type Validator interface {
	Validate(addr models.Address, res *models.GeocodeResult) models.ValidationOutcome
}

// ResultCache is the memo of provider answers keyed by (provider, query).
type ResultCache interface {
	Get(key cache.Key) (*models.GeocodeResult, cache.Status)
	Put(ctx context.Context, key cache.Key, res *models.GeocodeResult) error
}

// searchFunc is one of the provider endpoints.
type searchFunc func(ctx context.Context, query, cityHint string) ([]geocoding.Hit, error)

// Resolver runs the fallback loop for one provider. It holds no per-call
// state and may be shared by many workers.
type Resolver struct {
	log       *slog.Logger
	provider  geocoding.Provider
	cache     ResultCache
	validator Validator
	metrics   *metrics.Metrics
}

// New creates a Resolver. A nil metrics value registers the collectors on a
// private registry.
func New(
	log *slog.Logger,
	provider geocoding.Provider,
	resultCache ResultCache,
	validator Validator,
	metrics *metrics.Metrics,
) *Resolver {
	if metrics == nil {
		metrics = newDiscardMetrics()
	}

	return &Resolver{
		log:       log,
		provider:  provider,
		cache:     resultCache,
		validator: validator,
		metrics:   metrics,
	}
}

// ResolveString parses a separator-delimited address and resolves it.
func (r *Resolver) ResolveString(ctx context.Context, raw string) (models.Resolution, error) {
	addr, err := models.ParseAddress(raw, models.DefaultLevelSeparator)
	if err != nil {
		return models.Resolution{}, fmt.Errorf("failed to parse address %q: %w", raw, err)
	}
	return r.Resolve(ctx, addr)
}

// Resolve tries the address from the most specific level to the least.
// A resolution without a result means no level produced a validated hit.
// Provider errors abort the loop and are returned without touching the cache
// for the query being tried.
func (r *Resolver) Resolve(ctx context.Context, addr models.Address) (models.Resolution, error) {
	var resolution models.Resolution
	levels := addr.Len()
	cityHint := addr.CityHint()
	name := r.provider.Name()

	for k := levels; k >= 1; k-- {
		query := addr.Query(k)
		key := cache.NewKey(name, query)
		matchLevel := levels - k

		cached, status := r.cache.Get(key)
		r.metrics.CacheLookups.WithLabelValues(status.String()).Inc()

		switch status {
		case cache.Positive:
			r.log.DebugContext(ctx, "Cache hit", "query", query, "level", matchLevel)
			return r.found(resolution, cached, matchLevel, models.MatchCache), nil
		case cache.Negative:
			r.log.DebugContext(ctx, "Negative cache hit", "query", query)
			continue
		case cache.Absent:
		}

		endpoints := []struct {
			name   string
			method models.MatchMethod
			search searchFunc
		}{
			{"keyword", models.MatchPlaceSearch, r.provider.SearchByKeyword},
			{"structured", models.MatchGeocode, r.provider.SearchByStructuredAddress},
		}

		for _, ep := range endpoints {
			resolution.Attempts++
			outcome, err := r.try(ctx, ep.name, ep.search, addr, query, cityHint)
			if err != nil {
				return resolution, err
			}

			switch o := outcome.(type) {
			case Found:
				if err = r.cache.Put(ctx, key, o.Result); err != nil {
					return resolution, fmt.Errorf("failed to cache result for %q: %w", query, err)
				}
				return r.found(resolution, o.Result, matchLevel, ep.method), nil
			case ValidationFailed:
				r.log.InfoContext(ctx, "Candidate rejected",
					"query", query, "endpoint", ep.name, "reasons", o.Reasons)
			case NoHits:
				r.log.DebugContext(ctx, "No hits", "query", query, "endpoint", ep.name)
			}
		}

		if err := r.cache.Put(ctx, key, nil); err != nil {
			return resolution, fmt.Errorf("failed to cache negative result for %q: %w", query, err)
		}
	}

	r.metrics.Resolutions.WithLabelValues("none").Inc()
	r.log.InfoContext(ctx, "Address not resolved", "address", addr.String(), "attempts", resolution.Attempts)
	return resolution, nil
}

// try calls one endpoint and classifies its answer. Only the top hit counts.
func (r *Resolver) try(
	ctx context.Context,
	endpoint string,
	search searchFunc,
	addr models.Address,
	query, cityHint string,
) (Outcome, error) {
	name := r.provider.Name()

	start := time.Now()
	hits, err := search(ctx, query, cityHint)
	r.metrics.RequestSeconds.WithLabelValues(name, endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		r.metrics.ProviderErrors.WithLabelValues(name).Inc()
		return nil, fmt.Errorf("%s search for %q failed: %w", endpoint, query, err)
	}
	if len(hits) == 0 {
		return NoHits{}, nil
	}

	res, err := hits[0].Normalize()
	if err != nil {
		return ValidationFailed{Reasons: []string{"normalize: " + err.Error()}}, nil
	}

	verdict := r.validator.Validate(addr, res)
	if !verdict.Passed {
		return ValidationFailed{Result: res, Reasons: verdict.Reasons()}, nil
	}
	return Found{Result: res}, nil
}

func (r *Resolver) found(
	resolution models.Resolution,
	res *models.GeocodeResult,
	matchLevel int,
	method models.MatchMethod,
) models.Resolution {
	r.metrics.Resolutions.WithLabelValues(string(method)).Inc()

	resolution.Result = res
	resolution.MatchLevel = matchLevel
	resolution.MatchMethod = method
	resolution.ValidationPassed = true
	return resolution
}

func newDiscardMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}
