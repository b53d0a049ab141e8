package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/meridian/internal/batch"
	"github.com/UnknownOlympus/meridian/internal/metrics"
	"github.com/UnknownOlympus/meridian/internal/models"
	"github.com/UnknownOlympus/meridian/internal/repository"
)

// ErrNotResolved is recorded for places whose address matched at no level.
var ErrNotResolved = errors.New("no address level produced a validated result")

// Resolver resolves one parsed address.
type Resolver interface {
	Resolve(ctx context.Context, addr models.Address) (models.Resolution, error)
}

// Flusher persists buffered cache entries.
type Flusher interface {
	Flush(ctx context.Context) error
}

// GeocodingService polls the places queue and resolves every fetched place
// through a batch orchestrator.
type GeocodingService struct {
	log           *slog.Logger         // Logger for logging service activities
	repo          repository.Interface // Interface for data repository access
	resolver      Resolver             // Hierarchical resolver in front of the provider
	cache         Flusher              // Result cache flushed after every poll
	metrics       *metrics.Metrics     // Metrics for tracking service performance
	batchCfg      batch.Config         // Worker, retry and rate settings for each poll
	pollInterval  time.Duration        // Interval for polling the places queue
	batchSize     int                  // Maximum number of places fetched per poll
	addressPrefix string               // Levels prepended to every address (country, province, etc.)
}

// NewGeocodingService creates a new instance of GeocodingService. Failed
// places are always reported back to the repository, so the failure policy
// of batchCfg is forced to MarkFailed.
func NewGeocodingService(
	log *slog.Logger,
	repo repository.Interface,
	resolver Resolver,
	cache Flusher,
	metrics *metrics.Metrics,
	batchCfg batch.Config,
	pollInterval time.Duration,
	batchSize int,
	addressPrefix string,
) *GeocodingService {
	batchCfg.FailurePolicy = batch.MarkFailed

	return &GeocodingService{
		log:           log,
		repo:          repo,
		resolver:      resolver,
		cache:         cache,
		metrics:       metrics,
		batchCfg:      batchCfg,
		pollInterval:  pollInterval,
		batchSize:     batchSize,
		addressPrefix: addressPrefix,
	}
}

// Run starts the geocoding service, which periodically polls for new places to geocode.
// It listens for a cancellation signal from the context to gracefully stop the service.
func (gs *GeocodingService) Run(ctx context.Context) {
	ticker := time.NewTicker(gs.pollInterval)
	defer ticker.Stop()

	gs.log.InfoContext(ctx, "Geocoding service started...")

	for {
		select {
		case <-ctx.Done():
			gs.log.InfoContext(ctx, "Geocoding service stopped.")
			return
		case <-ticker.C:
			gs.log.InfoContext(ctx, "Polling for new places to geocode...")
			gs.processPlaces(ctx)
		}
	}
}

// processPlaces fetches places without coordinates, resolves them through the
// orchestrator, records failures and flushes the result cache.
func (gs *GeocodingService) processPlaces(ctx context.Context) {
	places, err := gs.repo.FetchPlacesForGeocoding(ctx, gs.batchSize)
	if err != nil {
		gs.log.ErrorContext(ctx, "Failed to fetch places", "error", err)
		return
	}
	if len(places) == 0 {
		gs.log.InfoContext(ctx, "No places to process.")
		return
	}

	gs.log.InfoContext(ctx, "Found places to process. Starting batch.",
		"jobs", len(places),
		"num_workers", gs.batchCfg.ConcurrencyLimit,
	)

	orch := batch.New[models.Place, models.Resolution](gs.batchCfg, batch.NewMemoryJournal(), gs.log, gs.metrics)
	result, err := orch.Run(ctx, places, gs.geocodePlace)
	if err != nil {
		gs.log.ErrorContext(ctx, "Batch did not complete", "error", err)
	}

	if result != nil {
		for _, item := range result.Items {
			if !item.Failed {
				continue
			}
			place := places[item.Index]
			if errInc := gs.repo.IncrementFailureCount(ctx, place.ID, item.Error); errInc != nil {
				gs.log.ErrorContext(ctx, "Could not update failure count for place",
					"place", place.ID,
					"error", errInc,
				)
			}
		}
		gs.log.InfoContext(ctx, "Processing batch finished",
			"succeeded", result.Summary.Succeeded,
			"failed", result.Summary.Failed,
		)
	}

	if err = gs.cache.Flush(context.WithoutCancel(ctx)); err != nil {
		gs.log.ErrorContext(ctx, "Failed to flush result cache", "error", err)
	}
}

// geocodePlace is the unit of work of one poll.
func (gs *GeocodingService) geocodePlace(ctx context.Context, _ int, place models.Place) (models.Resolution, error) {
	addr, err := models.ParseAddress(gs.addressPrefix+place.Address, models.DefaultLevelSeparator)
	if err != nil {
		return models.Resolution{}, batch.Permanent(fmt.Errorf("failed to parse address: %w", err))
	}

	gs.log.DebugContext(ctx, "Processing place", "place", place.ID, "address", addr.String())

	res, err := gs.resolver.Resolve(ctx, addr)
	if err != nil {
		return models.Resolution{}, err
	}
	if !res.Found() {
		return res, batch.Permanent(ErrNotResolved)
	}

	if err = gs.repo.UpdatePlaceCoordinates(ctx, place.ID, res); err != nil {
		gs.log.ErrorContext(ctx, "Failed to update coordinates for place",
			"place", place.ID,
			"error", err,
		)
	} else {
		gs.log.DebugContext(ctx, "Successfully processed the place",
			"place", place.ID,
			"method", res.MatchMethod,
			"level", res.MatchLevel,
		)
	}

	return res, nil
}
