package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/UnknownOlympus/meridian/internal/models"
)

// MaxGeocodingAttempts is the number of failed polls after which a place is no longer fetched.
const MaxGeocodingAttempts = 5

// ErrNoCoordinates is returned when a resolution without coordinates is stored.
var ErrNoCoordinates = errors.New("resolution has no coordinates")

// FetchPlacesForGeocoding retrieves places that still need coordinates.
// It returns places that have a NULL latitude, fewer than MaxGeocodingAttempts
// failed attempts and a non-empty address, oldest first, limited to the
// specified count.
func (r *Repository) FetchPlacesForGeocoding(ctx context.Context, limit int) ([]models.Place, error) {
	var places []models.Place
	query := `
		SELECT place_id, address
		FROM public.places
		WHERE
			latitude IS NULL
			AND geocoding_attempts < $1
			AND address IS NOT NULL AND address <> ''
		ORDER BY created_at ASC
		LIMIT $2;
	`

	rows, err := r.db.Query(ctx, query, MaxGeocodingAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query places without coordinates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var place models.Place
		if errScan := rows.Scan(&place.ID, &place.Address); errScan != nil {
			return nil, fmt.Errorf("failed to scan place without coordinates: %w", errScan)
		}
		r.log.DebugContext(ctx, "A new place without coordinates has been received.",
			"ID", place.ID, "Address", place.Address)
		places = append(places, place)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	return places, nil
}

// UpdatePlaceCoordinates stores the coordinates of a resolved place together
// with how it was matched, and clears the last geocoding error.
func (r *Repository) UpdatePlaceCoordinates(ctx context.Context, placeID int, res models.Resolution) error {
	if !res.Found() || res.Result.Coordinates() == nil {
		return ErrNoCoordinates
	}
	coords := res.Result.Coordinates()

	query := `
		UPDATE places
		SET
			latitude = $1,
			longitude = $2,
			formatted_address = $3,
			geocode_provider = $4,
			match_level = $5,
			match_method = $6,
			geocoding_error = NULL
		WHERE
			place_id = $7;
	`

	_, err := r.db.Exec(ctx, query,
		coords.Latitude,
		coords.Longitude,
		res.Result.DisplayName(),
		res.Result.Provider(),
		res.MatchLevel,
		string(res.MatchMethod),
		placeID,
	)
	if err != nil {
		return fmt.Errorf("failed to update place coordinates: %w", err)
	}

	return nil
}

// IncrementFailureCount increments the geocoding attempt count of a place
// and records the error message.
func (r *Repository) IncrementFailureCount(ctx context.Context, placeID int, errMsg string) error {
	query := `
		UPDATE places
		SET
			geocoding_attempts = geocoding_attempts + 1,
			geocoding_error = $1
		WHERE place_id = $2;
	`

	_, err := r.db.Exec(ctx, query, errMsg, placeID)
	if err != nil {
		return fmt.Errorf("failed to update geocoding error and number of attempts: %w", err)
	}

	return nil
}
