package geocoding

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/UnknownOlympus/meridian/internal/models"
	"github.com/UnknownOlympus/meridian/internal/ratelimit"
	"googlemaps.github.io/maps"
)

const googleName = "google"

// googleTransientStatuses are the API statuses that may clear up on retry.
var googleTransientStatuses = []string{"OVER_QUERY_LIMIT", "UNKNOWN_ERROR"}

// GoogleProvider is a struct that holds the client for Google Maps API
// and a logger for logging purposes. Keyword search goes through the Places
// text search, structured search through the Geocoding API.
type GoogleProvider struct {
	client   GoogleAPIClient    // client is the Google Maps API client
	limiter  *ratelimit.Limiter // limiter is shared with every other caller of the API
	language string             // language of returned names
	region   string             // region bias as a ccTLD
	log      *slog.Logger       // log is the logger for logging operations
}

type GoogleAPIClient interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
	TextSearch(ctx context.Context, r *maps.TextSearchRequest) (maps.PlacesSearchResponse, error)
}

// NewGoogleProvider initializes a new GoogleProvider with the given client, limiter and logger.
func NewGoogleProvider(client GoogleAPIClient, limiter *ratelimit.Limiter, log *slog.Logger) *GoogleProvider {
	return &GoogleProvider{client: client, limiter: limiter, language: "zh-CN", region: "cn", log: log}
}

// Name implements Provider.
func (gp *GoogleProvider) Name() string { return googleName }

// SearchByKeyword runs a Places text search on the query prefixed by the city hint.
func (gp *GoogleProvider) SearchByKeyword(ctx context.Context, query, cityHint string) ([]Hit, error) {
	gp.log.DebugContext(ctx, "Text search using Google Maps", "query", query, "city", cityHint)

	if err := gp.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	text := query
	if cityHint != "" && !strings.HasPrefix(query, cityHint) {
		text = cityHint + " " + query
	}

	resp, err := gp.client.TextSearch(ctx, &maps.TextSearchRequest{
		Query:    text,
		Language: gp.language,
		Region:   gp.region,
	})
	if err != nil {
		return nil, gp.classify(ctx, "text search", err)
	}

	hits := make([]Hit, 0, len(resp.Results))
	for _, r := range resp.Results {
		hits = append(hits, googlePlace(r))
	}
	return hits, nil
}

// SearchByStructuredAddress geocodes the query restricted to the city hint's administrative area.
func (gp *GoogleProvider) SearchByStructuredAddress(ctx context.Context, query, cityHint string) ([]Hit, error) {
	gp.log.DebugContext(ctx, "Geocoding using Google Maps", "address", query, "city", cityHint)

	if err := gp.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	req := maps.GeocodingRequest{
		Address:  query,
		Language: gp.language,
		Region:   gp.region,
	}
	if cityHint != "" {
		req.Components = map[maps.Component]string{maps.ComponentAdministrativeArea: cityHint}
	}

	results, err := gp.client.Geocode(ctx, &req)
	if err != nil {
		return nil, gp.classify(ctx, "geocode", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, googleGeocode(r))
	}
	return hits, nil
}

// classify maps client errors onto the provider taxonomy. API statuses other
// than the transient ones mean no hits, anything else is a transport failure.
func (gp *GoogleProvider) classify(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := err.Error()
	if status, ok := strings.CutPrefix(msg, "maps: "); ok {
		code, _, _ := strings.Cut(status, " ")
		if slices.Contains(googleTransientStatuses, code) {
			gp.log.WarnContext(ctx, "Google Maps transient error", "op", op, "status", code)
			return &TransportError{Provider: googleName, Op: op, Err: err}
		}
		gp.log.ErrorContext(ctx, "Google Maps API error", "op", op, "error", err)
		return nil
	}

	return &TransportError{Provider: googleName, Op: op, Err: err}
}

type googlePlace maps.PlacesSearchResult

// Normalize implements Hit.
func (p googlePlace) Normalize() (*models.GeocodeResult, error) {
	loc := p.Geometry.Location
	return models.NewResultBuilder(googleName).
		Coordinates(loc.Lat, loc.Lng).
		DisplayName(joinNonEmpty(" ", p.FormattedAddress, p.Name)).
		ProviderID(p.PlaceID).
		AddressPart("formatted_address", p.FormattedAddress).
		Build()
}

type googleGeocode maps.GeocodingResult

// Normalize implements Hit.
func (g googleGeocode) Normalize() (*models.GeocodeResult, error) {
	builder := models.NewResultBuilder(googleName).
		Coordinates(g.Geometry.Location.Lat, g.Geometry.Location.Lng).
		DisplayName(g.FormattedAddress).
		ProviderID(g.PlaceID)

	var locality, sublocality string
	for _, c := range g.AddressComponents {
		switch {
		case slices.Contains(c.Types, "country"):
			builder.CountryCode(c.ShortName)
		case slices.Contains(c.Types, "administrative_area_level_1"):
			builder.AddressPart("province", c.LongName)
		case slices.Contains(c.Types, "locality"):
			locality = c.LongName
			builder.AddressPart("city", c.LongName)
		case slices.Contains(c.Types, "sublocality"), slices.Contains(c.Types, "sublocality_level_1"):
			sublocality = c.LongName
			builder.AddressPart("district", c.LongName)
		}
	}

	return builder.Locality(firstNonEmpty(sublocality, locality)).Build()
}

func joinNonEmpty(sep string, values ...string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, sep)
}
