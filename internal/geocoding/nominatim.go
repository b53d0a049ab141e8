package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/UnknownOlympus/meridian/internal/models"
	"github.com/UnknownOlympus/meridian/internal/ratelimit"
)

const (
	nominatimName       = "nominatim"
	nominatimDefaultURL = "https://nominatim.openstreetmap.org/search"
)

// ErrNominatimInvalidCoords is returned by Normalize when lat/lon cannot be parsed.
var ErrNominatimInvalidCoords = errors.New("nominatim API returned invalid coordinates")

// NominatimProvider implements the Provider interface using OpenStreetMap's Nominatim API.
// This is a free geocoding service with usage limits (1 request/second for fair use).
type NominatimProvider struct {
	endpoint
	baseURL  string // Base URL for the Nominatim API
	language string // accept-language parameter
	limit    int    // number of hits requested
}

// NewNominatimProvider creates a new Nominatim geocoding provider.
// Uses the public Nominatim API endpoint by default.
func NewNominatimProvider(limiter *ratelimit.Limiter, log *slog.Logger) *NominatimProvider {
	const timeout = 10
	return NewNominatimProviderWithClient(&http.Client{Timeout: timeout * time.Second}, limiter, log)
}

// NewNominatimProviderWithClient creates a Nominatim provider with a custom HTTP client.
// Useful for testing with mocked HTTP clients.
func NewNominatimProviderWithClient(client HTTPClient, limiter *ratelimit.Limiter, log *slog.Logger) *NominatimProvider {
	return &NominatimProvider{
		endpoint: endpoint{
			provider:  nominatimName,
			client:    client,
			limiter:   limiter,
			transient: DefaultTransientStatuses,
			// User-Agent MUST include valid contact info per Nominatim usage policy:
			// https://operations.osmfoundation.org/policies/nominatim/
			userAgent: "Meridian-Resolver/1.0 (https://github.com/UnknownOlympus/meridian)",
			log:       log,
		},
		baseURL:  nominatimDefaultURL,
		language: "zh-CN,en",
		limit:    1,
	}
}

// Name implements Provider.
func (np *NominatimProvider) Name() string { return nominatimName }

// SearchByKeyword runs a free-form search.
func (np *NominatimProvider) SearchByKeyword(ctx context.Context, query, _ string) ([]Hit, error) {
	return np.search(ctx, query, "")
}

// SearchByStructuredAddress runs the same search restricted to the address layer.
func (np *NominatimProvider) SearchByStructuredAddress(ctx context.Context, query, _ string) ([]Hit, error) {
	return np.search(ctx, query, "address")
}

func (np *NominatimProvider) search(ctx context.Context, query, layer string) ([]Hit, error) {
	np.log.DebugContext(ctx, "Geocoding using Nominatim", "query", query, "layer", layer)

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "jsonv2")
	params.Set("addressdetails", "1")
	params.Set("limit", strconv.Itoa(np.limit))
	params.Set("accept-language", np.language)
	if layer != "" {
		params.Set("layer", layer)
	}

	body, err := np.get(ctx, np.baseURL, params)
	if errors.Is(err, ErrNoHits) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var results []nominatimPlace
	if err = json.Unmarshal(body, &results); err != nil {
		np.log.ErrorContext(ctx, "Failed to parse Nominatim response", "error", err, "body", string(body))
		return nil, &TransportError{Provider: nominatimName, Op: "decode response", Err: err}
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, r)
	}
	return hits, nil
}

// nominatimPlace represents one entry of the jsonv2 response.
type nominatimPlace struct {
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	DisplayName string            `json:"display_name"`
	Name        string            `json:"name"`
	OSMType     string            `json:"osm_type"`
	OSMID       int64             `json:"osm_id"`
	Address     map[string]string `json:"address"`
}

// localityKeys are consulted in order to pick the locality.
var localityKeys = []string{"city", "town", "county", "state_district", "state"}

// Normalize implements Hit.
func (p nominatimPlace) Normalize() (*models.GeocodeResult, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid latitude: %s", ErrNominatimInvalidCoords, p.Lat)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid longitude: %s", ErrNominatimInvalidCoords, p.Lon)
	}

	builder := models.NewResultBuilder(nominatimName).
		Coordinates(lat, lon).
		DisplayName(firstNonEmpty(p.DisplayName, p.Name)).
		CountryCode(strings.ToUpper(p.Address["country_code"]))

	if p.OSMType != "" && p.OSMID != 0 {
		builder.ProviderID(fmt.Sprintf("%s-%d", strings.ToLower(p.OSMType), p.OSMID))
	}
	for _, key := range localityKeys {
		if v := p.Address[key]; v != "" {
			builder.Locality(v)
			break
		}
	}
	for _, key := range []string{"state", "city", "county", "suburb", "road"} {
		builder.AddressPart(key, p.Address[key])
	}

	return builder.Build()
}
