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
	"time"

	"github.com/UnknownOlympus/meridian/internal/models"
	"github.com/UnknownOlympus/meridian/internal/ratelimit"
)

// VisicomBaseURL -- Visicom API base URL.
const VisicomBaseURL = "https://api.visicom.ua/data-api/5.0/uk/geocode.json"

const (
	visicomName = "visicom"
	// visicomAddressCategory limits a search to address points.
	visicomAddressCategory = "adr_address"
)

// ErrVisicomInvalidCoords is returned by Normalize for a centroid that is not [lon, lat].
var ErrVisicomInvalidCoords = errors.New("visicom API returned invalid coordinates")

// VisicomProvider implements geocoding using Visicom API.
type VisicomProvider struct {
	endpoint
	baseURL string // Base URL for the Visicom API
	apiKey  string // API key with geocoding access
	limit   int
}

// NewVisicomProvider creates a new Visicom geocoding provider.
func NewVisicomProvider(apiKey string, limiter *ratelimit.Limiter, log *slog.Logger) *VisicomProvider {
	const timeout = 10
	return NewVisicomProviderWithClient(&http.Client{Timeout: timeout * time.Second}, apiKey, limiter, log)
}

// NewVisicomProviderWithClient allows injecting custom HTTP client.
func NewVisicomProviderWithClient(
	client HTTPClient,
	apiKey string,
	limiter *ratelimit.Limiter,
	log *slog.Logger,
) *VisicomProvider {
	return &VisicomProvider{
		endpoint: endpoint{
			provider:  visicomName,
			client:    client,
			limiter:   limiter,
			transient: DefaultTransientStatuses,
			log:       log,
		},
		baseURL: VisicomBaseURL,
		apiKey:  apiKey,
		limit:   1,
	}
}

// Name implements Provider.
func (vp *VisicomProvider) Name() string { return visicomName }

// SearchByKeyword searches every feature category. Visicom only biases by
// coordinates, so the city hint is not sent.
func (vp *VisicomProvider) SearchByKeyword(ctx context.Context, query, _ string) ([]Hit, error) {
	return vp.search(ctx, query, "")
}

// SearchByStructuredAddress searches address points only.
func (vp *VisicomProvider) SearchByStructuredAddress(ctx context.Context, query, _ string) ([]Hit, error) {
	return vp.search(ctx, query, visicomAddressCategory)
}

func (vp *VisicomProvider) search(ctx context.Context, query, category string) ([]Hit, error) {
	vp.log.DebugContext(ctx, "Geocoding using Visicom", "query", query, "category", category)

	params := url.Values{}
	params.Set("text", query)
	params.Set("limit", strconv.Itoa(vp.limit))
	params.Set("key", vp.apiKey)
	if category != "" {
		params.Set("categories", category)
	}

	body, err := vp.get(ctx, vp.baseURL, params)
	if errors.Is(err, ErrNoHits) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var payload struct {
		Type     string           `json:"type"`
		Features []visicomFeature `json:"features"`
		visicomFeature
	}
	if err = json.Unmarshal(body, &payload); err != nil {
		return nil, &TransportError{Provider: visicomName, Op: "decode response", Err: err}
	}

	// With limit=1 the API answers a bare Feature instead of a collection.
	features := payload.Features
	if payload.Type == "Feature" {
		features = []visicomFeature{payload.visicomFeature}
	}

	hits := make([]Hit, 0, len(features))
	for _, f := range features {
		hits = append(hits, f)
	}
	return hits, nil
}

// visicomFeature is a GeoJSON feature (simplified for the geocoding use-case).
type visicomFeature struct {
	ID       string `json:"id"`
	Centroid struct {
		Coordinates []float64 `json:"coordinates"` // [lon, lat]
	} `json:"geo_centroid"`
	Properties struct {
		Name       string `json:"name"`
		Settlement string `json:"settlement"`
		Level1     string `json:"level1"`
		Level2     string `json:"level2"`
		Street     string `json:"street"`
		Country    string `json:"country_code"`
	} `json:"properties"`
}

// Normalize implements Hit.
func (f visicomFeature) Normalize() (*models.GeocodeResult, error) {
	const coordsListLength = 2

	if len(f.Centroid.Coordinates) != coordsListLength {
		return nil, fmt.Errorf("%w: %v", ErrVisicomInvalidCoords, f.Centroid.Coordinates)
	}

	props := f.Properties
	return models.NewResultBuilder(visicomName).
		Coordinates(f.Centroid.Coordinates[1], f.Centroid.Coordinates[0]).
		DisplayName(joinNonEmpty(", ", props.Level1, props.Level2, props.Settlement, props.Street, props.Name)).
		Locality(firstNonEmpty(props.Settlement, props.Level2)).
		CountryCode(firstNonEmpty(props.Country, "UA")).
		ProviderID(f.ID).
		AddressPart("province", props.Level1).
		AddressPart("district", props.Level2).
		AddressPart("city", props.Settlement).
		AddressPart("street", props.Street).
		Build()
}
