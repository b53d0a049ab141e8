package geocoding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	amapName           = "amap"
	amapDefaultBaseURL = "https://restapi.amap.com"
	amapStatusOK       = "1"
)

// ErrAmapInvalidLocation is returned by Normalize for a location that is not "lon,lat".
var ErrAmapInvalidLocation = errors.New("amap returned invalid location")

// AmapProvider talks to the Amap (Gaode) web service API: place/text for
// keyword search and geocode/geo for structured addresses.
type AmapProvider struct {
	endpoint
	apiKey  string
	baseURL string
}

// AmapOption tweaks an AmapProvider.
type AmapOption func(*AmapProvider)

// WithAmapBaseURL points the provider at another host, such as a test server.
func WithAmapBaseURL(baseURL string) AmapOption {
	return func(p *AmapProvider) { p.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithAmapHTTPClient replaces the default HTTP client.
func WithAmapHTTPClient(client HTTPClient) AmapOption {
	return func(p *AmapProvider) { p.client = client }
}

// WithAmapTransientStatuses overrides DefaultTransientStatuses.
func WithAmapTransientStatuses(statuses []int) AmapOption {
	return func(p *AmapProvider) { p.transient = newTransientSet(statuses) }
}

// NewAmapProvider creates an Amap provider sharing the given limiter.
func NewAmapProvider(apiKey string, limiter *ratelimit.Limiter, log *slog.Logger, opts ...AmapOption) *AmapProvider {
	const timeout = 20
	prov := &AmapProvider{
		endpoint: endpoint{
			provider:  amapName,
			client:    &http.Client{Timeout: timeout * time.Second},
			limiter:   limiter,
			transient: DefaultTransientStatuses,
			userAgent: "meridian/1.0",
			log:       log,
		},
		apiKey:  apiKey,
		baseURL: amapDefaultBaseURL,
	}
	for _, opt := range opts {
		opt(prov)
	}
	return prov
}

// Name implements Provider.
func (ap *AmapProvider) Name() string { return amapName }

// SearchByKeyword queries place/text restricted to the city hint.
func (ap *AmapProvider) SearchByKeyword(ctx context.Context, query, cityHint string) ([]Hit, error) {
	ap.log.DebugContext(ctx, "Amap place search", "query", query, "city", cityHint)

	params := url.Values{}
	params.Set("key", ap.apiKey)
	params.Set("keywords", query)
	params.Set("offset", "1")
	params.Set("page", "1")
	params.Set("citylimit", "true")
	params.Set("output", "JSON")
	if cityHint != "" {
		params.Set("city", cityHint)
	}

	var resp struct {
		amapEnvelope
		Pois []amapPOI `json:"pois"`
	}
	if ok, err := ap.call(ctx, "/v3/place/text", params, &resp, &resp.amapEnvelope); !ok {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Pois))
	for _, p := range resp.Pois {
		hits = append(hits, p)
	}
	return hits, nil
}

// SearchByStructuredAddress queries geocode/geo with the city hint.
func (ap *AmapProvider) SearchByStructuredAddress(ctx context.Context, query, cityHint string) ([]Hit, error) {
	ap.log.DebugContext(ctx, "Amap geocode", "query", query, "city", cityHint)

	params := url.Values{}
	params.Set("key", ap.apiKey)
	params.Set("address", query)
	params.Set("output", "JSON")
	if cityHint != "" {
		params.Set("city", cityHint)
	}

	var resp struct {
		amapEnvelope
		Geocodes []amapGeocode `json:"geocodes"`
	}
	if ok, err := ap.call(ctx, "/v3/geocode/geo", params, &resp, &resp.amapEnvelope); !ok {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Geocodes))
	for _, g := range resp.Geocodes {
		hits = append(hits, g)
	}
	return hits, nil
}

// call fetches and decodes one endpoint. It returns false when the caller
// should return early with err, which is nil for an answer without hits.
func (ap *AmapProvider) call(ctx context.Context, path string, params url.Values, out any, env *amapEnvelope) (bool, error) {
	body, err := ap.get(ctx, ap.baseURL+path, params)
	if errors.Is(err, ErrNoHits) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err = json.Unmarshal(body, out); err != nil {
		ap.log.ErrorContext(ctx, "Failed to parse Amap response", "error", err, "body", string(body))
		return false, &TransportError{Provider: amapName, Op: "decode response", Err: err}
	}

	if string(env.Status) != amapStatusOK {
		ap.log.WarnContext(ctx, "Amap returned non-OK status", "status", string(env.Status),
			"info", string(env.Info), "infocode", string(env.InfoCode))
		return false, nil
	}
	return true, nil
}

type amapEnvelope struct {
	Status   amapString `json:"status"`
	Info     amapString `json:"info"`
	InfoCode amapString `json:"infocode"`
}

// amapString tolerates Amap's habit of sending [] instead of "" for empty fields.
type amapString string

func (s *amapString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*s = ""
	case data[0] == '[':
		var parts []string
		if err := json.Unmarshal(data, &parts); err != nil {
			*s = ""
			return nil
		}
		*s = amapString(strings.Join(parts, ""))
	case data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = amapString(str)
	default:
		*s = amapString(data)
	}
	return nil
}

type amapPOI struct {
	ID       amapString `json:"id"`
	Name     amapString `json:"name"`
	Location amapString `json:"location"`
	PName    amapString `json:"pname"`
	CityName amapString `json:"cityname"`
	AdName   amapString `json:"adname"`
	Address  amapString `json:"address"`
}

// Normalize implements Hit.
func (p amapPOI) Normalize() (*models.GeocodeResult, error) {
	builder := models.NewResultBuilder(amapName).
		DisplayName(string(p.Name)).
		Locality(firstNonEmpty(string(p.AdName), string(p.CityName))).
		CountryCode("CN").
		ProviderID(string(p.ID)).
		AddressPart("province", string(p.PName)).
		AddressPart("city", string(p.CityName)).
		AddressPart("district", string(p.AdName)).
		AddressPart("street", string(p.Address))

	if err := applyAmapLocation(builder, string(p.Location)); err != nil {
		return nil, err
	}
	return builder.Build()
}

type amapGeocode struct {
	FormattedAddress amapString `json:"formatted_address"`
	Province         amapString `json:"province"`
	City             amapString `json:"city"`
	District         amapString `json:"district"`
	Location         amapString `json:"location"`
	Level            amapString `json:"level"`
}

// Normalize implements Hit.
func (g amapGeocode) Normalize() (*models.GeocodeResult, error) {
	builder := models.NewResultBuilder(amapName).
		DisplayName(firstNonEmpty(string(g.FormattedAddress), string(g.Level))).
		Locality(firstNonEmpty(string(g.District), string(g.City))).
		CountryCode("CN").
		AddressPart("province", string(g.Province)).
		AddressPart("city", string(g.City)).
		AddressPart("district", string(g.District))

	if err := applyAmapLocation(builder, string(g.Location)); err != nil {
		return nil, err
	}
	return builder.Build()
}

// applyAmapLocation parses "lon,lat". An empty location leaves the builder without coordinates.
func applyAmapLocation(builder *models.ResultBuilder, location string) error {
	if location == "" {
		return nil
	}
	lonStr, latStr, found := strings.Cut(location, ",")
	if !found {
		return ErrAmapInvalidLocation
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return errors.Join(ErrAmapInvalidLocation, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return errors.Join(ErrAmapInvalidLocation, err)
	}
	builder.Coordinates(lat, lon)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
