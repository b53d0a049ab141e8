package geocoding

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/UnknownOlympus/meridian/internal/ratelimit"
	"googlemaps.github.io/maps"
)

// ProviderType represents the type of geocoding provider.
type ProviderType string

const (
	// ProviderTypeAmap represents the Amap (Gaode) web service API.
	ProviderTypeAmap ProviderType = "amap"
	// ProviderTypeGoogle represents Google Maps geocoding provider.
	ProviderTypeGoogle ProviderType = "google"
	// ProviderTypeNominatim represents OpenStreetMap Nominatim geocoding provider.
	ProviderTypeNominatim ProviderType = "nominatim"
	// ProviderTypeVisicom represents Visicom Maps geocoding provider.
	ProviderTypeVisicom ProviderType = "visicom"
)

// ErrMissingAPIKey is returned for providers that need a key when none is configured.
var ErrMissingAPIKey = errors.New("API key is required")

// ProviderConfig holds configuration for creating a geocoding provider.
type ProviderConfig struct {
	Type              ProviderType       // Type of provider to create
	APIKey            string             // API key (Amap and Google)
	BaseURL           string             // Optional endpoint override (Amap)
	TransientStatuses []int              // HTTP statuses treated as retryable, DefaultTransientStatuses when empty
	Limiter           *ratelimit.Limiter // Shared limiter, nil disables limiting
	Logger            *slog.Logger       // Logger for the provider
}

// NewProvider creates a geocoding provider based on the provided configuration.
// It applies the Factory pattern to decouple provider instantiation from business logic.
//
// Supported provider types:
// - "amap": Amap web service API (requires API key)
// - "google": Google Maps Places and Geocoding APIs (requires API key)
// - "nominatim": OpenStreetMap Nominatim API (free, no API key required)
// - "visicom": Visicom Data API (requires API key)
//
// Returns an error if the provider type is unsupported or if provider creation fails.
func NewProvider(config ProviderConfig) (Provider, error) {
	switch config.Type {
	case ProviderTypeAmap:
		return newAmapProvider(config)
	case ProviderTypeGoogle:
		return newGoogleProvider(config)
	case ProviderTypeNominatim:
		return newNominatimProvider(config)
	case ProviderTypeVisicom:
		return newVisicomProvider(config)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.Type)
	}
}

func newAmapProvider(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w for Amap provider", ErrMissingAPIKey)
	}

	opts := []AmapOption{WithAmapTransientStatuses(config.TransientStatuses)}
	if config.BaseURL != "" {
		opts = append(opts, WithAmapBaseURL(config.BaseURL))
	}

	return NewAmapProvider(config.APIKey, config.Limiter, config.Logger, opts...), nil
}

// newGoogleProvider creates a Google Maps geocoding provider. Throttling is
// done by the shared limiter, not by the client.
func newGoogleProvider(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w for Google provider", ErrMissingAPIKey)
	}

	client, err := maps.NewClient(maps.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}

	return NewGoogleProvider(client, config.Limiter, config.Logger), nil
}

// newNominatimProvider creates a Nominatim geocoding provider.
func newNominatimProvider(config ProviderConfig) (Provider, error) {
	// Nominatim is free and doesn't require an API key
	prov := NewNominatimProvider(config.Limiter, config.Logger)
	prov.transient = newTransientSet(config.TransientStatuses)
	return prov, nil
}

// newVisicomProvider creates a Visicom geocoding provider.
func newVisicomProvider(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w for Visicom provider", ErrMissingAPIKey)
	}

	if config.Limiter == nil {
		const defaultRate = 5
		config.Limiter = ratelimit.New(defaultRate, defaultRate)
		config.Logger.Warn("Rate limit for Visicom API not set, set a default value", "value", defaultRate)
	}

	prov := NewVisicomProvider(config.APIKey, config.Limiter, config.Logger)
	prov.transient = newTransientSet(config.TransientStatuses)
	return prov, nil
}
