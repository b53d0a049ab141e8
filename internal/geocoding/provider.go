package geocoding

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/UnknownOlympus/meridian/internal/models"
	"github.com/UnknownOlympus/meridian/internal/ratelimit"
)

// Provider is a geocoding backend with two search capabilities. Each call
// waits for the rate limiter and performs exactly one request; retries are
// left to the caller.
//
// Hits are ordered best match first. An empty slice with a nil error means the
// provider answered and found nothing. Errors for which IsTransient is true may
// succeed on a later attempt.
type Provider interface {
	Name() string
	SearchByKeyword(ctx context.Context, query, cityHint string) ([]Hit, error)
	SearchByStructuredAddress(ctx context.Context, query, cityHint string) ([]Hit, error)
}

// Hit is a raw provider answer that knows how to normalize itself.
type Hit interface {
	Normalize() (*models.GeocodeResult, error)
}

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// endpoint issues rate limited GET requests against one provider.
type endpoint struct {
	provider  string
	client    HTTPClient
	limiter   *ratelimit.Limiter
	transient transientSet
	userAgent string
	log       *slog.Logger
}

// get performs one GET and returns the body of a 200 answer. Statuses in the
// transient set become a *StatusError, 401 and 403 ErrUnauthorized, other
// non-200 statuses ErrNoHits.
func (e *endpoint) get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	if err := e.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	reqURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	reqURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &TransportError{Provider: e.provider, Op: "request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Provider: e.provider, Op: "read body", Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s status %d", ErrUnauthorized, e.provider, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		if e.transient.contains(resp.StatusCode) {
			e.log.WarnContext(ctx, "Provider API transient error", "provider", e.provider, "status", resp.StatusCode)
			return nil, &StatusError{Provider: e.provider, StatusCode: resp.StatusCode, Body: string(body)}
		}
		e.log.ErrorContext(ctx, "Provider API error", "provider", e.provider,
			"status", resp.StatusCode, "body", string(body))
		return nil, ErrNoHits
	}

	return body, nil
}
