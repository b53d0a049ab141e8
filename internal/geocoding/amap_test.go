package geocoding_test

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/UnknownOlympus/meridian/internal/geocoding"
	"github.com/UnknownOlympus/meridian/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const amapPOIBody = `{
	"status": "1",
	"info": "OK",
	"infocode": "10000",
	"count": "1",
	"pois": [{
		"id": "B023B0BRSW",
		"name": "杭州博物馆",
		"location": "120.163,30.243",
		"pname": "浙江省",
		"cityname": "杭州市",
		"adname": "上城区",
		"address": []
	}]
}`

const amapGeocodeBody = `{
	"status": "1",
	"info": "OK",
	"geocodes": [{
		"formatted_address": "浙江省杭州市上城区",
		"province": "浙江省",
		"city": "杭州市",
		"district": "上城区",
		"location": "120.171,30.250",
		"level": "区县"
	}]
}`

func newAmapServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestAmapProvider_SearchByKeyword(t *testing.T) {
	t.Parallel()
	logger := slog.Default()

	t.Run("successful place search", func(t *testing.T) {
		t.Parallel()
		srv := newAmapServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v3/place/text", r.URL.Path)
			query := r.URL.Query()
			assert.Equal(t, "test-key", query.Get("key"))
			assert.Equal(t, "浙江省杭州市上城区", query.Get("keywords"))
			assert.Equal(t, "浙江省", query.Get("city"))
			assert.Equal(t, "true", query.Get("citylimit"))
			assert.Equal(t, "JSON", query.Get("output"))
			fmt.Fprint(w, amapPOIBody)
		})
		prov := geocoding.NewAmapProvider("test-key", nil, logger, geocoding.WithAmapBaseURL(srv.URL))

		hits, err := prov.SearchByKeyword(t.Context(), "浙江省杭州市上城区", "浙江省")

		require.NoError(t, err)
		require.Len(t, hits, 1)
		res, err := hits[0].Normalize()
		require.NoError(t, err)
		assert.Equal(t, "amap", res.Provider())
		assert.Equal(t, "杭州博物馆", res.DisplayName())
		assert.Equal(t, "上城区", res.Locality())
		assert.Equal(t, "CN", res.CountryCode())
		assert.Equal(t, "B023B0BRSW", res.ProviderID())
		assert.InDelta(t, 30.243, res.Coordinates().Latitude, 1e-9)
		assert.InDelta(t, 120.163, res.Coordinates().Longitude, 1e-9)
		assert.Equal(t, map[string]string{"province": "浙江省", "city": "杭州市", "district": "上城区"},
			res.RawAddressParts())
	})

	t.Run("non-OK status means no hits", func(t *testing.T) {
		t.Parallel()
		srv := newAmapServer(t, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"status":"0","info":"INVALID_USER_KEY","infocode":"10001"}`)
		})
		prov := geocoding.NewAmapProvider("k", nil, logger, geocoding.WithAmapBaseURL(srv.URL))

		hits, err := prov.SearchByKeyword(t.Context(), "q", "")

		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("transient HTTP status", func(t *testing.T) {
		t.Parallel()
		srv := newAmapServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		prov := geocoding.NewAmapProvider("k", nil, logger, geocoding.WithAmapBaseURL(srv.URL))

		_, err := prov.SearchByKeyword(t.Context(), "q", "")

		var statusErr *geocoding.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
		assert.True(t, geocoding.IsTransient(err))
	})

	t.Run("permanent HTTP status means no hits", func(t *testing.T) {
		t.Parallel()
		srv := newAmapServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		prov := geocoding.NewAmapProvider("k", nil, logger, geocoding.WithAmapBaseURL(srv.URL))

		hits, err := prov.SearchByKeyword(t.Context(), "q", "")

		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("custom transient set", func(t *testing.T) {
		t.Parallel()
		srv := newAmapServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		prov := geocoding.NewAmapProvider("k", nil, logger,
			geocoding.WithAmapBaseURL(srv.URL),
			geocoding.WithAmapTransientStatuses([]int{http.StatusNotFound}))

		_, err := prov.SearchByKeyword(t.Context(), "q", "")

		assert.True(t, geocoding.IsTransient(err))
	})

	t.Run("error - unauthorized", func(t *testing.T) {
		t.Parallel()
		srv := newAmapServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
		prov := geocoding.NewAmapProvider("k", nil, logger, geocoding.WithAmapBaseURL(srv.URL))

		_, err := prov.SearchByKeyword(t.Context(), "q", "")

		require.ErrorIs(t, err, geocoding.ErrUnauthorized)
		assert.False(t, geocoding.IsTransient(err))
	})

	t.Run("error - malformed JSON is transient", func(t *testing.T) {
		t.Parallel()
		srv := newAmapServer(t, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"status": "1", "pois": [`)
		})
		prov := geocoding.NewAmapProvider("k", nil, logger, geocoding.WithAmapBaseURL(srv.URL))

		_, err := prov.SearchByKeyword(t.Context(), "q", "")

		var transportErr *geocoding.TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, "decode response", transportErr.Op)
		assert.True(t, geocoding.IsTransient(err))
	})

	t.Run("error - transport failure", func(t *testing.T) {
		t.Parallel()
		client := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
			return nil, assert.AnError
		}}
		prov := geocoding.NewAmapProvider("k", nil, logger, geocoding.WithAmapHTTPClient(client))

		_, err := prov.SearchByKeyword(t.Context(), "q", "")

		require.ErrorIs(t, err, assert.AnError)
		assert.True(t, geocoding.IsTransient(err))
	})

	t.Run("each call takes a limiter token", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := newAmapServer(t, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			fmt.Fprint(w, amapPOIBody)
		})
		limiter := ratelimit.New(0.001, 1)
		prov := geocoding.NewAmapProvider("k", limiter, logger, geocoding.WithAmapBaseURL(srv.URL))

		_, err := prov.SearchByKeyword(t.Context(), "q", "")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err = prov.SearchByKeyword(ctx, "q", "")

		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestAmapProvider_SearchByStructuredAddress(t *testing.T) {
	t.Parallel()

	srv := newAmapServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/geocode/geo", r.URL.Path)
		assert.Equal(t, "浙江省杭州市上城区", r.URL.Query().Get("address"))
		assert.Equal(t, "浙江省", r.URL.Query().Get("city"))
		fmt.Fprint(w, amapGeocodeBody)
	})
	prov := geocoding.NewAmapProvider("k", nil, slog.Default(), geocoding.WithAmapBaseURL(srv.URL))

	hits, err := prov.SearchByStructuredAddress(t.Context(), "浙江省杭州市上城区", "浙江省")

	require.NoError(t, err)
	require.Len(t, hits, 1)
	res, err := hits[0].Normalize()
	require.NoError(t, err)
	assert.Equal(t, "浙江省杭州市上城区", res.DisplayName())
	assert.Equal(t, "上城区", res.Locality())
	assert.InDelta(t, 30.250, res.Coordinates().Latitude, 1e-9)
}

func TestAmapHit_InvalidLocation(t *testing.T) {
	t.Parallel()

	srv := newAmapServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"1","pois":[{"name":"x","location":"not-a-point"}]}`)
	})
	prov := geocoding.NewAmapProvider("k", nil, slog.Default(), geocoding.WithAmapBaseURL(srv.URL))

	hits, err := prov.SearchByKeyword(t.Context(), "q", "")
	require.NoError(t, err)
	require.Len(t, hits, 1)

	_, err = hits[0].Normalize()
	require.ErrorIs(t, err, geocoding.ErrAmapInvalidLocation)
}
