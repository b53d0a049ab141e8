package service

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/UnknownOlympus/meridian/internal/batch"
	"github.com/UnknownOlympus/meridian/internal/geocoding"
	"github.com/UnknownOlympus/meridian/internal/metrics"
	"github.com/UnknownOlympus/meridian/internal/models"
	"github.com/UnknownOlympus/meridian/test/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type resolverFunc func(ctx context.Context, addr models.Address) (models.Resolution, error)

func (f resolverFunc) Resolve(ctx context.Context, addr models.Address) (models.Resolution, error) {
	return f(ctx, addr)
}

type countingFlusher struct {
	flushes atomic.Int32
	err     error
}

func (c *countingFlusher) Flush(context.Context) error {
	c.flushes.Add(1)
	return c.err
}

func newTestService(
	t *testing.T,
	repo *mocks.Interface,
	resolve resolverFunc,
	flusher *countingFlusher,
) *GeocodingService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := batch.Config{
		ConcurrencyLimit: 2,
		MaxRetries:       1,
		BackoffUnit:      time.Millisecond,
		Retryable:        geocoding.IsTransient,
	}
	return NewGeocodingService(
		logger, repo, resolve, flusher, metrics.NewMetrics(prometheus.NewRegistry()),
		cfg, time.Second, 100, "浙江省-",
	)
}

func foundResolution(t *testing.T) models.Resolution {
	t.Helper()
	res, err := models.NewResultBuilder("amap").Coordinates(30.24, 120.17).DisplayName("上城区").Build()
	require.NoError(t, err)
	return models.Resolution{Result: res, MatchMethod: models.MatchPlaceSearch, ValidationPassed: true, Attempts: 1}
}

func TestProcessPlaces(t *testing.T) {
	ctx := t.Context()

	t.Run("successful processing", func(t *testing.T) {
		mockRepo := mocks.NewInterface(t)
		flusher := &countingFlusher{}
		resolution := foundResolution(t)
		var seen string
		service := newTestService(t, mockRepo, func(_ context.Context, addr models.Address) (models.Resolution, error) {
			seen = addr.String()
			return resolution, nil
		}, flusher)

		mockRepo.On("FetchPlacesForGeocoding", ctx, 100).
			Return([]models.Place{{ID: 1, Address: "杭州市-上城区"}}, nil).Once()
		mockRepo.On("UpdatePlaceCoordinates", mock.Anything, 1, resolution).Return(nil).Once()

		service.processPlaces(ctx)

		assert.Equal(t, "浙江省-杭州市-上城区", seen, "address prefix is prepended")
		assert.Equal(t, int32(1), flusher.flushes.Load())
	})

	t.Run("fetch places return error", func(t *testing.T) {
		mockRepo := mocks.NewInterface(t)
		flusher := &countingFlusher{}
		service := newTestService(t, mockRepo, nil, flusher)

		mockRepo.On("FetchPlacesForGeocoding", ctx, 100).Return(nil, assert.AnError).Once()

		service.processPlaces(ctx)

		assert.Zero(t, flusher.flushes.Load())
	})

	t.Run("fetch places return empty list", func(t *testing.T) {
		mockRepo := mocks.NewInterface(t)
		service := newTestService(t, mockRepo, nil, &countingFlusher{})

		mockRepo.On("FetchPlacesForGeocoding", ctx, 100).Return([]models.Place{}, nil).Once()

		service.processPlaces(ctx)
	})

	t.Run("unresolved place increments failure count", func(t *testing.T) {
		mockRepo := mocks.NewInterface(t)
		var calls atomic.Int32
		service := newTestService(t, mockRepo, func(context.Context, models.Address) (models.Resolution, error) {
			calls.Add(1)
			return models.Resolution{Attempts: 4}, nil
		}, &countingFlusher{})

		mockRepo.On("FetchPlacesForGeocoding", ctx, 100).
			Return([]models.Place{{ID: 2, Address: "无名路"}}, nil).Once()
		mockRepo.On("IncrementFailureCount", ctx, 2, ErrNotResolved.Error()).Return(nil).Once()

		service.processPlaces(ctx)

		assert.Equal(t, int32(1), calls.Load(), "an unresolved place is not retried")
	})

	t.Run("transient provider error is retried then recorded", func(t *testing.T) {
		mockRepo := mocks.NewInterface(t)
		var calls atomic.Int32
		statusErr := &geocoding.StatusError{Provider: "amap", StatusCode: http.StatusServiceUnavailable}
		service := newTestService(t, mockRepo, func(context.Context, models.Address) (models.Resolution, error) {
			calls.Add(1)
			return models.Resolution{}, statusErr
		}, &countingFlusher{})

		mockRepo.On("FetchPlacesForGeocoding", ctx, 100).
			Return([]models.Place{{ID: 3, Address: "杭州市"}}, nil).Once()
		mockRepo.On("IncrementFailureCount", ctx, 3, statusErr.Error()).Return(nil).Once()

		service.processPlaces(ctx)

		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("error to increment failure count", func(t *testing.T) {
		mockRepo := mocks.NewInterface(t)
		service := newTestService(t, mockRepo, func(context.Context, models.Address) (models.Resolution, error) {
			return models.Resolution{}, geocoding.ErrUnauthorized
		}, &countingFlusher{})

		mockRepo.On("FetchPlacesForGeocoding", ctx, 100).
			Return([]models.Place{{ID: 4, Address: "杭州市"}}, nil).Once()
		mockRepo.On("IncrementFailureCount", ctx, 4, geocoding.ErrUnauthorized.Error()).
			Return(assert.AnError).Once()

		service.processPlaces(ctx)
	})

	t.Run("update coordinates error is logged", func(t *testing.T) {
		mockRepo := mocks.NewInterface(t)
		flusher := &countingFlusher{err: assert.AnError}
		resolution := foundResolution(t)
		service := newTestService(t, mockRepo, func(context.Context, models.Address) (models.Resolution, error) {
			return resolution, nil
		}, flusher)

		mockRepo.On("FetchPlacesForGeocoding", ctx, 100).
			Return([]models.Place{{ID: 5, Address: "杭州市"}}, nil).Once()
		mockRepo.On("UpdatePlaceCoordinates", mock.Anything, 5, resolution).Return(assert.AnError).Once()

		service.processPlaces(ctx)

		assert.Equal(t, int32(1), flusher.flushes.Load())
	})
}

func TestRun_StopsOnCancel(t *testing.T) {
	mockRepo := mocks.NewInterface(t)
	service := newTestService(t, mockRepo, nil, &countingFlusher{})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	done := make(chan struct{})
	go func() {
		service.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
}
