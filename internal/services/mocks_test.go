package services

import (
	"context"

	"mira-api/internal/models"

	"github.com/stretchr/testify/mock"
)

type MockGeocoder struct {
	mock.Mock
}

func (m *MockGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) string {
	args := m.Called(ctx, lat, lng)
	return args.String(0)
}

func (m *MockGeocoder) GeocodeAddress(ctx context.Context, address string) *models.LatLng {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*models.LatLng)
}

func (m *MockGeocoder) SearchAddress(ctx context.Context, query string) []string {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]string)
}

func ptr[T any](v T) *T {
	return &v
}
