package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNominatim struct {
	*httptest.Server
	calls    atomic.Int32
	lastPath atomic.Value
	lastLang atomic.Value
	lastUA   atomic.Value
	lastQ    atomic.Value
}

func newFakeNominatim(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *fakeNominatim {
	t.Helper()
	f := &fakeNominatim{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.lastPath.Store(r.URL.Path)
		f.lastLang.Store(r.Header.Get("Accept-Language"))
		f.lastUA.Store(r.Header.Get("User-Agent"))
		f.lastQ.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestGeocoder(t *testing.T, baseURL string) *GeocodingService {
	t.Helper()
	g := NewGeocodingService(GeocodingConfig{BaseURL: baseURL, UserAgent: "mira-test"}, nil)
	t.Cleanup(g.Close)
	return g
}

func TestReverseGeocodeFormatsAddress(t *testing.T) {
	fake := newFakeNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"address":{"road":"Avenida Beira Mar","house_number":"3980","suburb":"Mucuripe","city":"Fortaleza","state":"Ceará","country":"Brasil"}}`))
	})
	g := newTestGeocoder(t, fake.URL)

	address := g.ReverseGeocode(context.Background(), -3.7172, -38.5283)

	assert.Equal(t, "Avenida Beira Mar, 3980, Mucuripe, Fortaleza - Ceará", address)
	assert.Equal(t, "/reverse", fake.lastPath.Load())
	assert.Equal(t, "pt-BR", fake.lastLang.Load())
	assert.Equal(t, "mira-test", fake.lastUA.Load())
}

func TestReverseGeocodeCachesHits(t *testing.T) {
	fake := newFakeNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"address":{"road":"Rua A","town":"Aquiraz"}}`))
	})
	g := newTestGeocoder(t, fake.URL)

	first := g.ReverseGeocode(context.Background(), -3.9, -38.39)
	second := g.ReverseGeocode(context.Background(), -3.9, -38.39)

	assert.Equal(t, "Rua A, Aquiraz", first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestFormatAddress(t *testing.T) {
	tests := []struct {
		name    string
		address map[string]string
		want    string
	}{
		{name: "no components", address: map[string]string{}, want: ""},
		{name: "nil", address: nil, want: ""},
		{
			name:    "missing road uses placeholder",
			address: map[string]string{"village": "Jericoacoara", "state": "Ceará"},
			want:    "Logradouro não identificado, Jericoacoara - Ceará",
		},
		{
			name:    "neighbourhood fallback",
			address: map[string]string{"road": "Rua B", "neighbourhood": "Centro", "city": "Sobral"},
			want:    "Rua B, Centro, Sobral",
		},
		{
			name:    "city preferred over town",
			address: map[string]string{"road": "Rua C", "city": "Fortaleza", "town": "Other"},
			want:    "Rua C, Fortaleza",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatAddress(tt.address))
		})
	}
}

func TestReverseGeocodeFailuresReturnEmpty(t *testing.T) {
	tests := []struct {
		name    string
		handler func(w http.ResponseWriter, r *http.Request)
	}{
		{name: "server error", handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{name: "malformed json", handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"address":`)) }},
		{name: "unable to geocode", handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"error":"Unable to geocode"}`)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeNominatim(t, tt.handler)
			g := newTestGeocoder(t, fake.URL)
			assert.Empty(t, g.ReverseGeocode(context.Background(), 1, 2))
		})
	}
}

func TestReverseGeocodeUnreachable(t *testing.T) {
	g := newTestGeocoder(t, "http://127.0.0.1:1")
	assert.Empty(t, g.ReverseGeocode(context.Background(), 1, 2))
}

func TestGeocodeAddress(t *testing.T) {
	fake := newFakeNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":"-3.7319","lon":"-38.5267","display_name":"Fortaleza, Ceará, Brasil"},{"lat":"0","lon":"0","display_name":"other"}]`))
	})
	g := newTestGeocoder(t, fake.URL)

	got := g.GeocodeAddress(context.Background(), "Fortaleza")

	require.NotNil(t, got)
	assert.InDelta(t, -3.7319, got.Lat, 1e-9)
	assert.InDelta(t, -38.5267, got.Lng, 1e-9)
	assert.Equal(t, "/search", fake.lastPath.Load())
	assert.Equal(t, "1", fake.lastQ.Load().(url.Values)["limit"][0])
}

func TestGeocodeAddressNoResult(t *testing.T) {
	fake := newFakeNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	g := newTestGeocoder(t, fake.URL)

	assert.Nil(t, g.GeocodeAddress(context.Background(), "nowhere at all"))
}

func TestShortInputsSkipNetwork(t *testing.T) {
	fake := newFakeNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL)
	})
	g := newTestGeocoder(t, fake.URL)

	assert.Nil(t, g.GeocodeAddress(context.Background(), ""))
	assert.Nil(t, g.GeocodeAddress(context.Background(), "   "))
	assert.Empty(t, g.SearchAddress(context.Background(), "ab"))
	assert.Empty(t, g.SearchAddress(context.Background(), "abc"))
	assert.Empty(t, g.SearchAddress(context.Background(), "são"))
	assert.Equal(t, int32(0), fake.calls.Load())
}

func TestSearchAddress(t *testing.T) {
	fake := newFakeNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"lat":"1","lon":"1","display_name":"Rua Dragão do Mar, Praia de Iracema"},
			{"lat":"2","lon":"2","display_name":"Rua Dragão, Messejana"}
		]`))
	})
	g := newTestGeocoder(t, fake.URL)

	got := g.SearchAddress(context.Background(), "Rua Dragão")

	assert.Equal(t, []string{"Rua Dragão do Mar, Praia de Iracema", "Rua Dragão, Messejana"}, got)
	q := fake.lastQ.Load().(url.Values)
	assert.Equal(t, "5", q["limit"][0])
	assert.Equal(t, "1", q["addressdetails"][0])
	assert.Equal(t, "pt-BR", fake.lastLang.Load())
}

func TestSearchAddressFailureReturnsEmpty(t *testing.T) {
	fake := newFakeNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	g := newTestGeocoder(t, fake.URL)

	assert.Empty(t, g.SearchAddress(context.Background(), "Avenida"))
}

func TestAbandonedQueriesKeepBreakerClosed(t *testing.T) {
	fake := newFakeNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "Rua lenta" {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`[{"lat":"-3.7319","lon":"-38.5267","display_name":"Rua Um, Fortaleza"}]`))
	})
	g := newTestGeocoder(t, fake.URL)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for range 10 {
		assert.Empty(t, g.SearchAddress(cancelled, "Rua Um"))
	}

	for range 10 {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		assert.Empty(t, g.SearchAddress(ctx, "Rua lenta"))
		cancel()
	}

	assert.Equal(t, gobreaker.StateClosed, g.breaker.State())
	assert.Zero(t, g.breaker.Counts().TotalFailures)
	assert.Equal(t, []string{"Rua Um, Fortaleza"}, g.SearchAddress(context.Background(), "Rua Um"))
	require.NotNil(t, g.GeocodeAddress(context.Background(), "Rua Um"))
}

func TestUpstreamFailuresOpenBreaker(t *testing.T) {
	fake := newFakeNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	g := newTestGeocoder(t, fake.URL)

	for range 10 {
		assert.Empty(t, g.SearchAddress(context.Background(), "Avenida"))
	}

	assert.Equal(t, gobreaker.StateOpen, g.breaker.State())
	assert.Equal(t, int32(10), fake.calls.Load())
	assert.Empty(t, g.SearchAddress(context.Background(), "Avenida"))
	assert.Equal(t, int32(10), fake.calls.Load())
}
