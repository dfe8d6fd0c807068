package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"mira-api/internal/metrics"
	"mira-api/internal/models"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"
	// MinSearchLength is the shortest query that reaches the search endpoint.
	MinSearchLength = 4
	MaxSuggestions  = 5

	unnamedRoad = "Logradouro não identificado"
)

// Geocoder resolves between coordinates and free-text addresses. Every method
// swallows transport and parse failures and reports them as an empty result.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) string
	GeocodeAddress(ctx context.Context, address string) *models.LatLng
	SearchAddress(ctx context.Context, query string) []string
}

type GeocodingConfig struct {
	BaseURL   string
	Language  string
	UserAgent string
	Timeout   time.Duration
	CacheTTL  time.Duration
}

// Performs reverse/forward geocoding and address search against the
// OpenStreetMap Nominatim API behind a circuit breaker.
type GeocodingService struct {
	baseURL    string
	language   string
	userAgent  string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	cache      *CacheService[string]
	logger     *zap.Logger
}

// Models the subset of Nominatim’s reverse response that we care about.
type nominatimReverse struct {
	Address map[string]string `json:"address"`
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func NewGeocodingService(cfg GeocodingConfig, logger *zap.Logger) *GeocodingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultNominatimURL
	}
	if cfg.Language == "" {
		cfg.Language = "pt-BR"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "mira-api"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}

	logger = logger.Named("geocoding")

	return &GeocodingService{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		language:   cfg.Language,
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    newGeocoderBreaker("nominatim", logger),
		cache:      NewCacheService[string](cfg.CacheTTL, cfg.CacheTTL),
		logger:     logger,
	}
}

// Close releases the cache janitor.
func (g *GeocodingService) Close() {
	g.cache.Close()
}

// ReverseGeocode formats the address at (lat, lng) as
// "{road}{, number}{, neighbourhood}, {city}{ - state}".
// It returns "" when the service has no address for the point or fails.
func (g *GeocodingService) ReverseGeocode(ctx context.Context, lat, lng float64) string {
	// Key rounded to avoid cache fragmentation
	key := fmt.Sprintf("reverse:%.4f,%.4f", lat, lng)
	if cached, ok := g.cache.Get(key); ok {
		metrics.GeocoderRequests.WithLabelValues("reverse", "cached").Inc()
		return cached
	}

	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	params.Set("addressdetails", "1")

	body, err := g.fetch(ctx, "reverse", "/reverse", params)
	if err != nil {
		g.logger.Warn("reverse geocoding failed", zap.Float64("lat", lat), zap.Float64("lng", lng), zap.Error(err))
		return ""
	}

	var data nominatimReverse
	if err := json.Unmarshal(body, &data); err != nil {
		metrics.GeocoderRequests.WithLabelValues("reverse", "error").Inc()
		g.logger.Warn("malformed reverse geocoding response", zap.Error(err))
		return ""
	}

	address := formatAddress(data.Address)
	if address == "" {
		metrics.GeocoderRequests.WithLabelValues("reverse", "empty").Inc()
		return ""
	}

	metrics.GeocoderRequests.WithLabelValues("reverse", "hit").Inc()
	g.cache.Set(key, address)
	return address
}

// GeocodeAddress returns the top-ranked coordinate for address, or nil.
// Blank input returns nil without a request.
func (g *GeocodingService) GeocodeAddress(ctx context.Context, address string) *models.LatLng {
	address = strings.TrimSpace(address)
	if address == "" {
		metrics.GeocoderRequests.WithLabelValues("forward", "skipped").Inc()
		return nil
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", address)
	params.Set("limit", "1")

	places, err := g.search(ctx, "forward", params)
	if err != nil {
		g.logger.Warn("forward geocoding failed", zap.String("address", address), zap.Error(err))
		return nil
	}
	if len(places) == 0 {
		metrics.GeocoderRequests.WithLabelValues("forward", "empty").Inc()
		return nil
	}

	lat, latErr := strconv.ParseFloat(places[0].Lat, 64)
	lng, lngErr := strconv.ParseFloat(places[0].Lon, 64)
	if err := errors.Join(latErr, lngErr); err != nil {
		metrics.GeocoderRequests.WithLabelValues("forward", "error").Inc()
		g.logger.Warn("unparseable forward geocoding result", zap.Error(err))
		return nil
	}

	metrics.GeocoderRequests.WithLabelValues("forward", "hit").Inc()
	return &models.LatLng{Lat: lat, Lng: lng}
}

// SearchAddress returns up to MaxSuggestions display names ranked by the
// service. Queries shorter than MinSearchLength return nil without a request.
func (g *GeocodingService) SearchAddress(ctx context.Context, query string) []string {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinSearchLength {
		metrics.GeocoderRequests.WithLabelValues("search", "skipped").Inc()
		return nil
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(MaxSuggestions))
	params.Set("addressdetails", "1")

	places, err := g.search(ctx, "search", params)
	if err != nil {
		if ctx.Err() != nil {
			g.logger.Debug("address search abandoned", zap.String("query", query))
			return nil
		}
		g.logger.Warn("address search failed", zap.String("query", query), zap.Error(err))
		return nil
	}

	suggestions := make([]string, 0, len(places))
	for _, p := range places {
		if p.DisplayName != "" {
			suggestions = append(suggestions, p.DisplayName)
		}
	}

	outcome := "hit"
	if len(suggestions) == 0 {
		outcome = "empty"
	}
	metrics.GeocoderRequests.WithLabelValues("search", outcome).Inc()
	return suggestions
}

func (g *GeocodingService) search(ctx context.Context, operation string, params url.Values) ([]nominatimPlace, error) {
	body, err := g.fetch(ctx, operation, "/search", params)
	if err != nil {
		return nil, err
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		metrics.GeocoderRequests.WithLabelValues(operation, "error").Inc()
		return nil, fmt.Errorf("decode %s response: %w", operation, err)
	}
	return places, nil
}

// Performs the actual HTTP request through the circuit breaker.
func (g *GeocodingService) fetch(ctx context.Context, operation, path string, params url.Values) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.GeocoderDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := g.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("User-Agent", g.userAgent)
		req.Header.Set("Accept-Language", g.language)

		resp, err := g.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", errCallerGone, ctx.Err())
			}
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("nominatim returned status %d", resp.StatusCode)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errCallerGone, ctx.Err())
		}
		return data, err
	})
	if err != nil {
		metrics.GeocoderRequests.WithLabelValues(operation, "error").Inc()
		return nil, err
	}
	return body, nil
}

// formatAddress builds the display address from Nominatim address details.
// A response without any address details yields "".
func formatAddress(address map[string]string) string {
	if len(address) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(firstNonEmpty(address["road"], unnamedRoad))
	if number := address["house_number"]; number != "" {
		b.WriteString(", " + number)
	}
	if district := firstNonEmpty(address["suburb"], address["neighbourhood"]); district != "" {
		b.WriteString(", " + district)
	}
	b.WriteString(", " + firstNonEmpty(address["city"], address["town"], address["village"]))
	if state := address["state"]; state != "" {
		b.WriteString(" - " + state)
	}

	return strings.TrimSpace(b.String())
}

// Returns the first non-empty string in the list.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
