package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"mira-api/internal/metrics"
)

// ErrSuperseded is returned to a suggestion query overtaken by a newer one.
var ErrSuperseded = errors.New("suggestion query superseded")

const (
	DefaultSuggestDebounce = 800 * time.Millisecond
	sessionIdleTTL         = 10 * time.Minute
)

// SuggestSession debounces autocomplete input from one editor. Only the most
// recent query may deliver results; older ones are cancelled and report
// ErrSuperseded.
type SuggestSession struct {
	geocoder Geocoder
	debounce time.Duration
	minChars int

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

func NewSuggestSession(geocoder Geocoder, debounce time.Duration, minChars int) *SuggestSession {
	if minChars < MinSearchLength {
		minChars = MinSearchLength
	}
	return &SuggestSession{
		geocoder: geocoder,
		debounce: debounce,
		minChars: minChars,
	}
}

// Query records q as the latest input, waits for the debounce window and
// returns the candidates if no newer input arrived in the meantime.
// Queries below the minimum length return no candidates without a lookup.
func (s *SuggestSession) Query(ctx context.Context, q string) ([]string, error) {
	ctx, gen := s.begin(ctx)
	defer s.finish(gen)

	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) < s.minChars {
		return nil, nil
	}

	if s.debounce > 0 {
		timer := time.NewTimer(s.debounce)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, s.abandoned(ctx, gen)
		case <-timer.C:
		}
	}

	if !s.isCurrent(gen) {
		return nil, s.abandoned(ctx, gen)
	}

	suggestions := s.geocoder.SearchAddress(ctx, q)
	if !s.isCurrent(gen) {
		return nil, s.abandoned(ctx, gen)
	}
	return suggestions, nil
}

// Select accepts a candidate and discards any query still in flight.
func (s *SuggestSession) Select(candidate string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return candidate
}

func (s *SuggestSession) begin(parent context.Context) (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.gen++
	s.cancel = cancel
	return ctx, s.gen
}

func (s *SuggestSession) finish(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen == gen && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *SuggestSession) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.gen == gen
}

func (s *SuggestSession) abandoned(ctx context.Context, gen uint64) error {
	if !s.isCurrent(gen) {
		metrics.SuggestSuperseded.Inc()
		return ErrSuperseded
	}
	return ctx.Err()
}

// SuggestService hands out one SuggestSession per actor and editor session.
type SuggestService struct {
	geocoder Geocoder
	debounce time.Duration
	minChars int

	mu       sync.Mutex
	sessions *CacheService[*SuggestSession]
}

func NewSuggestService(geocoder Geocoder, debounce time.Duration, minChars int) *SuggestService {
	return &SuggestService{
		geocoder: geocoder,
		debounce: debounce,
		minChars: minChars,
		sessions: NewCacheService[*SuggestSession](sessionIdleTTL, sessionIdleTTL),
	}
}

func (s *SuggestService) Close() {
	s.sessions.Close()
}

// Session returns the session for key, creating it on first use.
func (s *SuggestService) Session(key string) *SuggestSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions.Get(key)
	if !ok {
		session = NewSuggestSession(s.geocoder, s.debounce, s.minChars)
	}
	// Refresh the idle deadline on every use
	s.sessions.Set(key, session)
	return session
}

func (s *SuggestService) Suggest(ctx context.Context, actorId, sessionId, query string) ([]string, error) {
	return s.Session(actorId+":"+sessionId).Query(ctx, query)
}
