// Package visitorstate keeps durable per-visitor counters used for frequency
// decisions and first-touch attribution.
//
// Every field lives under its own backend key with its own expiry. Counters
// are read-modify-write, serialized within one Store only; concurrent tabs
// sharing a backend may lose an increment.
package visitorstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MaxExpiry is the longest lifetime any key may be given.
const MaxExpiry = 400 * 24 * time.Hour

var ErrNotFound = errors.New("key not found")

// Field names, prefixed with the store's key prefix.
const (
	FieldSiteImpressions      = "impressions"
	FieldReferrer             = "referrer"
	FieldViewportWidth        = "vw"
	FieldBrowserLanguage      = "lang"
	FieldAdImpressions        = "ad_impressions"
	FieldPlacementImpressions = "placement_impressions"
	FieldAdClicks             = "ad_clicks"
)

// Backend is durable key/value storage with per-key expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error) // ErrNotFound when absent or expired
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// State is the full decoded record of one visitor.
type State struct {
	SiteImpressions      int            `json:"site_impressions"`
	Referrer             string         `json:"referrer"`
	ViewportWidth        int            `json:"viewport_width"`
	BrowserLanguage      string         `json:"browser_language"`
	AdImpressions        map[string]int `json:"ad_impressions"`
	PlacementImpressions map[string]int `json:"placement_impressions"`
	AdClicks             map[string]int `json:"ad_clicks"`
}

type Store struct {
	mu     sync.Mutex // serializes read-modify-write updates
	b      Backend
	prefix string
	ttl    time.Duration
}

// New returns a Store. ttl is capped at MaxExpiry; zero means MaxExpiry.
func New(b Backend, prefix string, ttl time.Duration) *Store {
	if ttl <= 0 || ttl > MaxExpiry {
		ttl = MaxExpiry
	}
	return &Store{b: b, prefix: prefix, ttl: ttl}
}

func (s *Store) key(field string) string { return s.prefix + field }

// Get decodes field into dst. Missing, expired or malformed values leave dst
// untouched and report false.
func (s *Store) Get(ctx context.Context, field string, dst any) bool {
	raw, err := s.b.Get(ctx, s.key(field))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn().Err(err).Str("field", field).Msg("visitor state read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Debug().Err(err).Str("field", field).Msg("malformed visitor state; using default")
		return false
	}
	return true
}

// Set overwrites field.
func (s *Store) Set(ctx context.Context, field string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", field, err)
	}
	if err := s.b.Set(ctx, s.key(field), raw, s.ttl); err != nil {
		return fmt.Errorf("write %s: %w", field, err)
	}
	return nil
}

// SetOnce writes v only if field holds no valid value yet. It reports
// whether the write happened.
func (s *Store) SetOnce(ctx context.Context, field string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var existing json.RawMessage
	if s.Get(ctx, field, &existing) {
		return false, nil
	}
	return true, s.Set(ctx, field, v)
}

// Increment adds one to a counter. With an empty subkey field is a plain
// counter, otherwise a map of counters keyed by subkey. The full value is
// written back.
func (s *Store) Increment(ctx context.Context, field, subkey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subkey == "" {
		var n int
		s.Get(ctx, field, &n)
		n++
		return n, s.Set(ctx, field, n)
	}
	m := s.counters(ctx, field)
	m[subkey]++
	return m[subkey], s.Set(ctx, field, m)
}

func (s *Store) counters(ctx context.Context, field string) map[string]int {
	m := map[string]int{}
	if !s.Get(ctx, field, &m) || m == nil {
		return map[string]int{}
	}
	return m
}

func (s *Store) SiteImpressions(ctx context.Context) int {
	var n int
	s.Get(ctx, FieldSiteImpressions, &n)
	return n
}

func (s *Store) IncrementSiteImpressions(ctx context.Context) (int, error) {
	return s.Increment(ctx, FieldSiteImpressions, "")
}

func (s *Store) AdImpressions(ctx context.Context, adID string) int {
	return s.counters(ctx, FieldAdImpressions)[adID]
}

func (s *Store) IncrementAdImpression(ctx context.Context, adID string) (int, error) {
	return s.Increment(ctx, FieldAdImpressions, adID)
}

func (s *Store) PlacementImpressions(ctx context.Context, placementID string) int {
	return s.counters(ctx, FieldPlacementImpressions)[placementID]
}

func (s *Store) IncrementPlacementImpression(ctx context.Context, placementID string) (int, error) {
	return s.Increment(ctx, FieldPlacementImpressions, placementID)
}

func (s *Store) AdClicks(ctx context.Context, adID string) int {
	return s.counters(ctx, FieldAdClicks)[adID]
}

func (s *Store) IncrementAdClick(ctx context.Context, adID string) (int, error) {
	return s.Increment(ctx, FieldAdClicks, adID)
}

func (s *Store) Referrer(ctx context.Context) string {
	var v string
	s.Get(ctx, FieldReferrer, &v)
	return v
}

// SetReferrerOnce records first-touch attribution. Empty referrers are not stored.
func (s *Store) SetReferrerOnce(ctx context.Context, ref string) (bool, error) {
	if ref == "" {
		return false, nil
	}
	return s.SetOnce(ctx, FieldReferrer, ref)
}

func (s *Store) SetViewportWidth(ctx context.Context, w int) error {
	return s.Set(ctx, FieldViewportWidth, w)
}

func (s *Store) SetBrowserLanguage(ctx context.Context, lang string) error {
	return s.Set(ctx, FieldBrowserLanguage, lang)
}

// Snapshot reads every field, substituting defaults for missing ones.
func (s *Store) Snapshot(ctx context.Context) State {
	st := State{
		AdImpressions:        s.counters(ctx, FieldAdImpressions),
		PlacementImpressions: s.counters(ctx, FieldPlacementImpressions),
		AdClicks:             s.counters(ctx, FieldAdClicks),
	}
	s.Get(ctx, FieldSiteImpressions, &st.SiteImpressions)
	s.Get(ctx, FieldReferrer, &st.Referrer)
	s.Get(ctx, FieldViewportWidth, &st.ViewportWidth)
	s.Get(ctx, FieldBrowserLanguage, &st.BrowserLanguage)
	return st
}
