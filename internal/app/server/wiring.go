package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"ad-decision-engine/internal/api"
	"ad-decision-engine/internal/config"
	"ad-decision-engine/internal/engine"
	"ad-decision-engine/internal/page"
	"ad-decision-engine/internal/rotation"
	"ad-decision-engine/internal/storage"
	"ad-decision-engine/internal/tracking"
	"ad-decision-engine/internal/visitor"
	"ad-decision-engine/internal/visitorstate"
)

var ErrUnknownSource = errors.New("unknown source kind")

// visitorCookie names the cookie that keys redis-backed visitor state.
const visitorCookie = "adcmdr_vid"

// OpenSource returns the configured group loader. The store is nil for file
// sources; callers use it for event recording and change notifications.
func OpenSource(ctx context.Context, cfg config.Config) (engine.Loader, *storage.Store, error) {
	switch strings.ToLower(cfg.Source.Kind) {
	case "file":
		if cfg.Source.File == "" {
			return nil, nil, fmt.Errorf("%w: file source without path", ErrUnknownSource)
		}
		return storage.FileLoader{Path: cfg.Source.File}, nil, nil
	case "postgres":
		st, err := storage.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			log.Warn().Err(err).Msg("ensure schema")
		}
		return st, st, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSource, cfg.Source.Kind)
	}
}

// Providers returns the visitor attribute providers and a cleanup func.
func Providers(cfg config.Config) ([]visitor.Provider, func(), error) {
	geo, err := visitor.OpenGeo(cfg.GeoIP.DBPath)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := geo.Close(); err != nil {
			log.Warn().Err(err).Msg("close geoip database")
		}
	}
	return []visitor.Provider{visitor.DeviceProvider{}, geo}, cleanup, nil
}

// StateFactory keeps visitor state in redis when a URL is configured and in
// cookies otherwise.
func StateFactory(cfg config.Config) (api.StateFactory, func(), error) {
	prefix, ttl := cfg.VisitorState.KeyPrefix, cfg.StateExpiry()
	if cfg.Redis.URL == "" {
		return api.CookieState(prefix, ttl), func() {}, nil
	}
	client, err := visitorstate.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis visitor state: %w", err)
	}
	cleanup := func() {
		if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			log.Warn().Err(err).Msg("close redis")
		}
	}
	return api.RedisState(client, cfg.Redis.Prefix, visitorCookie, prefix, ttl), cleanup, nil
}

// Channels builds the tracking channels enabled by cfg.
func Channels(t config.Tracking) []tracking.Channel {
	var out []tracking.Channel
	if t.MethodEnabled(string(tracking.Local)) {
		if t.Endpoint == "" {
			log.Warn().Msg("local tracking enabled without endpoint; skipping")
		} else {
			out = append(out, tracking.NewLocalChannel(t.Endpoint, t.SecurityToken))
		}
	}
	if t.MethodEnabled(string(tracking.Analytics)) {
		if t.AnalyticsEndpoint == "" || t.AnalyticsID == "" {
			log.Warn().Msg("analytics tracking enabled without endpoint or id; skipping")
		} else {
			out = append(out, tracking.NewAnalyticsChannel(t.AnalyticsEndpoint, t.AnalyticsID, uuid.NewString()))
		}
	}
	return out
}

// PageOptions maps configuration onto the page runtime.
func PageOptions(cfg config.Config) page.Options {
	return page.Options{
		ClassPrefix: cfg.Rotation.ClassPrefix,
		Rotation: rotation.Options{
			Interval:       ms(cfg.Rotation.IntervalMs),
			StopTrackAfter: ms(cfg.Rotation.StopTrackAfterMs),
		},
		Tracking: tracking.Options{
			TrackImpressions: cfg.Tracking.EventEnabled("impressions"),
			TrackClicks:      cfg.Tracking.EventEnabled("clicks"),
			Consent:          cfg.Tracking.Consent,
			ClickTimeout:     cfg.Tracking.ClickTimeout(),
		},
	}
}
