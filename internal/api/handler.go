package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"ad-decision-engine/internal/engine"
	"ad-decision-engine/internal/observability"
	"ad-decision-engine/internal/selection"
	"ad-decision-engine/internal/visitor"
	"ad-decision-engine/internal/visitorstate"
)

// StateFactory opens the visitor state for one request.
//
// The delivery endpoint only reads counters (site impressions, first-touch
// referrer, viewport) and records the referrer once. The counters are written
// by the page runtime on the visitor's side through a visitorstate.Store over
// the same backend: one cookie per field named <key_prefix><field> holding
// base64url(JSON), or redis keys <redis_prefix><visitor id>:<key_prefix><field>
// for the visitor id cookie.
type StateFactory func(w http.ResponseWriter, r *http.Request) *visitorstate.Store

// CookieState keeps visitor state in per-field cookies.
func CookieState(prefix string, ttl time.Duration) StateFactory {
	return func(w http.ResponseWriter, r *http.Request) *visitorstate.Store {
		return visitorstate.New(visitorstate.NewCookieBackend(w, r), prefix, ttl)
	}
}

type DeliveryHandler struct {
	Eng       *engine.DeliveryEngine
	State     StateFactory
	Providers []visitor.Provider
	Clock     clock.Clock
}

func NewDeliveryHandler(eng *engine.DeliveryEngine, state StateFactory, providers ...visitor.Provider) *DeliveryHandler {
	return &DeliveryHandler{Eng: eng, State: state, Providers: providers, Clock: clock.New()}
}

type placementResponse struct {
	GroupID string                `json:"group_id"`
	Method  selection.Method      `json:"method"`
	Ads     []selection.Candidate `json:"ads"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Placement resolves the visitor context for the request and returns the
// ordered candidates of a group. An empty result is 204 so the caller can
// suppress the placement.
func (h *DeliveryHandler) Placement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := chi.URLParam(r, "groupID")

	snap := visitor.FromRequest(r, h.Clock.Now(), h.Providers...)
	if h.State != nil {
		st := h.State(w, r)
		seen := st.SiteImpressions(ctx)
		snap.SiteImpressions = seen
		snap.NewVisitor = seen == 0
		if _, err := st.SetReferrerOnce(ctx, snap.Referrer); err != nil {
			log.Warn().Err(err).Msg("store referrer")
		}
		if first := st.Referrer(ctx); first != "" {
			snap.Referrer = first
		}
		if snap.ViewportWidth == 0 {
			snap.ViewportWidth = st.Snapshot(ctx).ViewportWidth
		}
	} else {
		snap.NewVisitor = true
	}

	ads, err := h.Eng.Select(ctx, groupID, visitor.NewContext(snap))
	if errors.Is(err, engine.ErrUnknownGroup) {
		observability.RequestErrors.WithLabelValues("unknown_group").Inc()
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown group"})
		return
	}
	if err != nil {
		observability.RequestErrors.WithLabelValues("select").Inc()
		log.Error().Err(err).Str("group_id", groupID).Msg("select failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if len(ads) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	g, _ := h.Eng.Group(groupID)
	writeJSON(w, http.StatusOK, placementResponse{GroupID: groupID, Method: g.Method, Ads: ads})
}

// RedisState keeps visitor state in redis, keyed by a visitor id cookie.
func RedisState(client *redis.Client, redisPrefix, cookieName, keyPrefix string, ttl time.Duration) StateFactory {
	return func(w http.ResponseWriter, r *http.Request) *visitorstate.Store {
		id := visitorstate.VisitorID(w, r, cookieName, ttl)
		return visitorstate.New(visitorstate.NewRedisBackend(client, redisPrefix, id), keyPrefix, ttl)
	}
}
