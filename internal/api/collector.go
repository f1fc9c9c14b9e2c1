package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ad-decision-engine/internal/observability"
	"ad-decision-engine/internal/storage"
)

// Recorder persists accepted tracking events.
type Recorder interface {
	RecordEvents(ctx context.Context, events []storage.EventRow) error
}

// CollectorHandler receives the batches posted by the local tracking channel.
type CollectorHandler struct {
	Token    string
	Recorder Recorder // optional
	Clock    clock.Clock
}

func NewCollectorHandler(token string, rec Recorder) *CollectorHandler {
	return &CollectorHandler{Token: token, Recorder: rec, Clock: clock.New()}
}

type trackResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (h *CollectorHandler) Track(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, trackResponse{Error: "malformed form"})
		return
	}
	token := r.PostForm.Get("security_token")
	if h.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.Token)) != 1 {
		observability.RequestErrors.WithLabelValues("token").Inc()
		writeJSON(w, http.StatusForbidden, trackResponse{Error: "invalid security token"})
		return
	}

	action := strings.ToLower(r.PostForm.Get("action"))
	if action != "impression" && action != "click" {
		writeJSON(w, http.StatusBadRequest, trackResponse{Error: "unknown action"})
		return
	}
	var ids []string
	for _, id := range r.PostForm["ad_ids[]"] {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeJSON(w, http.StatusBadRequest, trackResponse{Error: "no ad ids"})
		return
	}

	observability.TrackedEvents.WithLabelValues(action).Add(float64(len(ids)))

	if h.Recorder != nil {
		at := h.Clock.Now().UnixMilli()
		rows := make([]storage.EventRow, len(ids))
		for i, id := range ids {
			rows[i] = storage.EventRow{ID: uuid.NewString(), AdID: id, Action: action, At: at}
		}
		if err := h.Recorder.RecordEvents(r.Context(), rows); err != nil {
			observability.RequestErrors.WithLabelValues("record").Inc()
			log.Error().Err(err).Str("action", action).Int("ads", len(ids)).Msg("record events failed")
			writeJSON(w, http.StatusInternalServerError, trackResponse{Error: "record failed"})
			return
		}
	}
	writeJSON(w, http.StatusOK, trackResponse{Success: true})
}
