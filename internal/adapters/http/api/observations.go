package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	service "github.com/okian/ratorade/internal/app"
	"github.com/okian/ratorade/internal/domain/model"
)

// ObservationDependencies defines what the observation handler needs.
type ObservationDependencies interface {
	Ingest(ctx context.Context, obs *model.Observation) (service.IngestResult, error)
	RecordNow(ctx context.Context, obs *model.Observation) error
}

// ObservationHandler handles rating observations.
type ObservationHandler struct {
	deps ObservationDependencies
}

// NewObservationHandler creates a new observation handler.
func NewObservationHandler(deps ObservationDependencies) *ObservationHandler {
	return &ObservationHandler{deps: deps}
}

// observationRequest is the body of POST /observations: the new rating,
// the reference rating by the same rater and, for a revision, the rating
// the new one replaces.
type observationRequest struct {
	ID         string         `json:"id"`
	New        map[string]any `json:"new" validate:"required"`
	Ref        map[string]any `json:"ref" validate:"required"`
	Previous   map[string]any `json:"previous,omitempty"`
	IDAttr     string         `json:"id_attr"`
	RatingAttr string         `json:"rating_attr"`
	TS         string         `json:"ts" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

func (o observationRequest) observation() *model.Observation {
	obs := &model.Observation{
		ID:    o.ID,
		New:   model.Record(o.New),
		Ref:   model.Record(o.Ref),
		Attrs: model.Attrs{ID: o.IDAttr, Rating: o.RatingAttr},
	}
	if o.Previous != nil {
		obs.Previous = model.Record(o.Previous)
	}
	if o.TS != "" {
		obs.TS, _ = time.Parse(time.RFC3339, o.TS)
	}
	return obs
}

type ackResponse struct {
	Status    string `json:"status"`
	ID        string `json:"id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

// HandlePostObservation handles POST /observations. With ?sync=true the
// observation is recorded before responding; otherwise it is queued.
func (h *ObservationHandler) HandlePostObservation(w http.ResponseWriter, r *http.Request) {
	var req observationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	obs := req.observation()

	if r.URL.Query().Get("sync") == "true" {
		if err := h.deps.RecordNow(r.Context(), obs); err != nil {
			writeFailure(w, fmt.Errorf("record observation: %w", err))
			return
		}
		writeJSON(w, http.StatusOK, ackResponse{Status: "recorded", ID: obs.ID})
		return
	}

	res, err := h.deps.Ingest(r.Context(), obs)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if res.Duplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", ID: res.ID, Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", ID: res.ID})
}
