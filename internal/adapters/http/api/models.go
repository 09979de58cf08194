package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/ratorade/internal/app"
	"github.com/okian/ratorade/internal/domain/model"
	"github.com/okian/ratorade/internal/domain/pairstats"
)

// ModelDependencies defines what the model handler needs.
type ModelDependencies interface {
	Derive(ctx context.Context, req service.DeriveRequest) (pairstats.Summary, error)
	Model(ctx context.Context, attrs model.Attrs, x, y any) (pairstats.Model, error)
	Predict(ctx context.Context, attrs model.Attrs, x, y any, rating float64) (float64, pairstats.Model, error)
}

// ModelHandler handles pair model derivation and lookups.
type ModelHandler struct {
	deps ModelDependencies
}

// NewModelHandler creates a new model handler.
func NewModelHandler(deps ModelDependencies) *ModelHandler {
	return &ModelHandler{deps: deps}
}

type deriveRequest struct {
	IDAttr          string   `json:"id_attr"`
	RatingAttr      string   `json:"rating_attr"`
	A               any      `json:"a"`
	B               any      `json:"b"`
	MinCount        *int     `json:"min_count" validate:"omitempty,gte=0"`
	MinRSquared     *float64 `json:"min_r_squared" validate:"omitempty,gte=0,lte=1"`
	MaxAbsSlope     *float64 `json:"max_abs_slope" validate:"omitempty,gte=0"`
	MaxAbsIntercept *float64 `json:"max_abs_intercept" validate:"omitempty,gte=0"`
}

type modelResponse struct {
	X         any     `json:"x"`
	Y         any     `json:"y"`
	IDAttr    string  `json:"id_attr"`
	Rating    string  `json:"rating_attr"`
	N         float64 `json:"n"`
	RSquared  float64 `json:"rr"`
	A         float64 `json:"a"`
	B         float64 `json:"b"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

func newModelResponse(m pairstats.Model) modelResponse {
	resp := modelResponse{
		X: m.X, Y: m.Y,
		IDAttr: m.Attrs.ID, Rating: m.Attrs.Rating,
		N: m.N, RSquared: m.RSquared, A: m.A, B: m.B,
	}
	if !m.UpdatedAt.IsZero() {
		resp.UpdatedAt = m.UpdatedAt.Format(time.RFC3339Nano)
	}
	return resp
}

type predictResponse struct {
	Rating     float64       `json:"rating"`
	Prediction float64       `json:"prediction"`
	Model      modelResponse `json:"model"`
}

// HandleDerive handles POST /models/derive. Without a and b every pair is
// derived.
func (h *ModelHandler) HandleDerive(w http.ResponseWriter, r *http.Request) {
	var req deriveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if (req.A == nil) != (req.B == nil) {
		writeFailure(w, fmt.Errorf("%w: a and b must be given together", ErrBadRequest))
		return
	}
	sum, err := h.deps.Derive(r.Context(), service.DeriveRequest{
		Attrs:           model.Attrs{ID: req.IDAttr, Rating: req.RatingAttr},
		A:               req.A,
		B:               req.B,
		MinCount:        req.MinCount,
		MinRSquared:     req.MinRSquared,
		MaxAbsSlope:     req.MaxAbsSlope,
		MaxAbsIntercept: req.MaxAbsIntercept,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// HandleGetModel handles GET /models/{x}/{y}.
func (h *ModelHandler) HandleGetModel(w http.ResponseWriter, r *http.Request) {
	x, y := pathPair(r)
	m, err := h.deps.Model(r.Context(), queryAttrs(r), x, y)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newModelResponse(m))
}

// HandlePredict handles GET /models/{x}/{y}/predict?rating=.
func (h *ModelHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	rating, _, err := queryFloat(r, "rating", true)
	if err != nil {
		writeFailure(w, err)
		return
	}
	x, y := pathPair(r)
	pred, m, err := h.deps.Predict(r.Context(), queryAttrs(r), x, y, rating)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, predictResponse{Rating: rating, Prediction: pred, Model: newModelResponse(m)})
}

func pathPair(r *http.Request) (any, any) {
	return model.ParseID(chi.URLParam(r, "x")), model.ParseID(chi.URLParam(r, "y"))
}
