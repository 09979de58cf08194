package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/okian/ratorade/internal/adapters/repository"
	"github.com/okian/ratorade/internal/domain/filter"
	"github.com/okian/ratorade/internal/domain/histogram"
)

// HistogramDependencies defines what the histogram handler needs.
type HistogramDependencies interface {
	BuildHistogram(ctx context.Context, req histogram.Request) (histogram.Result, error)
	Buckets(ctx context.Context, name, sortPath string, descending bool, limit int) ([]histogram.Bucket, error)
	Quantile(ctx context.Context, name string, q float64, field string) (histogram.Bucket, error)
}

// HistogramHandler handles histogram builds and reads.
type HistogramHandler struct {
	deps HistogramDependencies
}

// NewHistogramHandler creates a new histogram handler.
func NewHistogramHandler(deps HistogramDependencies) *HistogramHandler {
	return &HistogramHandler{deps: deps}
}

// histogramRequest is the body of POST /histograms. Filter is a CEL
// expression over "record"; Where adds equality constraints.
type histogramRequest struct {
	Name       string          `json:"name" validate:"required"`
	Source     string          `json:"source" validate:"required"`
	GroupBy    []string        `json:"group_by" validate:"required,min=1,dive,required"`
	Bins       json.RawMessage `json:"bins,omitempty"`
	Filter     string          `json:"filter,omitempty"`
	Where      map[string]any  `json:"where,omitempty"`
	SortKey    string          `json:"sort_key,omitempty"`
	Prob       bool            `json:"prob"`
	Cumulative bool            `json:"cumulative"`
	Ranks      bool            `json:"ranks"`
	Ascending  bool            `json:"ascending"`
	Sample     float64         `json:"sample" validate:"gte=0"`
}

func (h histogramRequest) request() (histogram.Request, error) {
	req := histogram.Request{
		Source:     h.Source,
		Result:     h.Name,
		GroupKeys:  h.GroupBy,
		SortKey:    h.SortKey,
		Prob:       h.Prob,
		Cumulative: h.Cumulative,
		Ranks:      h.Ranks,
		Ascending:  h.Ascending,
		SampleSize: h.Sample,
	}
	if len(h.Bins) > 0 && string(h.Bins) != "null" {
		bins, err := histogram.ParseBinSpecs(h.Bins)
		if err != nil {
			return histogram.Request{}, err
		}
		req.Bins = bins
	}
	expr, err := filter.Compile(h.Filter)
	if err != nil {
		return histogram.Request{}, err
	}
	preds := []repository.Predicate{expr}
	for attr, v := range h.Where {
		preds = append(preds, repository.Eq(attr, v))
	}
	req.Filter = filter.Combine(preds...)
	return req, nil
}

// HandleBuild handles POST /histograms.
func (h *HistogramHandler) HandleBuild(w http.ResponseWriter, r *http.Request) {
	var body histogramRequest
	if err := decodeJSON(r, &body); err != nil {
		writeFailure(w, err)
		return
	}
	req, err := body.request()
	if err != nil {
		writeFailure(w, err)
		return
	}
	res, err := h.deps.BuildHistogram(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleGetBuckets handles GET /histograms/{name}?sort=&desc=&limit=.
func (h *HistogramHandler) HandleGetBuckets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeFailure(w, fmt.Errorf("%w: limit must be a non-negative integer", ErrBadRequest))
			return
		}
		limit = n
	}
	descending := q.Get("desc") != "false"
	buckets, err := h.deps.Buckets(r.Context(), chi.URLParam(r, "name"), q.Get("sort"), descending, limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if buckets == nil {
		buckets = []histogram.Bucket{}
	}
	writeJSON(w, http.StatusOK, buckets)
}

// HandleQuantile handles GET /histograms/{name}/quantile?q=&field=.
func (h *HistogramHandler) HandleQuantile(w http.ResponseWriter, r *http.Request) {
	q, _, err := queryFloat(r, "q", true)
	if err != nil {
		writeFailure(w, err)
		return
	}
	b, err := h.deps.Quantile(r.Context(), chi.URLParam(r, "name"), q, r.URL.Query().Get("field"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
