// Package api exposes the rating statistics and histogram operations over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/okian/ratorade/internal/adapters/http/swagger"
	"github.com/okian/ratorade/internal/adapters/mq/queue"
	service "github.com/okian/ratorade/internal/app"
	"github.com/okian/ratorade/internal/domain/filter"
	"github.com/okian/ratorade/internal/domain/histogram"
	"github.com/okian/ratorade/internal/domain/model"
	"github.com/okian/ratorade/internal/domain/pairstats"
	"github.com/okian/ratorade/pkg/logger"
)

const defaultMaxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	StatsProvider

	Ingest(ctx context.Context, obs *model.Observation) (service.IngestResult, error)
	RecordNow(ctx context.Context, obs *model.Observation) error

	Derive(ctx context.Context, req service.DeriveRequest) (pairstats.Summary, error)
	Model(ctx context.Context, attrs model.Attrs, x, y any) (pairstats.Model, error)
	Predict(ctx context.Context, attrs model.Attrs, x, y any, rating float64) (float64, pairstats.Model, error)

	BuildHistogram(ctx context.Context, req histogram.Request) (histogram.Result, error)
	Buckets(ctx context.Context, name, sortPath string, descending bool, limit int) ([]histogram.Bucket, error)
	Quantile(ctx context.Context, name string, q float64, field string) (histogram.Bucket, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	observationHandler *ObservationHandler
	modelHandler       *ModelHandler
	histogramHandler   *HistogramHandler

	maxBodyBytes int64
	logger       logger.Logger
}

// ServerOption applies a configuration option to the Server.
type ServerOption func(*Server)

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithLogger sets a custom logger for the server.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...ServerOption) *Server {
	s := &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		observationHandler: NewObservationHandler(deps),
		modelHandler:       NewModelHandler(deps),
		histogramHandler:   NewHistogramHandler(deps),
		maxBodyBytes:       defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("http")
	}
	return s
}

// Handler builds the router with every route attached.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(s.limitBody)

	swagger.Mount(r)
	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Post("/observations", s.observationHandler.HandlePostObservation)

	r.Route("/models", func(r chi.Router) {
		r.Post("/derive", s.modelHandler.HandleDerive)
		r.Get("/{x}/{y}", s.modelHandler.HandleGetModel)
		r.Get("/{x}/{y}/predict", s.modelHandler.HandlePredict)
	})

	r.Route("/histograms", func(r chi.Router) {
		r.Post("/", s.histogramHandler.HandleBuild)
		r.Get("/{name}", s.histogramHandler.HandleGetBuckets)
		r.Get("/{name}/quantile", s.histogramHandler.HandleQuantile)
	})

	return r
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

var validate = validator.New()

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure translates a domain error into its status code.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, histogram.ErrInvalidBinSpec):
		return http.StatusBadRequest, "invalid_bin_spec"
	case errors.Is(err, filter.ErrInvalidFilter):
		return http.StatusBadRequest, "invalid_filter"
	case errors.Is(err, pairstats.ErrNotFound), errors.Is(err, histogram.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, histogram.ErrDegenerateRange):
		return http.StatusUnprocessableEntity, "degenerate_range"
	case errors.Is(err, pairstats.ErrMissingAttribute):
		return http.StatusUnprocessableEntity, "missing_attribute"
	case errors.Is(err, queue.ErrFull):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, queue.ErrClosed), errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

// decodeJSON reads a JSON body into v and validates its struct tags.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func queryFloat(r *http.Request, name string, required bool) (float64, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return 0, false, fmt.Errorf("%w: missing %s", ErrBadRequest, name)
		}
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", ErrBadRequest, name, err)
	}
	return v, true, nil
}

func queryAttrs(r *http.Request) model.Attrs {
	q := r.URL.Query()
	return model.Attrs{ID: q.Get("id_attr"), Rating: q.Get("rating_attr")}
}
