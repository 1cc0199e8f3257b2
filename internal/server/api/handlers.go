package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/systemshift/reqgraph/internal/backend"
	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/logging"
	"github.com/systemshift/reqgraph/internal/query"
	"github.com/systemshift/reqgraph/internal/server/graph"
	"github.com/systemshift/reqgraph/internal/server/subscriptions"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Server holds the HTTP server dependencies
type Server struct {
	repo   graph.Repository
	logger *slog.Logger
	newID  func() string
	subs   *subscriptions.Manager
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithIDGenerator replaces uuid.NewString for element ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) { s.newID = fn }
}

// New creates a new API server
func New(repo graph.Repository, opts ...Option) *Server {
	s := &Server{
		repo:   repo,
		logger: logging.Discard(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router. Access logging is left to the caller.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/elements", func(r chi.Router) {
		r.Get("/", s.ListElements)
		r.Post("/{typeTag}", s.CreateElement)
		r.Get("/{typeTag}", s.ListElements)
		r.Get("/{typeTag}/{id}", s.GetElement)
		r.Patch("/{typeTag}/{id}", s.UpdateElement)
		r.Delete("/{typeTag}/{id}", s.DeleteElement)
	})

	if s.subs != nil {
		r.Route("/api/subscriptions", s.subscriptionRoutes)
	}

	return r
}

// CreateElement handles POST /api/elements/{typeTag}
// The server always assigns the id; an id inside attributes is dropped.
func (s *Server) CreateElement(w http.ResponseWriter, r *http.Request) {
	typeTag := chi.URLParam(r, "typeTag")

	var req backend.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.TypeTag != "" && req.TypeTag != typeTag {
		s.writeError(w, r, element.Invalid("type tag in body does not match path",
			map[string]string{"typeTag": fmt.Sprintf("expected %q", typeTag)}))
		return
	}
	req.TypeTag = typeTag

	if err := validate.Struct(req); err != nil {
		s.writeError(w, r, validationError(err))
		return
	}

	rec, err := s.repo.CreateElement(r.Context(), element.New(s.newID(), typeTag, req.Attributes))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("element created", "id", rec.ID, "typeTag", rec.TypeTag,
		"request_id", middleware.GetReqID(r.Context()))
	s.emit(subscriptions.EventElementCreated, rec)
	writeJSON(w, http.StatusCreated, rec)
}

// GetElement handles GET /api/elements/{typeTag}/{id}
func (s *Server) GetElement(w http.ResponseWriter, r *http.Request) {
	rec, err := s.repo.GetElement(r.Context(), chi.URLParam(r, "typeTag"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// UpdateElement handles PATCH /api/elements/{typeTag}/{id}
// The body carries only the changed attributes.
func (s *Server) UpdateElement(w http.ResponseWriter, r *http.Request) {
	typeTag, id := chi.URLParam(r, "typeTag"), chi.URLParam(r, "id")

	var changed map[string]any
	if err := decodeBody(r, &changed); err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := s.repo.UpdateElement(r.Context(), typeTag, id, changed)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("element updated", "id", id, "typeTag", typeTag, "attributes", len(changed),
		"request_id", middleware.GetReqID(r.Context()))
	s.emit(subscriptions.EventElementUpdated, rec)
	writeJSON(w, http.StatusOK, rec)
}

// DeleteElement handles DELETE /api/elements/{typeTag}/{id}
// ?force=true deletes even when other elements reference the target.
func (s *Server) DeleteElement(w http.ResponseWriter, r *http.Request) {
	typeTag, id := chi.URLParam(r, "typeTag"), chi.URLParam(r, "id")
	force := r.URL.Query().Get("force") == "true"

	if err := s.repo.DeleteElement(r.Context(), typeTag, id, force); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("element deleted", "id", id, "typeTag", typeTag, "force", force,
		"request_id", middleware.GetReqID(r.Context()))
	s.emit(subscriptions.EventElementDeleted, element.Record{ID: id, TypeTag: typeTag})
	w.WriteHeader(http.StatusNoContent)
}

// ListElements handles GET /api/elements and GET /api/elements/{typeTag}
func (s *Server) ListElements(w http.ResponseWriter, r *http.Request) {
	req, err := query.Parse(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if typeTag := chi.URLParam(r, "typeTag"); typeTag != "" {
		req.TypeTag = typeTag
	}

	page, err := s.repo.ListElements(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// writeError renders err as the error envelope. Non-taxonomy errors are
// logged and reported as server failures.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	env, status := backend.EnvelopeFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err,
			"request_id", middleware.GetReqID(r.Context()))
		env.Detail = "internal error"
	}
	writeJSON(w, status, env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return element.Invalid("request body is empty", nil)
		}
		return element.Invalid(fmt.Sprintf("malformed JSON: %v", err), nil)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return element.Invalid(err.Error(), nil)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		fields[fe.Field()] = msg
	}
	return element.Invalid("request failed validation", fields)
}
