// Package server exposes the HTTP ingress: evaluation triggers come in as
// POST requests and are republished on the action bus, and the current
// evaluation state is readable per form.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/formloop/formloop/internal/domain/evaluation"
	"github.com/formloop/formloop/internal/logger"
	"github.com/formloop/formloop/internal/ports"
)

const maxRequestBytes = 1 << 20

// EntitySink receives evaluated-values documents for the data tree.
type EntitySink interface {
	UpsertJSON(name string, data []byte) error
	Remove(name string)
}

// Server serves the ingress API.
type Server struct {
	bus      ports.EventBus
	store    ports.StateStore
	entities EntitySink
	log      ports.Logger
	http     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithServerLogger injects a logger.
func WithServerLogger(log ports.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithEntitySink enables the entity endpoints, writing into sink.
func WithEntitySink(sink EntitySink) Option {
	return func(s *Server) {
		s.entities = sink
	}
}

// New constructs a Server listening on addr.
func New(addr string, bus ports.EventBus, store ports.StateStore, opts ...Option) *Server {
	s := &Server{
		bus:   bus,
		store: store,
		log:   logger.NewNoOp(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler with logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/forms/{id}/evaluate", s.handleEvaluate)
	mux.HandleFunc("GET /v1/forms/{id}/state", s.handleState)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.entities != nil {
		mux.HandleFunc("PUT /v1/entities/{name}", s.handleEntityUpsert)
		mux.HandleFunc("DELETE /v1/entities/{name}", s.handleEntityRemove)
	}
	return s.withLogging(mux)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.log.Info(ctx, "http ingress listening", "addr", s.http.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// triggerType maps the optional reason query parameter onto an action type.
func triggerType(reason string) (string, bool) {
	switch reason {
	case "", "field":
		return ports.ActionFormFieldChanged, true
	case "init":
		return ports.ActionFormInit, true
	case "config":
		return ports.ActionFormConfigChanged, true
	}
	return "", false
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	formID := r.PathValue("id")

	actionType, ok := triggerType(r.URL.Query().Get("reason"))
	if !ok {
		writeError(w, http.StatusBadRequest, evaluation.NewValidationError(
			"reason must be one of init, field, config", nil))
		return
	}

	var req evaluation.EvaluationRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, evaluation.NewValidationError(
			"request body is not a valid evaluation request", map[string]any{"cause": err.Error()}))
		return
	}
	req.FormID = formID
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if err := s.bus.Publish(r.Context(), ports.Action{Type: actionType, Payload: req}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"requestId": req.ID,
		"formId":    req.FormID,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	formID := r.PathValue("id")

	out, ok := s.store.FormState(r.Context(), formID)
	if !ok {
		writeError(w, http.StatusNotFound, evaluation.NewNotFoundError(
			"no evaluation state for form", map[string]any{"form_id": formID}))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEntityUpsert(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, evaluation.NewValidationError(
			"entity body unreadable", map[string]any{"cause": err.Error()}))
		return
	}
	if err := s.entities.UpsertJSON(name, body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEntityRemove(w http.ResponseWriter, r *http.Request) {
	s.entities.Remove(r.PathValue("name"))
	w.WriteHeader(http.StatusNoContent)
}

// withLogging assigns every request a correlation id and logs its outcome.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logger.WithCorrelationID(r.Context(), uuid.NewString())
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r.WithContext(ctx))

		s.log.Info(ctx, "request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Code: string(evaluation.ErrCodeInternal), Message: err.Error()}
	var domainErr *evaluation.DomainError
	if errors.As(err, &domainErr) {
		body.Code = string(domainErr.Code)
		body.Message = domainErr.Message
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
