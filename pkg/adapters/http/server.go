package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/weave/internal/compiler"
	"github.com/aretw0/weave/internal/logging"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/loader"
	"github.com/aretw0/weave/pkg/runstate"
	"github.com/go-chi/chi/v5"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 1 << 20

// Engine is the part of weave.Engine served over HTTP.
type Engine interface {
	Validate(g domain.Graph) domain.ValidationReport
	Compile(g domain.Graph) compiler.Artifact
	Publish(ctx context.Context, g domain.Graph) (*domain.Program, error)
	Start(ctx context.Context, programID string, input map[string]any) (string, error)
	Resume(ctx context.Context, runID string) error
	Checkpoint(ctx context.Context, runID string) (domain.Checkpoint, error)
}

// Server holds the handlers of the HTTP adapter.
type Server struct {
	Engine  Engine
	Streams *StreamManager

	version string
	metrics http.Handler
	logger  *slog.Logger
}

// Option configures the handler.
type Option func(*Server)

// WithLogger sets the logger. Default is no-op.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithVersion sets the version reported by /info.
func WithVersion(v string) Option { return func(s *Server) { s.version = v } }

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithStreams shares a StreamManager, typically one whose Hooks are
// installed on the engine.
func WithStreams(sm *StreamManager) Option { return func(s *Server) { s.Streams = sm } }

// Envelope wraps every JSON response.
type Envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StartRequest is the body of POST /v1/runs.
type StartRequest struct {
	ProgramID string         `json:"program_id"`
	Input     map[string]any `json:"input,omitempty"`
}

// NewServer creates the adapter state without routing.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{Engine: engine, version: "dev", logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.logger)
	}
	return s
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	return NewServer(engine, opts...).Routes()
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/validate", s.Validate)
		r.Post("/compile", s.Compile)
		r.Post("/programs", s.Publish)
		r.Post("/runs", s.Start)
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/checkpoint", s.GetCheckpoint)
			r.Post("/resume", s.Resume)
			r.Get("/events", s.SubscribeEvents)
		})
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Validate handles POST /v1/validate. The report is relayed as is; success
// mirrors report.ok.
func (s *Server) Validate(w http.ResponseWriter, r *http.Request) {
	g, ok := s.readGraph(w, r)
	if !ok {
		return
	}
	report := s.Engine.Validate(g)
	s.write(w, http.StatusOK, Envelope{Success: report.OK, Data: report})
}

// Compile handles POST /v1/compile.
func (s *Server) Compile(w http.ResponseWriter, r *http.Request) {
	g, ok := s.readGraph(w, r)
	if !ok {
		return
	}
	art := s.Engine.Compile(g)
	s.write(w, http.StatusOK, Envelope{Success: art.Validation.OK, Data: art})
}

// Publish handles POST /v1/programs.
func (s *Server) Publish(w http.ResponseWriter, r *http.Request) {
	g, ok := s.readGraph(w, r)
	if !ok {
		return
	}
	prog, err := s.Engine.Publish(r.Context(), g)
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		s.write(w, http.StatusUnprocessableEntity, Envelope{
			Data:  verr.Report,
			Error: &APIError{Code: "INVALID_GRAPH", Message: verr.Error()},
		})
		return
	}
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, "PUBLISH_FAILED", err)
		return
	}
	s.write(w, http.StatusCreated, Envelope{Success: true, Data: map[string]any{
		"program_id":  prog.ID,
		"workflow_id": prog.WorkflowID,
		"estimate":    prog.Estimate,
	}})
}

// Start handles POST /v1/runs.
func (s *Server) Start(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.fail(w, r, http.StatusBadRequest, "INVALID_BODY", err)
		return
	}
	if body.ProgramID == "" {
		s.fail(w, r, http.StatusBadRequest, "INVALID_BODY", errors.New("program_id is required"))
		return
	}

	runID, err := s.Engine.Start(r.Context(), body.ProgramID, body.Input)
	switch {
	case errors.Is(err, domain.ErrProgramNotFound):
		s.fail(w, r, http.StatusNotFound, "PROGRAM_NOT_FOUND", err)
	case errors.Is(err, runstate.ErrInputTooLarge), errors.Is(err, runstate.ErrInvalidUTF8):
		s.fail(w, r, http.StatusBadRequest, "INVALID_INPUT", err)
	case err != nil:
		s.fail(w, r, http.StatusInternalServerError, "START_FAILED", err)
	default:
		s.write(w, http.StatusAccepted, Envelope{Success: true, Data: map[string]string{"run_id": runID}})
	}
}

// Resume handles POST /v1/runs/{runID}/resume.
func (s *Server) Resume(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	err := s.Engine.Resume(r.Context(), runID)
	switch {
	case errors.Is(err, domain.ErrCheckpointNotFound):
		s.fail(w, r, http.StatusNotFound, "RUN_NOT_FOUND", err)
	case errors.Is(err, domain.ErrRunFinished):
		s.fail(w, r, http.StatusConflict, "RUN_FINISHED", err)
	case err != nil:
		s.fail(w, r, http.StatusInternalServerError, "RESUME_FAILED", err)
	default:
		s.write(w, http.StatusAccepted, Envelope{Success: true, Data: map[string]string{"run_id": runID}})
	}
}

// GetCheckpoint handles GET /v1/runs/{runID}/checkpoint.
func (s *Server) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.Engine.Checkpoint(r.Context(), chi.URLParam(r, "runID"))
	switch {
	case errors.Is(err, domain.ErrCheckpointNotFound):
		s.fail(w, r, http.StatusNotFound, "RUN_NOT_FOUND", err)
	case err != nil:
		s.fail(w, r, http.StatusInternalServerError, "STORE_FAILED", err)
	default:
		s.write(w, http.StatusOK, Envelope{Success: true, Data: cp})
	}
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.write(w, http.StatusOK, Envelope{Success: true, Data: map[string]string{"status": "ok"}})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.write(w, http.StatusOK, Envelope{Success: true, Data: map[string]string{
		"app":     "weave-http",
		"version": strings.TrimSpace(s.version),
	}})
}

// readGraph decodes a graph body. YAML is accepted when the content type
// says so; everything else is parsed as JSON.
func (s *Server) readGraph(w http.ResponseWriter, r *http.Request) (domain.Graph, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, "INVALID_BODY", err)
		return domain.Graph{}, false
	}
	format := loader.FormatJSON
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		format = loader.FormatYAML
	}
	g, err := loader.Parse(data, format)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, "INVALID_GRAPH_DOCUMENT", err)
		return domain.Graph{}, false
	}
	return g, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", code, "err", err)
	} else {
		s.logger.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "code", code, "err", err)
	}
	s.write(w, status, Envelope{Error: &APIError{Code: code, Message: err.Error()}})
}

func (s *Server) write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

// SubscribeEvents handles GET /v1/runs/{runID}/events as a server-sent event
// stream of the run's lifecycle events.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.fail(w, r, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", errors.New("streaming not supported"))
		return
	}
	runID := chi.URLParam(r, "runID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(runID)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
