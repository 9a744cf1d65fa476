// Package http exposes a controller over HTTP: state, commands, workflow selection,
// pending failure decisions, run history, a server-sent event stream and metrics.
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

	"github.com/go-chi/chi/v5"

	"github.com/aretw0/jobctl"
	"github.com/aretw0/jobctl/pkg/controller"
	"github.com/aretw0/jobctl/pkg/decision"
	"github.com/aretw0/jobctl/pkg/domain"
	"github.com/aretw0/jobctl/pkg/ports"
)

// Controller is the part of controller.Controller served over HTTP.
type Controller interface {
	Snapshot() controller.Status
	Dispatch(ctx context.Context, cmd domain.Command) error
	SelectWorkflow(w domain.Workflow) error
	MachineDisabled(ctx context.Context, reason string) error
	MachineEnabled(ctx context.Context, reason string) error
	Observe(fn func(ctx context.Context, ev *domain.StateEvent)) (cancel func())
}

var _ Controller = (*controller.Controller)(nil)

// Server routes HTTP requests to a controller.
type Server struct {
	ctrl    Controller
	streams *StreamManager
	mailbox *decision.Mailbox
	store   ports.RunStore
	metrics http.Handler
	logger  *slog.Logger

	router  chi.Router
	cancels []func()
}

// Option configures a Server.
type Option func(*Server)

// WithStreams shares a stream manager, typically also used as the controller status sink.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) { s.streams = sm }
}

// WithMailbox serves pending failure decisions from m.
func WithMailbox(m *decision.Mailbox) Option {
	return func(s *Server) { s.mailbox = m }
}

// WithRunStore serves run history from store.
func WithRunStore(store ports.RunStore) Option {
	return func(s *Server) { s.store = store }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the HTTP surface for ctrl. Call Close to detach it from the controller.
func NewServer(ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:   ctrl,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.streams == nil {
		s.streams = NewStreamManager(s.logger)
	}

	s.cancels = append(s.cancels, ctrl.Observe(func(_ context.Context, ev *domain.StateEvent) {
		s.streams.Publish("state", ev)
	}))
	if s.mailbox != nil {
		s.cancels = append(s.cancels, s.mailbox.Subscribe(func(req decision.Request) {
			s.streams.Publish("decision", req)
		}))
	}

	r := chi.NewRouter()
	r.Use(enableCORS)
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/state", s.GetState)
	r.Get("/transitions", s.GetTransitions)
	r.Post("/commands/{command}", s.PostCommand)
	r.Put("/workflow", s.PutWorkflow)
	r.Post("/machine/disabled", s.PostMachineDisabled)
	r.Post("/machine/enabled", s.PostMachineEnabled)
	r.Get("/decisions", s.GetDecisions)
	r.Post("/decisions/{id}", s.PostDecision)
	r.Get("/runs", s.GetRuns)
	r.Get("/runs/{id}", s.GetRun)
	r.Get("/events", s.SubscribeEvents)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close unsubscribes from the controller and the mailbox.
func (s *Server) Close() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "jobctl-http",
		"version": strings.TrimSpace(jobctl.Version),
	})
}

// GetState handles GET /state.
func (s *Server) GetState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// GetTransitions handles GET /transitions.
func (s *Server) GetTransitions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, controller.Transitions())
}

// PostCommand handles POST /commands/{command}.
func (s *Server) PostCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := domain.ParseCommand(chi.URLParam(r, "command"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ctrl.Dispatch(r.Context(), cmd); err != nil {
		s.logger.Warn("command rejected", "command", cmd, "err", err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, s.ctrl.Snapshot())
}

type workflowRequest struct {
	Workflow string `json:"workflow"`
}

// PutWorkflow handles PUT /workflow.
func (s *Server) PutWorkflow(w http.ResponseWriter, r *http.Request) {
	var body workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	wf, err := domain.ParseWorkflow(body.Workflow)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ctrl.SelectWorkflow(wf); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

type availabilityRequest struct {
	Reason string `json:"reason"`
}

// PostMachineDisabled handles POST /machine/disabled. The active run, if any, is aborted
// and start or step are refused until POST /machine/enabled.
func (s *Server) PostMachineDisabled(w http.ResponseWriter, r *http.Request) {
	s.setAvailability(w, r, s.ctrl.MachineDisabled)
}

// PostMachineEnabled handles POST /machine/enabled.
func (s *Server) PostMachineEnabled(w http.ResponseWriter, r *http.Request) {
	s.setAvailability(w, r, s.ctrl.MachineEnabled)
}

func (s *Server) setAvailability(w http.ResponseWriter, r *http.Request, set func(context.Context, string) error) {
	var body availabilityRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if body.Reason == "" {
		body.Reason = "reported over http"
	}
	if err := set(r.Context(), body.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, s.ctrl.Snapshot())
}

// GetDecisions handles GET /decisions.
func (s *Server) GetDecisions(w http.ResponseWriter, r *http.Request) {
	if s.mailbox == nil {
		s.writeJSON(w, http.StatusOK, []decision.Request{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.mailbox.Pending())
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

// PostDecision handles POST /decisions/{id}. The id "oldest" answers the oldest request.
func (s *Server) PostDecision(w http.ResponseWriter, r *http.Request) {
	if s.mailbox == nil {
		http.Error(w, "Decisions are not resolved over http", http.StatusNotFound)
		return
	}
	var body decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	d, err := domain.ParseDecision(body.Decision)
	if err != nil {
		s.writeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	if id == "oldest" {
		err = s.mailbox.ResolveOldest(d)
	} else {
		err = s.mailbox.Resolve(id, d)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRuns handles GET /runs, most recent first.
func (s *Server) GetRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, http.StatusOK, []*domain.RunRecord{})
		return
	}
	ids, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	runs := make([]*domain.RunRecord, 0, len(ids))
	for _, id := range ids {
		run, err := s.store.Load(r.Context(), id)
		if errors.Is(err, domain.ErrRunNotFound) {
			continue
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
		runs = append(runs, run)
	}
	s.writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /runs/{id}.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, domain.ErrRunNotFound)
		return
	}
	run, err := s.store.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// SubscribeEvents handles GET /events (SSE). Events are named state, status and decision.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: streaming not supported")
		return
	}

	ch, cancel := s.streams.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	if data, err := json.Marshal(s.ctrl.Snapshot()); err == nil {
		fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	}
	flusher.Flush()

	s.logger.Debug("SSE client connected")
	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data)
			flusher.Flush()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownCommand),
		errors.Is(err, domain.ErrUnknownWorkflow),
		errors.Is(err, domain.ErrUnknownDecision):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRunNotFound),
		errors.Is(err, decision.ErrRequestNotFound),
		errors.Is(err, domain.ErrUnknownProcessor):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrMachineDisabled),
		errors.Is(err, domain.ErrJobLocked):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProcessorInit):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
