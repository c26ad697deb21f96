package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pbaille/followup/internal/artifacts"
	"github.com/pbaille/followup/internal/engine"
	"github.com/pbaille/followup/internal/ingest"
	"github.com/pbaille/followup/internal/metrics"
)

// maxBodyBytes bounds an ingestion request.
const maxBodyBytes = 5 * 1024 * 1024

// Options configures a Server.
type Options struct {
	Addr        string
	CORSOrigins []string
	Decoder     ingest.Decoder
	Hub         *Hub
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Server exposes the engine over HTTP
type Server struct {
	engine  *engine.Engine
	decoder ingest.Decoder
	hub     *Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	addr    string
	origins []string
}

// New creates a new API server
func New(eng *engine.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	if hub.OriginPatterns == nil {
		hub.OriginPatterns = originHosts(opts.CORSOrigins)
	}
	return &Server{
		engine:  eng,
		decoder: opts.Decoder,
		hub:     hub,
		metrics: opts.Metrics,
		logger:  logger,
		addr:    opts.Addr,
		origins: opts.CORSOrigins,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Method(http.MethodGet, "/ws", s.hub)

	r.Post("/events", s.ingestEvents)

	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", s.listConversations)
		r.Get("/{id}", s.getConversation)
		r.Post("/{id}/dismiss", s.dismissConversation)
		r.Post("/{id}/reanalyze", s.reanalyzeConversation)
	})
	r.Post("/reanalyze", s.reanalyzeAll)

	r.Route("/reminders", func(r chi.Router) {
		r.Get("/", s.listReminders)
		r.Post("/", s.addReminder)
		r.Post("/{id}/dismiss", s.dismissReminder)
	})

	r.Get("/notifications", s.listNotifications)
	r.Post("/notifications/{id}/read", s.readNotification)

	r.Get("/logs", s.listLogs)
	r.Get("/status", s.status)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ingestEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	events, err := s.decoder.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acks := make([]engine.Ack, 0, len(events))
	for _, ev := range events {
		ack, err := s.engine.Ingest(r.Context(), ev)
		if err != nil && !errors.Is(err, engine.ErrInvalidEvent) {
			s.logger.Error("ingest_failed", "request_id", chimw.GetReqID(r.Context()), "error", err)
		}
		acks = append(acks, ack)
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"acks": acks})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	needsAction, _ := strconv.ParseBool(r.URL.Query().Get("needsAction"))
	convs, err := s.engine.Conversations(r.Context(), needsAction)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs})
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.engine.Conversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) dismissConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DismissConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) reanalyzeConversation(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.engine.Reanalyze(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"outcome": outcome})
}

func (s *Server) reanalyzeAll(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.engine.ReanalyzeAll(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"outcomes": outcomes})
}

func (s *Server) listReminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := s.engine.Reminders(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reminders": reminders})
}

// AddReminderRequest is the request body for a manual reminder
type AddReminderRequest struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	DueDate        string `json:"dueDate,omitempty"`
}

func (s *Server) addReminder(w http.ResponseWriter, r *http.Request) {
	var req AddReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	due := artifacts.ParseDueDate(req.DueDate)
	if req.DueDate != "" && due == nil {
		writeError(w, http.StatusBadRequest, "dueDate must be YYYY-MM-DD or RFC 3339")
		return
	}

	reminder, err := s.engine.AddManualReminder(r.Context(), req.ConversationID, req.Text, due)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reminder)
}

func (s *Server) dismissReminder(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DismissReminder(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := s.engine.Notifications(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": notifications})
}

func (s *Server) readNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.MarkNotificationRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.engine.AnalysisLogs(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n >= 0 && n < len(logs) {
			logs = logs[:n]
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// fail maps engine errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, engine.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request_failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// originHosts turns CORS origins into websocket origin patterns, which
// match on host only.
func originHosts(origins []string) []string {
	var hosts []string
	for _, o := range origins {
		if o == "*" {
			hosts = append(hosts, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
