// Package api exposes the HTTP interface for the relay service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayq/relayq/internal/config"
	"github.com/relayq/relayq/internal/manager"
	"github.com/relayq/relayq/internal/metrics"
	httpmetrics "github.com/relayq/relayq/internal/middleware"
	"github.com/relayq/relayq/internal/relay"
)

// Server wires HTTP handlers to the queue manager.
type Server struct {
	router  chi.Router
	manager *manager.Manager
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(mgr *manager.Manager, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager: mgr,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(httpmetrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/submissions", s.submit)
		r.Get("/status", s.status)
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.listQueued)
			r.Post("/remove", s.removeQueued)
			r.Post("/clear", s.clearQueue)
		})
		r.Route("/done", func(r chi.Router) {
			r.Get("/", s.listDone)
			r.Post("/forget", s.forgetDone)
			r.Post("/clear", s.clearDone)
		})
		r.Route("/failed", func(r chi.Router) {
			r.Get("/", s.listFailed)
			r.Post("/clear", s.clearFailed)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	Text      string `json:"text"`
	Submitter string `json:"submitter"`
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
}

type submitResponse struct {
	Disposition string `json:"disposition"`
	Position    int    `json:"position,omitempty"`
	Partition   string `json:"partition,omitempty"`
	BatchID     string `json:"batch_id,omitempty"`
	Queued      int    `json:"queued,omitempty"`
	Skipped     int    `json:"skipped,omitempty"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := s.manager.Submit(r.Context(), relay.Submission{
		Text:      req.Text,
		Submitter: req.Submitter,
		Origin:    relay.Origin{ChatID: req.ChatID, MessageID: req.MessageID},
	})
	if err != nil {
		s.logger.Error("submission failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}

	resp := submitResponse{
		Disposition: string(res.Disposition),
		Position:    res.Position,
		Partition:   string(res.MatchedPartition),
		BatchID:     res.BatchID,
		Queued:      res.Queued,
		Skipped:     res.Skipped,
	}
	switch res.Disposition {
	case relay.SubmissionEmpty:
		writeJSON(w, http.StatusBadRequest, resp)
	case relay.SubmissionDuplicate:
		writeJSON(w, http.StatusConflict, resp)
	default:
		writeJSON(w, http.StatusAccepted, resp)
	}
}

type statusResponse struct {
	Current    *relay.Job      `json:"current,omitempty"`
	Progress   *relay.Progress `json:"progress,omitempty"`
	QueueDepth int             `json:"queue_depth"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	st := s.manager.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		Current:    st.Current,
		Progress:   st.Progress,
		QueueDepth: st.QueueDepth,
	})
}

type listResponse struct {
	Items   any `json:"items"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

func (s *Server) listQueued(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	jobs, total := s.manager.ListQueued(page, perPage)
	writeJSON(w, http.StatusOK, listResponse{Items: jobs, Total: total, Page: page, PerPage: perPage})
}

func (s *Server) listDone(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	ids, total, err := s.manager.ListDone(page, perPage)
	if err != nil {
		s.logger.Error("listing done failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: ids, Total: total, Page: page, PerPage: perPage})
}

func (s *Server) listFailed(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	entries, total, err := s.manager.ListFailed(page, perPage)
	if err != nil {
		s.logger.Error("listing failed entries failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: entries, Total: total, Page: page, PerPage: perPage})
}

type idRequest struct {
	ID string `json:"id"`
}

func (s *Server) removeQueued(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	found, err := s.manager.Remove(req.ID)
	if err != nil {
		s.logger.Error("removing queued job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "remove failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "job not queued")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": req.ID})
}

func (s *Server) clearQueue(w http.ResponseWriter, _ *http.Request) {
	n, err := s.manager.ClearQueue()
	if err != nil {
		s.logger.Error("clearing queue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) forgetDone(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	found, err := s.manager.ForgetDone(r.Context(), req.ID)
	if err != nil {
		s.logger.Error("forgetting done record failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "forget failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "id not in done")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"forgot": req.ID})
}

func (s *Server) clearDone(w http.ResponseWriter, r *http.Request) {
	n, err := s.manager.ClearDone(r.Context())
	if err != nil {
		s.logger.Error("clearing done failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) clearFailed(w http.ResponseWriter, _ *http.Request) {
	n, err := s.manager.ClearFailed()
	if err != nil {
		s.logger.Error("clearing failed log failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func pagination(r *http.Request) (int, int) {
	page := intQuery(r, "page", 1)
	perPage := intQuery(r, "per_page", 20)
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
