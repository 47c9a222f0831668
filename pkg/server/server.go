// Package server exposes the chat pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/homer-bot/homerbot/pkg/cache"
	"github.com/homer-bot/homerbot/pkg/chat"
	"github.com/homer-bot/homerbot/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the homerbot HTTP front end.
type Server struct {
	addr    string
	service string
	chat    *chat.Service
	cache   *cache.Cache
	log     *zap.Logger
	gather  prometheus.Gatherer
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithCache exposes cache introspection endpoints for c.
func WithCache(c *cache.Cache) Option {
	return func(s *Server) {
		s.cache = c
	}
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gather = g
	}
}

// New creates a Server listening on addr. service is reported by the health
// endpoint.
func New(addr, service string, svc *chat.Service, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		service: service,
		chat:    svc,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Cache", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/health", s.handleHealth)
		if s.cache != nil {
			r.Get("/cache/stats", s.handleCacheStats)
			r.Post("/cache/clear", s.handleCacheClear)
		}
	})
	if s.gather != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	}
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the server and shuts it down gracefully when ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("homerbot listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Message is required")
		return
	}

	ctx := chat.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
	reply, err := s.chat.Reply(ctx, req)
	if errors.Is(err, chat.ErrInvalidRequest) {
		writeJSONError(w, http.StatusBadRequest, "Message is required")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to process chat request")
		return
	}

	resp := models.ChatResponse{Message: reply.Message}
	if !reply.Usage.IsEmpty() {
		u := reply.Usage
		resp.Usage = &u
	}
	if reply.Cached {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": s.service})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	expiredOnly, _ := strconv.ParseBool(r.URL.Query().Get("expired"))
	n := s.cache.Clear(expiredOnly)
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Info("Incoming request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("ip", r.RemoteAddr),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
