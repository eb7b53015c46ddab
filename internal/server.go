package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxSearchK = 100

// Server exposes search and context listings of one workspace over HTTP.
type Server struct {
	kb     *KnowledgeService
	k      int
	logger *zap.Logger
	server *http.Server
}

func NewServer(kb *KnowledgeService, defaultK int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultK <= 0 {
		defaultK = DefaultSearchK
	}
	return &Server{kb: kb, k: defaultK, logger: logger}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1/contexts", func(r chi.Router) {
		r.Get("/", s.handleContexts)
		r.Get("/{context}/sources", s.handleSources)
		r.Get("/{context}/links", s.handleLinks)
		r.Get("/{context}/status", s.handleStatus)
		r.Post("/{context}/search", s.handleSearch)
	})
	return r
}

// Start serves on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.K <= 0 {
		req.K = s.k
	}
	req.K = min(req.K, maxSearchK)

	name := chi.URLParam(r, "context")
	hits, err := s.kb.Search(r.Context(), name, req.Query, req.K)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, SearchOutput{Query: req.Query, Hits: hits})
}

func (s *Server) handleContexts(w http.ResponseWriter, r *http.Request) {
	contexts, err := s.kb.Contexts(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ListOutput{Contexts: contexts})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.kb.Sources(r.Context(), chi.URLParam(r, "context"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ListOutput{Sources: sources})
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "context")
	links, err := s.kb.Links(r.Context(), name)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if links == nil {
		links = []*Link{}
	}
	s.respondJSON(w, http.StatusOK, LinksOutput{Context: name, Links: links})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.kb.IndexStatus(r.Context(), chi.URLParam(r, "context"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrContextNotFound), errors.Is(err, ErrIndexNotFound), errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidIndexName), errors.Is(err, ErrDimensionMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNoEmbedder):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
