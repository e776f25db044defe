package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/promptrank/internal/engine"
)

// Engine is the part of the retrieval engine the API serves
type Engine interface {
	Search(ctx context.Context, req engine.SearchRequest) ([]engine.SearchResult, error)
	Status() engine.EngineStatus
	RecordEvent(ctx context.Context, ev engine.Event) error
	SeedFromManifest(ctx context.Context) error
	Reload(ctx context.Context) error
}

type Server struct {
	Engine Engine
	Logger *logrus.Entry
	Router *http.ServeMux
}

func NewServer(eng Engine, logger *logrus.Entry) *Server {
	s := &Server{
		Engine: eng,
		Logger: logger.WithField("component", "api"),
		Router: http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.HandleFunc("/api/v1/search", s.handleSearch)
	s.Router.HandleFunc("/api/v1/status", s.handleStatus)
	s.Router.HandleFunc("/api/v1/events", s.handleEvent)
	s.Router.HandleFunc("/api/v1/seed", s.handleSeed)
	s.Router.HandleFunc("/api/v1/reload", s.handleReload)
}

// Start serves the API on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.Logger.Infof("Starting API Server on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Envelope is the body of every API response
type Envelope struct {
	Success bool        `json:"success"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Handlers

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req engine.SearchRequest

	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req.Draft = q.Get("q")
		req.Family = q.Get("family")
		if u := q.Get("url"); u != "" {
			req.Context = map[string]any{"url": u}
		}
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.fail(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	default:
		s.fail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	results, err := s.Engine.Search(r.Context(), req)
	if err != nil {
		s.Logger.WithError(err).Error("Search failed")
		s.fail(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.ok(w, results)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.fail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.ok(w, s.Engine.Status())
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.fail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var ev engine.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if ev.CandidateID == "" {
		s.fail(w, http.StatusBadRequest, "candidateId is required")
		return
	}

	if err := s.Engine.RecordEvent(r.Context(), ev); err != nil {
		s.fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.ok(w, map[string]string{"status": "recorded"})
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	s.handleLoad(w, r, s.Engine.SeedFromManifest)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.handleLoad(w, r, s.Engine.Reload)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request, load func(context.Context) error) {
	if r.Method != http.MethodPost {
		s.fail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := load(r.Context()); err != nil {
		s.Logger.WithError(err).Error("Corpus load failed")
		s.fail(w, http.StatusBadGateway, err.Error())
		return
	}
	s.ok(w, s.Engine.Status())
}

func (s *Server) ok(w http.ResponseWriter, payload interface{}) {
	jsonResponse(w, http.StatusOK, Envelope{Success: true, Payload: payload})
}

func (s *Server) fail(w http.ResponseWriter, code int, msg string) {
	jsonResponse(w, code, Envelope{Success: false, Error: msg})
}

func jsonResponse(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
