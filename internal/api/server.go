package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/chaptergest/internal/llm"
	"github.com/dgallion1/chaptergest/internal/pipeline"
)

// Options configures the HTTP surface.
type Options struct {
	APIKey         string
	InputDir       string // Scanned when a run is requested without uploads.
	UploadDir      string // Uploaded documents land in <UploadDir>/<upload_id>/.
	MaxUploadBytes int64  // Per file.
}

// Server is the HTTP API for server mode.
type Server struct {
	router    chi.Router
	scheduler *pipeline.Scheduler
	model     llm.Completer
	stats     *llm.CallStats
	opts      Options
	log       *slog.Logger
}

func NewServer(sched *pipeline.Scheduler, model llm.Completer, stats *llm.CallStats, opts Options, log *slog.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	s := &Server{
		scheduler: sched,
		model:     model,
		stats:     stats,
		opts:      opts,
		log:       log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.opts.APIKey, s.log))

		r.Post("/api/runs", s.handleCreateRun)
		r.Get("/api/runs/{runID}", s.handleRunStatus)
		r.Get("/api/runs/{runID}/chapter", s.handleRunChapter)
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
