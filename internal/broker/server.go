// Package broker is the reference Session Broker: it issues capture
// sessions, stores uploads, and pushes a notification for each stored
// image to the session's subscribers.
package broker

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proof-capture-app/internal/pairing"
	"proof-capture-app/internal/storage"
	"proof-capture-app/internal/thumbnail"
	ws "proof-capture-app/internal/websocket"
)

// proofDir is the subdirectory of the upload root holding proof images;
// notification image fields are relative to the upload root.
const proofDir = "proof"

type Config struct {
	Endpoints      pairing.Endpoints
	UploadDir      string
	SessionTTL     time.Duration
	MaxUploadBytes int64
	Logger         *slog.Logger
	Registry       *prometheus.Registry // nil = fresh registry
	Now            func() time.Time
}

type Server struct {
	endpoints  pairing.Endpoints
	uploadDir  string
	sessionTTL time.Duration
	maxUpload  int64
	logger     *slog.Logger
	registry   *prometheus.Registry
	metrics    *Metrics
	now        func() time.Time

	db     *storage.DB
	hub    *ws.Hub
	thumbs *thumbnail.Cache

	uploadMu sync.Mutex
}

func New(cfg Config, db *storage.DB, hub *ws.Hub) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if err := os.MkdirAll(filepath.Join(cfg.UploadDir, proofDir), 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	return &Server{
		endpoints:  cfg.Endpoints,
		uploadDir:  cfg.UploadDir,
		sessionTTL: cfg.SessionTTL,
		maxUpload:  cfg.MaxUploadBytes,
		logger:     cfg.Logger,
		registry:   cfg.Registry,
		metrics:    NewMetrics(cfg.Registry),
		now:        cfg.Now,
		db:         db,
		hub:        hub,
		thumbs:     thumbnail.NewCache(),
	}, nil
}

// Routes builds the broker's HTTP surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	// The pairing and capture pages are served from the frontend origin.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api/proof", func(r chi.Router) {
		r.Post("/session", s.handleCreateSession)
		r.Delete("/session/{sessionID}", s.handleCloseSession)
		r.Get("/session/{sessionID}/qr.png", s.handleSessionQR)
		r.Get("/session/{sessionID}/images", s.handleListImages)
		r.Post("/upload/{sessionID}", s.handleUpload)
	})
	r.Get("/ws/proof/{sessionID}", s.handleWebSocket)

	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.uploadDir))))
	r.Get("/thumbnails/*", s.handleThumbnail)
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}
