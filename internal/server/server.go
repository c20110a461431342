package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/analyzer"
	"github.com/wardenhq/contract-warden/internal/config"
	"github.com/wardenhq/contract-warden/internal/events"
	"github.com/wardenhq/contract-warden/internal/extract"
	"github.com/wardenhq/contract-warden/internal/logger"
	"github.com/wardenhq/contract-warden/internal/security"
	"github.com/wardenhq/contract-warden/internal/store"
	"github.com/wardenhq/contract-warden/internal/web"
)

// Version is stamped at build time.
var Version = "dev"

// Analyzer is the analysis service surface the HTTP layer needs.
type Analyzer interface {
	Analyze(ctx context.Context, req analyzer.AnalyzeRequest) (*analyzer.AnalysisResult, error)
	Get(ctx context.Context, id int64) (*store.ParsedContract, error)
	List(ctx context.Context, limit, offset int) ([]store.ContractSummary, error)
	Delete(ctx context.Context, id int64) error
	Health(ctx context.Context) (string, map[string]analyzer.ComponentHealth)
	PublishSystemStats(ctx context.Context, connectedClients int)
}

// Server is the HTTP front of the privacy gateway.
type Server struct {
	cfg       *config.Config
	logger    *logger.Logger
	service   Analyzer
	extractor *extract.Extractor
	limiter   *security.RateLimiter
	hub       *events.Hub
	router    *mux.Router
	server    *http.Server
	done      chan struct{}
}

// New wires the HTTP server around an analysis service.
func New(cfg *config.Config, service Analyzer, extractor *extract.Extractor, hub *events.Hub, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    log.WithComponent("server"),
		service:   service,
		extractor: extractor,
		limiter:   security.NewRateLimiter(cfg.Security.RateLimit),
		hub:       hub,
		router:    mux.NewRouter(),
		done:      make(chan struct{}),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")

	if s.hub != nil && s.cfg.Events.Enabled {
		s.router.HandleFunc(s.cfg.Events.Path, s.hub.HandleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/analyze", s.handleAnalyze).Methods("POST")
	api.HandleFunc("/analyze/upload", s.handleAnalyzeUpload).Methods("POST")
	api.HandleFunc("/contracts", s.handleListContracts).Methods("GET")
	api.HandleFunc("/contracts/{id:[0-9]+}", s.handleGetContract).Methods("GET")
	api.HandleFunc("/contracts/{id:[0-9]+}", s.handleDeleteContract).Methods("DELETE")
}

// Start runs the event hub, the stats loop, and the HTTP listener.
// Blocks until the listener stops.
func (s *Server) Start() error {
	if s.hub != nil && s.cfg.Events.Enabled {
		go s.hub.Run()
		go s.statsLoop()
	}
	s.limiter.StartCleanupRoutine()

	s.logger.Info("Starting contract-warden server",
		zap.String("addr", s.server.Addr),
		zap.String("detector", s.cfg.PII.Detector),
		zap.Bool("events", s.cfg.Events.Enabled))

	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the listener and the event hub.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping contract-warden server")
	close(s.done)
	if s.hub != nil {
		s.hub.Stop()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) statsLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.service.PublishSystemStats(ctx, int(s.hub.GetStats().ActiveConnections))
			cancel()
		case <-s.done:
			return
		}
	}
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
