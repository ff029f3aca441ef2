package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/foxzi/vdpress/internal/batch"
	"github.com/foxzi/vdpress/internal/codegen"
	"github.com/foxzi/vdpress/internal/config"
	"github.com/foxzi/vdpress/internal/ipfilter"
	"github.com/foxzi/vdpress/internal/metrics"
	"github.com/foxzi/vdpress/internal/models"
	"github.com/foxzi/vdpress/internal/personalize"
	"github.com/foxzi/vdpress/internal/progress"
	"github.com/foxzi/vdpress/internal/ratelimit"
	"github.com/foxzi/vdpress/internal/render"
)

// Store is the read side the handlers need
type Store interface {
	GetCampaign(ctx context.Context, id, orgID string) (*models.Campaign, error)
	GetTemplate(ctx context.Context, id, orgID string) (*models.Template, error)
	GetRecipients(ctx context.Context, listID, orgID string) ([]*models.Recipient, error)
	GetCampaignRecipientByCode(ctx context.Context, code string) (*models.CampaignRecipient, error)
	GetLandingPage(ctx context.Context, code string) (*models.LandingPage, error)
}

// Processor runs campaign batches
type Processor interface {
	Process(ctx context.Context, campaignID, orgID string, onProgress func(progress.Event)) (*batch.Result, error)
}

// Quota reserves mail pieces before a run starts
type Quota interface {
	AllowN(ctx context.Context, req *ratelimit.Request, n int) (*ratelimit.Result, error)
}

// ServerOptions contains all dependencies of the API server
type ServerOptions struct {
	Config        *config.APIConfig
	Store         Store
	Processor     Processor
	Tracker       progress.Tracker
	Quota         Quota           // optional
	Renderer      render.Renderer // previews, optional
	Codes         *codegen.Generator
	Engine        *personalize.Engine
	Files         http.Handler // signed downloads, optional
	FallbackURL   string       // tracking redirect without a landing page
	DefaultFormat string
	Version       string
	Logger        *slog.Logger
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	opts       ServerOptions
	config     *config.APIConfig
	filter     *ipfilter.Filter
	validate   *validator.Validate
	logger     *slog.Logger
	startTime  time.Time

	// campaign runs started over HTTP
	runCtx    context.Context
	runCancel context.CancelFunc
	runsMu    sync.Mutex
	running   map[string]bool
	runs      sync.WaitGroup
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Config == nil {
		opts.Config = &config.APIConfig{}
	}
	if opts.Engine == nil {
		opts.Engine = personalize.NewEngine(opts.Logger, 0)
	}
	if opts.DefaultFormat == "" {
		opts.DefaultFormat = render.DefaultFormat
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	s := &Server{
		router:    chi.NewRouter(),
		opts:      opts,
		config:    opts.Config,
		filter:    ipfilter.New(opts.Config.AllowedIPs, opts.Config.TrustProxy, opts.Logger),
		validate:  validator.New(),
		logger:    opts.Logger,
		startTime: time.Now(),
		runCtx:    runCtx,
		runCancel: runCancel,
		running:   make(map[string]bool),
	}

	if s.config.APIKeyHash == "" {
		s.logger.Warn("API key hash not configured, API is open to all callers")
	}
	if s.filter.Enabled() {
		s.logger.Info("API IP filtering enabled", "allowed_networks", s.filter.Count())
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	if s.config.TrustProxy {
		s.router.Use(middleware.RealIP)
	}
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.bodyLimitMiddleware)

	// Public endpoints: mail recipients follow these links
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/t", s.handleTracking)
	if s.opts.Files != nil {
		s.router.Handle("/files/*", s.opts.Files)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.filter.Middleware)
		r.Use(s.authMiddleware)
		r.Use(s.orgMiddleware)

		r.Route("/campaigns/{id}", func(r chi.Router) {
			r.Post("/process", s.handleProcess)
			r.Get("/progress", s.handleProgress)
			r.Post("/validate", s.handleValidate)
		})

		r.Route("/templates/{id}", func(r chi.Router) {
			r.Get("/variables", s.handleVariables)
			r.Get("/preview", s.handlePreview)
		})

		r.Get("/formats", s.handleFormats)
	})
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    orDefault(s.config.ReadTimeout, 30*time.Second),
		WriteTimeout:   orDefault(s.config.WriteTimeout, 60*time.Second),
		IdleTimeout:    orDefault(s.config.IdleTimeout, 60*time.Second),
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, then cancels running campaigns and
// waits for them to write their final status
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.runCancel()
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("campaign runs still active at shutdown")
	}

	return err
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
