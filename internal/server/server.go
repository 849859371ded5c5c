package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/voyagen/guidevault/api"
	"github.com/voyagen/guidevault/internal/fetcher"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/scheduler"
	"github.com/voyagen/guidevault/internal/service"
	"github.com/voyagen/guidevault/internal/store"
)

// ProviderAdmin manages XMLTV providers.
type ProviderAdmin interface {
	Create(ctx context.Context, name, xmltvURL string) (*models.Provider, error)
	Get(ctx context.Context, id int64) (*models.Provider, error)
	List(ctx context.Context, enabledOnly bool) ([]models.Provider, error)
	Update(ctx context.Context, id int64, fields store.ProviderUpdate) (*models.Provider, error)
	Delete(ctx context.Context, id int64) error
	Test(ctx context.Context, id int64) (fetcher.ProbeResult, error)
}

// GuideQuery serves channels, programmes, aliases, mappings and statistics.
type GuideQuery interface {
	ListChannels(ctx context.Context) ([]models.Channel, error)
	GetChannel(ctx context.Context, identifier string) (*models.Channel, error)
	ListPrograms(ctx context.Context, identifier string, start, end time.Time) ([]models.Program, error)
	ListChannelAliases(ctx context.Context, identifier string) ([]models.ChannelAlias, error)
	AddChannelAlias(ctx context.Context, identifier, alias string, aliasType *string) (*models.ChannelAlias, error)
	DeleteAlias(ctx context.Context, aliasID int64) (bool, error)
	ListAliases(ctx context.Context, filter store.AliasFilter) (service.AliasPage, error)
	AliasMapping(ctx context.Context) (map[string]service.AliasTarget, error)
	AliasStatistics(ctx context.Context) (*models.AliasStatistics, error)
	ListMappings(ctx context.Context, providerID *int64) ([]models.ChannelMapping, error)
	MapProviderChannel(ctx context.Context, providerID int64, token, identifier string) (*models.ChannelMapping, error)
	Statistics(ctx context.Context) (*models.Statistics, error)
	RecentImports(ctx context.Context, limit int) ([]models.ImportLog, error)
}

// ProviderImporter runs a single provider import.
type ProviderImporter interface {
	ImportProvider(ctx context.Context, providerID int64) (*models.ImportLog, error)
}

// Scheduler is the import cycle trigger.
type Scheduler interface {
	TriggerNow() bool
	NextRunTime() time.Time
	Running() bool
	LastRun() *scheduler.RunResult
}

// Maintenance runs retention and duplicate repair.
type Maintenance interface {
	CleanupOldPrograms(ctx context.Context, retentionDays int) (service.CleanupResult, error)
	DeduplicatePrograms(ctx context.Context, tolerance time.Duration, threshold float64) (service.DedupStats, error)
	PreviewDuplicates(ctx context.Context, tolerance time.Duration, limit int) (service.DuplicatePreview, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the HTTP layer delegates to. Health may be nil.
type Deps struct {
	Providers   ProviderAdmin
	Query       GuideQuery
	Importer    ProviderImporter
	Scheduler   Scheduler
	Maintenance Maintenance
	Health      Pinger
}

// Config holds HTTP settings.
type Config struct {
	Port            string
	CORSEnabled     bool
	CORSOrigins     []string
	AdminRateLimit  int // requests per minute per IP, 0 disables
	RetentionDays   int
	DedupThreshold  float64
	DedupTolerance  time.Duration // default time_tolerance of the duplicate endpoints
	ShutdownTimeout time.Duration
}

// Server holds dependencies for the HTTP API.
type Server struct {
	deps   Deps
	cfg    Config
	router chi.Router
	log    zerolog.Logger

	// background runs detached provider imports; tests replace it to run inline.
	background func(func())
}

// New creates a Server and registers routes.
func New(deps Deps, cfg Config) *Server {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = service.DefaultTitleThreshold
	}
	if cfg.DedupTolerance <= 0 {
		cfg.DedupTolerance = service.DefaultTimeTolerance
	}
	srv := &Server{
		deps:       deps,
		cfg:        cfg,
		router:     chi.NewRouter(),
		log:        logging.Component("http"),
		background: func(f func()) { go f() },
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	r := s.router
	r.Use(chimiddleware.Recoverer)
	r.Use(withRequestID)
	r.Use(withLogging)
	if s.cfg.CORSEnabled {
		r.Use(corsHandler(s.cfg.CORSOrigins))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, r, http.StatusNotFound, errors.New("endpoint not found"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Channels and programmes
		r.Get("/channels", s.handleListChannels)
		r.Get("/channels/{identifier}", s.handleGetChannel)
		r.Get("/channels/{identifier}/programs", s.handleListPrograms)
		r.Get("/channels/{identifier}/aliases", s.handleListChannelAliases)
		r.Post("/channels/{identifier}/aliases", s.handleCreateChannelAlias)

		// Aliases
		r.Get("/aliases", s.handleListAliases)
		r.Get("/aliases/mapping", s.handleAliasMapping)
		r.Get("/aliases/statistics", s.handleAliasStatistics)
		r.Delete("/aliases/{id}", s.handleDeleteAlias)

		// Providers
		r.Get("/providers", s.handleListProviders)
		r.Post("/providers", s.handleCreateProvider)
		r.Get("/providers/{id}", s.handleGetProvider)
		r.Put("/providers/{id}", s.handleUpdateProvider)
		r.Delete("/providers/{id}", s.handleDeleteProvider)
		r.Get("/providers/{id}/test", s.handleTestProvider)
		r.Get("/providers/{id}/mappings", s.handleListProviderMappings)
		r.Post("/providers/{id}/mappings", s.handleCreateMapping)

		r.Get("/mappings", s.handleListMappings)
		r.Get("/statistics", s.handleStatistics)
		r.Get("/import/status", s.handleImportStatus)

		// Triggers and maintenance
		r.Group(func(r chi.Router) {
			r.Use(adminRateLimit(s.cfg.AdminRateLimit))
			r.Post("/import/trigger", s.handleTriggerImport)
			r.Post("/providers/{id}/import/trigger", s.handleTriggerProviderImport)
			r.Delete("/admin/duplicates", s.handleRemoveDuplicates)
			r.Get("/admin/duplicates/preview", s.handlePreviewDuplicates)
			r.Post("/admin/cleanup", s.handleCleanup)
		})

		// Docs
		r.Get("/docs", handleSwaggerUI)
		r.Get("/docs/openapi.yaml", handleOpenAPISpec)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve implements suture.Service: it listens on the configured port until
// ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := ":" + s.cfg.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ListenAndServe: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *Server) String() string { return "http-server" }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "healthy", "timestamp": time.Now().UTC()}
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(r.Context()); err != nil {
			resp["status"] = "unhealthy"
			resp["detail"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- docs handlers ---

func handleOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(api.OpenAPISpec)
}

func handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, swaggerUIHTML)
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>GuideVault API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
  <style>html{box-sizing:border-box;overflow-y:scroll}*,*:before,*:after{box-sizing:inherit}body{margin:0;background:#fafafa}</style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/docs/openapi.yaml",
      dom_id: "#swagger-ui",
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
      layout: "BaseLayout",
    });
  </script>
</body>
</html>`
