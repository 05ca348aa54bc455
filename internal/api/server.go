package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// MaxBodyBytes caps batch uploads.
const MaxBodyBytes = 64 << 20

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, p *pipeline.Pipeline, custom *rules.CustomEngine, version string) *Server {
	handler := NewHandler(repo, cache, bus, p, custom, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))
	router.Use(MaxBytesMiddleware(MaxBodyBytes))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Batches
	router.Post("/batches", handler.SubmitBatch)
	router.Get("/batches", handler.ListBatches)
	router.Route("/batches/{id}", func(r chi.Router) {
		r.Get("/", handler.GetBatch)
		r.Get("/scores", handler.ListTransactionScores)
		r.Get("/documents", handler.ListDocumentScores)
		r.Get("/duplicates", handler.ListDuplicates)
	})

	// Invoice verification
	router.Post("/invoices/verify", handler.VerifyInvoice)
	router.Get("/invoices/{id}/verification", handler.GetVerification)

	// Rule configuration
	router.Get("/rules", handler.ListRules)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)
	router.Delete("/rules/{id}", handler.DeleteRule)
	router.Get("/settings/{module}", handler.GetSettings)
	router.Put("/settings/{module}", handler.PutSettings)
	router.Get("/scenarios", handler.GetScenarios)
	router.Put("/scenarios", handler.PutScenarios)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
