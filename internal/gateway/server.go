// Package gateway assembles the HTTP surface of the backend: credential
// issuance, transcription and search proxies, correction verification, and
// the token usage endpoints.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinge-app/tinge/internal/config"
	"github.com/tinge-app/tinge/internal/gateway/handlers"
	"github.com/tinge-app/tinge/internal/gateway/middleware"
	"github.com/tinge-app/tinge/internal/ports"
	"github.com/tinge-app/tinge/internal/upstream"
	"github.com/tinge-app/tinge/internal/usage"
)

const serviceName = "tinge-gateway"

type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	accountant *usage.Accountant

	minter      ports.SessionMinter
	transcriber ports.Transcriber
	searcher    ports.KnowledgeSearcher
	verifier    ports.CorrectionVerifier
}

// NewServer wires the default upstream clients from configuration.
func NewServer(cfg *config.Config, accountant *usage.Accountant) *Server {
	modelClient := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, "model")

	var searcher ports.KnowledgeSearcher
	if cfg.IsSearchConfigured() {
		searcher = upstream.NewSearchClient(cfg.Search.URL, cfg.Search.Timeout, cfg.Search.ForceEnglish)
	}

	verifier := upstream.NewVerifier(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.VerifyModel, cfg.Upstream.VerifyTimeout)

	return NewServerWithDeps(cfg, accountant, modelClient, modelClient, searcher, verifier)
}

// NewServerWithDeps injects the upstream collaborators directly.
func NewServerWithDeps(
	cfg *config.Config,
	accountant *usage.Accountant,
	minter ports.SessionMinter,
	transcriber ports.Transcriber,
	searcher ports.KnowledgeSearcher,
	verifier ports.CorrectionVerifier,
) *Server {
	s := &Server{
		config:      cfg,
		accountant:  accountant,
		minter:      minter,
		transcriber: transcriber,
		searcher:    searcher,
		verifier:    verifier,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Logger(s.config.Server.DebugLogs))
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS(s.config.Server.FrontendURL))
	r.Use(middleware.Metrics)

	healthHandler := handlers.NewHealthHandler(serviceName, s.config.Server.Environment)
	r.Get("/health", healthHandler.Handle)
	r.Handle("/metrics", promhttp.Handler())

	tokenHandler := handlers.NewTokenHandler(s.minter, s.accountant, s.config.HasAPIKey(), s.config.Realtime.Model, s.config.Realtime.Voice)
	r.Get("/token", tokenHandler.Generate)

	transcribeHandler := handlers.NewTranscribeHandler(s.transcriber, s.config.Upstream.TranscriptionModel, s.config.HasAPIKey())
	r.Post("/transcribe", transcribeHandler.Transcribe)

	searchHandler := handlers.NewSearchHandler(s.searcher)
	r.Post("/knowledge/search", searchHandler.Search)

	correctionHandler := handlers.NewCorrectionHandler(s.verifier, s.config.HasAPIKey())
	r.Post("/correction/verify", correctionHandler.Verify)

	usageHandler := handlers.NewUsageHandler(s.accountant)
	r.Get("/token-usage/{key}", usageHandler.Get)
	r.Post("/token-usage/{key}/estimate", usageHandler.Estimate)
	r.Post("/token-usage/{key}/actual", usageHandler.Actual)
	r.Get("/token-stats", usageHandler.Stats)

	s.router = r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("gateway: starting HTTP server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	slog.Info("gateway: shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux {
	return s.router
}
