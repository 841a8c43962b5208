// Package server exposes the auction engine over JSON-over-HTTP. Bots and
// keepers call the auction routes; admin setters sit behind capability
// tokens.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aaoferreira/vault-v2/internal/auction"
	"github.com/aaoferreira/vault-v2/internal/auth"
	"github.com/aaoferreira/vault-v2/internal/observability"
	"github.com/aaoferreira/vault-v2/internal/persistence"
)

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Engine  *auction.Engine
	History *persistence.EventLogWriter
	Health  *observability.HealthChecker
	Caps    *auth.Capabilities
	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Server wraps the HTTP listener serving the engine API.
type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func New(addr string, deps *Deps) *Server {
	h := &handlers{
		engine:  deps.Engine,
		history: deps.History,
		log:     deps.Logger,
	}

	r := chi.NewRouter()
	r.Use(observe(deps.Metrics, deps.Logger))

	if deps.Health != nil {
		r.Get("/healthz", deps.Health.LivenessHandler)
		r.Get("/readyz", deps.Health.ReadinessHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/auctions", h.listAuctions)
		v1.Route("/auctions/{vault}", func(a chi.Router) {
			a.Post("/", h.open)
			a.Get("/", h.getAuction)
			a.Delete("/", h.cancel)
			a.Get("/quote", h.quote)
			a.Get("/history", h.historyByVault)
			a.Post("/buy/asset", h.buyWithAsset)
			a.Post("/buy/debt-token", h.buyWithDebtToken)
		})

		v1.Get("/limits/{collateral}/{base}", h.getLimit)

		v1.Route("/admin", func(admin chi.Router) {
			if deps.Caps != nil {
				admin.Use(deps.Caps.Require(auth.RoleAdmin))
			}
			admin.Put("/lines/{collateral}/{base}", h.setLine)
			admin.Put("/limits/{collateral}/{base}", h.setLimit)
		})
	})

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: deps.Logger,
	}
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("http shutdown")
		}
	}()

	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
