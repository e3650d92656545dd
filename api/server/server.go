package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/malbeclabs/claimvault/api/handlers"
	"github.com/malbeclabs/claimvault/api/metrics"
)

type Server struct {
	log     *slog.Logger
	cfg     Config
	limiter *handlers.RateLimiter
	router  chi.Router
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	auth, err := handlers.NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}
	vaults, err := handlers.NewVault(handlers.VaultConfig{
		Logger:         cfg.Logger,
		Engine:         cfg.Engine,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vault handlers: %w", err)
	}

	limiter, err := handlers.NewRateLimiter(handlers.RateLimiterConfig{
		Rate:  cfg.ClaimRate,
		Burst: cfg.ClaimBurst,
		Clock: cfg.Auth.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	s := &Server{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: limiter,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{
				"Content-Type",
				handlers.HeaderWalletPubkey,
				handlers.HeaderWalletTimestamp,
				handlers.HeaderWalletSignature,
			},
			ExposedHeaders: []string{"Retry-After"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			s.log.Error("failed to write healthz response", "error", err)
		}
	})
	r.Get("/readyz", vaults.Ready)
	r.Get("/version", handlers.GetVersion(cfg.VersionInfo))

	authed := func(r chi.Router) {
		r.Use(auth.RequireCaller)
		r.Use(handlers.RateLimitMiddleware(s.limiter))
	}
	r.Route("/api/vaults", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			authed(r)
			r.Post("/", vaults.CreateVault)
		})
		r.Route("/{vaultID}", func(r chi.Router) {
			r.Get("/", vaults.GetVault)
			r.Get("/whitelist", vaults.ListWhitelist)
			r.Get("/claims/{wallet}", vaults.GetClaim)
			r.Group(func(r chi.Router) {
				authed(r)
				r.Put("/whitelist/{wallet}", vaults.PutWhitelistEntry)
				r.Delete("/whitelist/{wallet}", vaults.DeleteWhitelistEntry)
				r.Post("/claim", vaults.PostClaim)
			})
		})
	})
	s.router = r

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.limiter.Start(ctx)

	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", listener.Addr().String())

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: http server error causing shutdown", "error", err, "address", s.cfg.ListenAddr)
		return err
	}
}
