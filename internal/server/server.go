// Package server is the composition root: it opens the identity store,
// builds the shared services, mounts every route and runs the HTTP server
// until a shutdown signal.
//
// Route structure:
//
//	GET  /healthz, /metrics                          no client app
//	GET  / and unknown paths                         → /login
//	GET|POST /login /register /forgot-password
//	         /verify-code /reset-password            client app
//	GET  /auth/{provider}/login|callback             client app
//	POST /logout                                     client app
//	GET|POST /onboarding, GET /api/me                authenticated
//	GET|POST /chat, POST /api/compare                authenticated + selection
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sakif/smartbot/internal/app"
	"github.com/sakif/smartbot/internal/catalog"
	"github.com/sakif/smartbot/internal/config"
	"github.com/sakif/smartbot/internal/guard"
	"github.com/sakif/smartbot/internal/handler"
	"github.com/sakif/smartbot/internal/identity"
	"github.com/sakif/smartbot/internal/metrics"
	"github.com/sakif/smartbot/internal/middleware"
	"github.com/sakif/smartbot/internal/repository"
	"github.com/sakif/smartbot/internal/service"
)

// Server owns the HTTP server and everything closed on shutdown.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	store    repository.Store
	registry *app.Registry
}

// New wires the full dependency graph from cfg:
//
//	identity store → local identity provider → per-client gateways
//	comparison service (mock or gemini), instrumented
//	app registry (gateways + catalog + comparison) → router
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := OpenStore(ctx, cfg.Identity, logger)
	if err != nil {
		return nil, err
	}

	provider, err := NewIdentityProvider(cfg.Identity, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	comparisonSvc, err := NewComparison(ctx, cfg.Comparison, collector, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	registry := app.NewRegistry(
		func(ctx context.Context, token string) identity.Gateway {
			return provider.Connect(ctx, token)
		},
		app.Deps{
			Catalog:        catalog.Default(),
			Comparison:     comparisonSvc,
			SessionTimeout: cfg.Session.Timeout.Duration,
			ChatTimeout:    cfg.Comparison.Timeout.Duration,
			Metrics:        collector,
			Logger:         logger,
		},
		cfg.Session.MaxClients,
		cfg.Session.IdleTTL.Duration,
	)

	router, err := NewRouter(Routes{
		Registry:      registry,
		Auth:          service.NewAuthService(cfg.Session.Timeout.Duration, logger),
		Providers:     provider.OAuthProviders(),
		Metrics:       collector,
		Gatherer:      reg,
		SecureCookies: cfg.Server.SecureCookies,
		Logger:        logger,
	})
	if err != nil {
		registry.Close()
		store.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return &Server{
		router:   router,
		config:   cfg,
		logger:   logger,
		store:    store,
		registry: registry,
	}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Routes are the collaborators NewRouter mounts.
type Routes struct {
	Registry  *app.Registry
	Auth      *service.AuthService
	Providers []string
	// Metrics enables request metrics and guard counters; Gatherer is
	// served on /metrics. Both optional.
	Metrics       *metrics.Collector
	Gatherer      prometheus.Gatherer
	SecureCookies bool
	Logger        *slog.Logger
}

// NewRouter mounts every route. Middleware runs in the order added:
// request id, real IP, panic recovery, access log, request metrics. The
// client app middleware runs only on routes that need a client.
func NewRouter(rt Routes) (*chi.Mux, error) {
	views, err := handler.NewViews(rt.Logger)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(rt.Logger))

	var rec metrics.Recorder = metrics.Nop{}
	if rt.Metrics != nil {
		rec = rt.Metrics
		r.Use(rt.Metrics.Middleware)
	}
	if rt.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(rt.Gatherer))
	}
	r.Get("/healthz", handler.HandleHealth)

	authHandler := handler.NewAuthHandler(views, rt.Auth, rt.Providers, rt.SecureCookies, rt.Logger)
	onboardingHandler := handler.NewOnboardingHandler(views, rt.Logger)
	chatHandler := handler.NewChatHandler(views, rt.Logger)

	r.Group(func(r chi.Router) {
		r.Use(rt.Registry.Middleware(rt.SecureCookies))

		r.Get("/login", authHandler.HandleLoginPage)
		r.Post("/login", authHandler.HandleLogin)
		r.Get("/register", authHandler.HandleRegisterPage)
		r.Post("/register", authHandler.HandleRegister)
		r.Get("/forgot-password", authHandler.HandleForgotPasswordPage)
		r.Post("/forgot-password", authHandler.HandleForgotPassword)
		r.Get("/verify-code", authHandler.HandleVerifyCodePage)
		r.Post("/verify-code", authHandler.HandleVerifyCode)
		r.Get("/reset-password", authHandler.HandleResetPasswordPage)
		r.Post("/reset-password", authHandler.HandleResetPassword)
		r.Get("/auth/{provider}/login", authHandler.HandleOAuthLogin)
		r.Get("/auth/{provider}/callback", authHandler.HandleOAuthCallback)
		r.Post("/logout", authHandler.HandleLogout)

		// Outer gate: signed in.
		r.Group(func(r chi.Router) {
			r.Use(guard.Require(authenticated, service.PathLogin, rec))
			r.Get("/onboarding", onboardingHandler.HandleOnboarding)
			r.Post("/onboarding", onboardingHandler.HandleSelect)
			r.Get("/api/me", handler.HandleMe)

			// Inner gate: at least one store selected.
			r.Group(func(r chi.Router) {
				r.Use(guard.Require(hasSelection, service.PathOnboarding, rec))
				r.Get("/chat", chatHandler.HandleChat)
				r.Post("/chat", chatHandler.HandleSend)
				r.Post("/api/compare", chatHandler.HandleCompare)
			})
		})
	})

	r.Get("/", toLogin)
	r.NotFound(toLogin)
	return r, nil
}

func toLogin(w http.ResponseWriter, r *http.Request) {
	guard.Redirect(w, r, service.PathLogin)
}

func authenticated(r *http.Request) bool {
	a, ok := app.FromContext(r.Context())
	return ok && a.Authenticated()
}

func hasSelection(r *http.Request) bool {
	a, ok := app.FromContext(r.Context())
	return ok && a.HasSelection()
}

// Start serves until ctx is cancelled or SIGINT/SIGTERM arrives, then
// drains in-flight requests, closes every client app and the store.
func (s *Server) Start(ctx context.Context) error {
	defer s.store.Close()
	defer s.registry.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.writeTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", s.config.Server.BaseURL),
			slog.String("identityStore", s.config.Identity.Store),
			slog.String("comparison", s.config.Comparison.Provider),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("shutdown requested", slog.String("reason", context.Cause(ctx).Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}

// writeTimeout leaves room for a comparison call inside a POST /chat.
func (s *Server) writeTimeout() time.Duration {
	return max(15*time.Second, s.config.Comparison.Timeout.Duration+5*time.Second)
}
