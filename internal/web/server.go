package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/Ehm-Ehs/project-nexus/internal/auth"
	"github.com/Ehm-Ehs/project-nexus/internal/library"
)

const (
	// DefaultAddr is the default server address.
	DefaultAddr = "127.0.0.1:8080"

	// API rate limit per client IP.
	apiRequestsPerMinute = 120
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr        string
	TemplatesFS fs.FS
	StaticFS    fs.FS
	Clients     *ClientRegistry
	Providers   auth.Providers
	Catalog     Catalog
	Details     library.DetailsFetcher
	Logger      *slog.Logger
}

// Server is the HTTP server for the web application.
type Server struct {
	router    chi.Router
	server    *http.Server
	templates *Templates
	clients   *ClientRegistry
	handlers  *Handlers
	logger    *slog.Logger
}

// NewServer creates a new web server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	templates, err := NewTemplates(cfg.TemplatesFS)
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	handlers := NewHandlers(HandlerDeps{
		Templates: templates,
		Providers: cfg.Providers,
		Catalog:   cfg.Catalog,
		Profiles:  library.NewProfileBuilder(cfg.Details, library.WithLogger(cfg.Logger)),
		Details:   cfg.Details,
		Logger:    cfg.Logger,
	})

	router := chi.NewRouter()

	s := &Server{
		router:    router,
		templates: templates,
		clients:   cfg.Clients,
		handlers:  handlers,
		logger:    cfg.Logger,
	}

	s.setupMiddleware()
	s.setupRoutes(cfg.StaticFS)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes(staticFS fs.FS) {
	fileServer := http.FileServer(http.FS(staticFS))
	s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	s.router.Get("/healthz", s.handlers.Health)

	s.router.Group(func(r chi.Router) {
		r.Use(s.withClient)

		// Pages
		r.Get("/", s.handlers.Home)
		r.Get("/onboarding", s.handlers.OnboardingPage)
		r.Post("/onboarding/{action}", s.handlers.OnboardingForm)

		// Auth
		r.Get("/auth/{provider}/login", s.handlers.Login)
		r.Get("/auth/{provider}/callback", s.handlers.Callback)
		r.Post("/auth/link-email", s.handlers.LinkEmail)
		r.Post("/auth/login-email", s.handlers.LoginEmail)
		r.Post("/auth/logout", s.handlers.Logout)

		// JSON API
		r.Route("/api", func(r chi.Router) {
			r.Use(httprate.LimitByIP(apiRequestsPerMinute, time.Minute))

			r.Get("/me", s.handlers.Me)
			r.Get("/home", s.handlers.APIHome)
			r.Post("/home/refresh", s.handlers.APIRefresh)

			r.Get("/onboarding", s.handlers.APIOnboarding)
			r.Get("/onboarding/candidates", s.handlers.APICandidates)
			r.Post("/onboarding/toggle", s.handlers.APIOnboardingToggle)
			r.Post("/onboarding/next", s.handlers.APIOnboardingNext)
			r.Post("/onboarding/back", s.handlers.APIOnboardingBack)

			r.Get("/favorites", s.handlers.APIFavorites)
			r.Post("/favorites/toggle", s.handlers.APIToggleFavorite)

			r.Get("/lists", s.handlers.APILists)
			r.Post("/lists", s.handlers.APICreateList)
			r.Get("/lists/{id}", s.handlers.APIGetList)
			r.Patch("/lists/{id}", s.handlers.APIUpdateList)
			r.Delete("/lists/{id}", s.handlers.APIDeleteList)
			r.Post("/lists/{id}/movies", s.handlers.APIAddToList)
			r.Delete("/lists/{id}/movies/{movieID}", s.handlers.APIRemoveFromList)

			r.Get("/profile", s.handlers.APIProfile)
			r.Get("/search", s.handlers.APISearch)
		})
	})
}

// withClient attaches the device's client context to the request.
func (s *Server) withClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		device := deviceID(w, r)
		c := s.clients.Get(r.Context(), device, sessionID(r))
		next.ServeHTTP(w, r.WithContext(withClient(r.Context(), c)))
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", "http://"+s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server and disposes of client contexts.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.clients.Close()
	return err
}

// Run starts the server and handles graceful shutdown on interrupt signals.
func (s *Server) Run() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go s.clients.Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		s.logger.Info("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}
