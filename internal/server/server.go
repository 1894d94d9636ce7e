// Package server wires handlers, middleware and routes, and runs the HTTP
// server with graceful shutdown.
//
// ROUTES:
//
//	GET    /healthz                              → liveness + database ping
//	POST   /auth/signup | /auth/login | /auth/logout
//	POST   /api/internal/mail/{provider}/sync    → shared-secret sync trigger
//	/api/...                                     → everything else, behind a session
//
// MIDDLEWARE ORDER MATTERS. RequestID runs first so the logger can read it;
// Recoverer sits inside the logger so a panic is still logged as a 500.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/revtrack/internal/auth"
	"github.com/sakif/revtrack/internal/handler"
	"github.com/sakif/revtrack/internal/middleware"
	"github.com/sakif/revtrack/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

type Server struct {
	app    *App
	router *chi.Mux
	logger *slog.Logger
}

func New(app *App) *Server {
	s := &Server{
		app:    app,
		router: chi.NewRouter(),
		logger: app.Logger,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	a := s.app
	secure := a.Config.SecureCookies()

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, "/healthz"))
	s.router.Use(chimiddleware.Recoverer)

	authH := handler.NewAuthHandler(a.Auth, secure, s.logger)
	dealH := handler.NewDealHandler(a.Deals, s.logger)
	activityH := handler.NewActivityHandler(a.Activities, s.logger)
	goalH := handler.NewGoalHandler(a.Goals, s.logger)
	mailH := handler.NewMailHandler(a.MailConnect, a.MailSync, a.Config.AppURL, secure, s.logger)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authH.HandleSignup)
		r.Post("/login", authH.HandleLogin)
		r.Post("/logout", authH.HandleLogout)
	})

	s.router.Route("/api", func(r chi.Router) {
		// RequireInternalSecret rejects everything when the secret is empty.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireInternalSecret(a.Config.InternalSyncSecret))
			r.Post("/internal/mail/{provider}/sync", mailH.HandleInternalSync)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(a.Verifier, a.Auth.EnsureExternalUser, s.logger))

			r.Get("/me", authH.HandleMe)

			r.Get("/pipeline", dealH.HandlePipeline)
			r.Get("/deals", dealH.HandleList)
			r.Post("/deals", dealH.HandleCreate)
			r.Get("/deals/{id}", dealH.HandleGet)
			r.Put("/deals/{id}", dealH.HandleUpdate)
			r.Patch("/deals/{id}/stage", dealH.HandleMoveStage)
			r.Delete("/deals/{id}", dealH.HandleDelete)

			r.Get("/deals/{id}/activities", activityH.HandleList)
			r.Post("/deals/{id}/activities", activityH.HandleCreate)
			r.Delete("/activities/{id}", activityH.HandleDelete)

			r.Get("/goals", goalH.HandleList)
			r.Put("/goals", goalH.HandlePut)
			r.Delete("/goals/{id}", goalH.HandleDelete)

			r.Get("/mail/connections", mailH.HandleConnections)
			r.Get("/mail/{provider}/connect", mailH.HandleConnect)
			r.Get("/mail/{provider}/callback", mailH.HandleCallback)
			r.Delete("/mail/{provider}", mailH.HandleDisconnect)
			r.Post("/mail/{provider}/sync", mailH.HandleSync)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.app.DB.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// stops the background scheduler before returning.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.app.Config
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
		// A sync request fans out to the mail provider once per contact.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	var wg sync.WaitGroup
	if cfg.SyncInterval > 0 {
		sched := scheduler.New(s.app.DB.MailTokens(), s.app.MailSync, cfg.SyncInterval, s.logger)
		wg.Go(func() { sched.Run(bgCtx) })
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", cfg.Port),
			slog.String("database", cfg.DBPath),
			slog.Duration("sync_interval", cfg.SyncInterval),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			runErr = fmt.Errorf("server: graceful shutdown failed: %w", err)
		} else {
			s.logger.Info("server stopped gracefully")
		}
	}

	stopBackground()
	wg.Wait()
	return runErr
}
