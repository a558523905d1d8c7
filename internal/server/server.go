// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: it receives the infrastructure built
// by main (store, object storage, model clients) and wires services, handlers
// and middleware together. Keeping it out of main.go lets tests build a full
// server around in-memory fakes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/inforx/internal/ai"
	"github.com/sakif/inforx/internal/auth"
	"github.com/sakif/inforx/internal/config"
	"github.com/sakif/inforx/internal/extract"
	"github.com/sakif/inforx/internal/handler"
	"github.com/sakif/inforx/internal/middleware"
	"github.com/sakif/inforx/internal/ocr"
	"github.com/sakif/inforx/internal/ratelimit"
	"github.com/sakif/inforx/internal/repository"
	"github.com/sakif/inforx/internal/service"
	"github.com/sakif/inforx/internal/storage"
	"github.com/sakif/inforx/internal/tts"
)

const shutdownTimeout = 30 * time.Second

// Deps is the infrastructure the server runs on. Store, Objects, Generator
// and Speech are required.
type Deps struct {
	Store     repository.Store
	Objects   storage.ObjectStore
	Generator ai.TextGenerator
	Speech    tts.Synthesizer

	// Optional.
	OCR        ocr.Engine             // nil disables image OCR
	Limiter    ratelimit.Limiter      // nil disables rate limiting
	Mailer     service.Mailer         // nil logs reset links
	Passwords  *auth.PasswordService  // nil uses the default bcrypt cost
	PDF        extract.PDFExtractor   // nil posts to cfg.PDFExtractURL
	HTTPClient *http.Client           // used by the remote PDF extractor
}

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router    *chi.Mux
	config    config.Config
	logger    *slog.Logger
	tokens    *auth.TokenService
	activity  *service.ActivityLogger
	processor *service.RecordProcessor
}

// New wires every layer:
//
//	Deps.Store → services → handlers → routes
//
// Each layer only receives what it needs: services get repository
// interfaces, handlers get services.
func New(cfg config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Objects == nil || deps.Generator == nil || deps.Speech == nil {
		return nil, errors.New("server: store, objects, generator and speech are required")
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	tokens.WithAccessTTL(cfg.AccessTokenTTL)

	passwords := deps.Passwords
	if passwords == nil {
		passwords = auth.NewPasswordService()
	}
	mailer := deps.Mailer
	if mailer == nil {
		mailer = service.LogMailer{Logger: logger}
	}
	pdf := deps.PDF
	if pdf == nil {
		pdf = extract.NewRemotePDF(cfg.PDFExtractURL, tokens, deps.HTTPClient)
	}

	activity := service.NewActivityLogger(deps.Store, logger)
	pipeline := extract.NewPipeline(pdf, deps.OCR, logger, extract.WithConcurrency(int64(cfg.ExtractConcurrency)))
	processor := service.NewRecordProcessor(deps.Store, deps.Objects, pipeline, cfg.ProcessQueueSize, logger)

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		tokens:    tokens,
		activity:  activity,
		processor: processor,
	}

	var google *auth.GoogleProvider
	if cfg.GoogleEnabled() {
		google = auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, strings.TrimRight(cfg.SiteURL, "/")+"/auth/callback")
	}

	authSvc := service.NewAuthService(deps.Store, tokens, passwords, mailer, activity, cfg.SiteURL, logger)
	recordSvc := service.NewRecordService(deps.Store, deps.Objects, processor, activity, logger)
	summarySvc := service.NewSummaryService(deps.Store, deps.Store, deps.Objects, pipeline, deps.Generator, activity, logger)
	assistantSvc := service.NewAssistantService(deps.Generator, deps.Speech, activity, logger)

	s.setupRoutes(routeHandlers{
		auth:      handler.NewAuthHandler(authSvc, google, tokens.AccessTTL(), cfg.SiteURL, logger),
		records:   handler.NewRecordHandler(recordSvc, logger),
		summaries: handler.NewSummaryHandler(summarySvc, logger),
		assistant: handler.NewAssistantHandler(assistantSvc, logger),
		logs:      handler.NewLogHandler(activity),
		extract:   handler.NewExtractHandler(logger),
	}, deps.Limiter)

	return s, nil
}

type routeHandlers struct {
	auth      *handler.AuthHandler
	records   *handler.RecordHandler
	summaries *handler.SummaryHandler
	assistant *handler.AssistantHandler
	logs      *handler.LogHandler
	extract   *handler.ExtractHandler
}

// setupRoutes configures middleware and routes.
//
// MIDDLEWARE ORDER MATTERS: RequestID must run before Logger so the id is in
// the context, and Recoverer sits inside Logger so a panic is logged as 500.
func (s *Server) setupRoutes(h routeHandlers, limiter ratelimit.Limiter) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, auth.Identify(s.tokens)))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", handler.Health)

	requireAuth := auth.RequireAuth(s.tokens)
	limited := ratelimit.Middleware(limiter, rateKey, http.HandlerFunc(handler.RateLimited))

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.auth.HandleSignUp)
		r.Post("/signin", h.auth.HandleSignIn)
		r.With(auth.OptionalAuth(s.tokens)).Post("/signout", h.auth.HandleSignOut)
		r.With(requireAuth).Post("/refresh", h.auth.HandleRefresh)
		r.Post("/reset-password", h.auth.HandleResetPassword)
		r.Post("/reset-password/confirm", h.auth.HandleConfirmReset)
		r.Get("/google", h.auth.HandleGoogleLogin)
		r.Get("/callback", h.auth.HandleGoogleCallback)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/me", h.auth.HandleMe)
		r.Put("/profile", h.auth.HandleUpdateProfile)

		r.Route("/medical-records", func(r chi.Router) {
			r.Get("/", h.records.HandleList)
			r.Post("/", h.records.HandleCreate)
			r.Get("/stats", h.records.HandleStats)
			r.Get("/{id}", h.records.HandleGet)
			r.Put("/{id}", h.records.HandleUpdate)
			r.Delete("/{id}", h.records.HandleDelete)
			r.Post("/{id}/process", h.records.HandleProcess)
		})

		r.Get("/medical-summaries", h.summaries.HandleList)
		r.Post("/medical-summaries", h.summaries.HandleSave)
		r.Delete("/medical-summaries", h.summaries.HandleDelete)
		r.With(limited).Post("/medical-summaries/generate", h.summaries.HandleGenerate)
		r.With(limited).Post("/medical-summary/generate", h.summaries.HandleGenerate)
		r.Get("/medical-summary/latest", h.summaries.HandleLatest)

		r.With(limited).Post("/ai", h.assistant.HandleInterpret)
		r.With(limited).Post("/elevenlabs", h.assistant.HandleSpeak)

		r.Get("/logs", h.logs.HandleList)
		r.Post("/logs", h.logs.HandleAppend)

		r.Post("/extract-pdf", h.extract.HandlePDF)
	})
}

// rateKey limits per user; every limited route sits behind RequireAuth.
func rateKey(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return "user:" + id
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the processing worker and the HTTP server until ctx is done or
// SIGINT/SIGTERM arrives, then shuts down gracefully: in-flight requests get
// 30 seconds, the worker finishes its current job and pending activity
// writes are flushed. Closing the store is left to the caller.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.processor.Start(ctx)
	defer s.processor.Stop()
	defer s.activity.Wait()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Summary generation and speech synthesis can take a while.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBDriver),
			slog.String("storage", s.config.Storage.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
