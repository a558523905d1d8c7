// Package main is the entry point for the InfoRx API server.
//
// main only builds infrastructure from configuration and hands it to
// internal/server, which wires services, handlers and routes. Everything
// with logic lives in internal/ so tests can compose the same server around
// in-memory fakes.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/sakif/inforx/internal/ai"
	"github.com/sakif/inforx/internal/config"
	"github.com/sakif/inforx/internal/ocr"
	"github.com/sakif/inforx/internal/ocr/docker"
	"github.com/sakif/inforx/internal/ratelimit"
	"github.com/sakif/inforx/internal/repository/sqlstore"
	"github.com/sakif/inforx/internal/server"
	"github.com/sakif/inforx/internal/storage"
	"github.com/sakif/inforx/internal/tts"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// === 1. CONFIGURATION AND LOGGING ===
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx := context.Background()

	// === 2. DATABASE ===
	// Open runs the embedded migrations for the selected dialect.
	db, err := sqlstore.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// === 3. OBJECT STORAGE ===
	objects, err := storage.New(ctx, storage.Options{
		Backend:   cfg.Storage.Backend,
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		UseSSL:    cfg.Storage.UseSSL,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		return err
	}

	// === 4. OCR ===
	// Optional: without Docker, images are stored but their text is not
	// extracted and the record is marked failed.
	var engine ocr.Engine
	if cfg.OCR.Enabled {
		dcfg := docker.DefaultConfig()
		dcfg.Image = cfg.OCR.Image
		dcfg.PoolSize = cfg.OCR.PoolSize
		dcfg.Timeout = cfg.OCR.Timeout
		e, err := docker.New(dcfg, logger)
		if err != nil {
			logger.Warn("OCR engine unavailable, image uploads will not be processed",
				slog.String("error", err.Error()),
			)
		} else {
			defer e.Close()
			engine = e
		}
	}

	// === 5. MODEL CLIENTS ===
	generator, err := ai.NewGenerator(cfg.LLM)
	if err != nil {
		return err
	}
	if cfg.LLM.APIKey == "" {
		logger.Warn("LLM_API_KEY not set, summaries and interpretation will fail")
	}
	speech := tts.NewElevenLabs(cfg.Speech.BaseURL, cfg.Speech.APIKey, cfg.Speech.VoiceID, cfg.Speech.Model)

	// === 6. RATE LIMITING ===
	// Disabled when REDIS_ADDR is empty. The interface stays nil in that case.
	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		l, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "inforx", cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = l.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warn("redis unreachable, rate limiting disabled", slog.String("error", err.Error()))
			_ = l.Close()
		} else {
			defer l.Close()
			limiter = l
		}
	}

	// === 7. SERVER ===
	srv, err := server.New(cfg, logger, server.Deps{
		Store:     db,
		Objects:   objects,
		Generator: generator,
		Speech:    speech,
		OCR:       engine,
		Limiter:   limiter,
	})
	if err != nil {
		return err
	}

	// Start blocks until SIGINT/SIGTERM.
	return srv.Start(ctx)
}
