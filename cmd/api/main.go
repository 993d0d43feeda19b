package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"casedesk/api/internal/app"
	"casedesk/api/internal/archive"
	"casedesk/api/internal/authpw"
	"casedesk/api/internal/blob"
	"casedesk/api/internal/config"
	"casedesk/api/internal/email"
	"casedesk/api/internal/llm"
	"casedesk/api/internal/observ"
	"casedesk/api/internal/search"
	"casedesk/api/internal/session"
	"casedesk/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := observ.NewLogger(cfg.LogLevel)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create archive dir")
	}

	dataStore := store.NewPostgresStore(db)
	generator := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey)

	service := app.New(cfg, dataStore, generator, logger)
	service.SetArchive(archive.New(cfg.ArchiveDir))
	service.SetAuthPassword(authpw.NewService(dataStore))

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	service.SetSearch(search.NewService(meiliClient, pgfts, logger))

	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info().Msg("using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		service.SetSessionCache(redisStore)
	} else {
		logger.Info().Msg("using PostgreSQL for refresh token storage")
	}

	if strings.TrimSpace(cfg.SMTPHost) != "" {
		service.SetEmail(email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}))
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobService, err := blob.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Fatal().Err(err).Msg("object storage connection failed")
		}
		service.SetBlob(blobService)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("Casedesk API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
