package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"

	"github.com/greenops/greenops/internal/server/api"
	"github.com/greenops/greenops/internal/server/auth"
	"github.com/greenops/greenops/internal/server/commands"
	"github.com/greenops/greenops/internal/server/config"
	"github.com/greenops/greenops/internal/server/energy"
	"github.com/greenops/greenops/internal/server/ingest"
	"github.com/greenops/greenops/internal/server/models"
	"github.com/greenops/greenops/internal/server/registry"
	"github.com/greenops/greenops/internal/server/settings"
	"github.com/greenops/greenops/internal/server/storage"
	"github.com/greenops/greenops/internal/server/sweeper"
	"github.com/greenops/greenops/pkg/file"
)

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to server configuration file")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileClient := file.NewFileService()
	cfg, err := config.Load(*configPath, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	store, err := storage.Open(cfg.Storage.Path, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.Close()

	settingsStore := settings.NewStore(store, settings.DefaultTTL, logger)
	accountant := energy.NewAccountant(logger)
	machineRegistry := registry.New(store, accountant, settingsStore, logger)
	commandQueue := commands.NewQueue(store, settingsStore, logger)
	ingestService := ingest.NewService(machineRegistry, commandQueue, logger)

	jwtManager := auth.NewJWTManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTExpiry)
	loginLimiter := auth.NewRateLimiter(cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow)

	if err := bootstrapAdmin(store, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to bootstrap admin account")
	}

	sweep := sweeper.New(machineRegistry, commandQueue, store, cfg.Sweeper.Interval, logger)
	if err := sweep.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start sweeper")
	}

	h := api.NewHandlers(store, machineRegistry, commandQueue, ingestService, settingsStore, jwtManager, loginLimiter, logger)
	router := api.NewRouter(h)

	var handler http.Handler = handlers.LoggingHandler(os.Stdout, router)
	if len(cfg.CORS.Origins) > 0 {
		handler = handlers.CORS(
			handlers.AllowedOrigins(cfg.CORS.Origins),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		)(handler)
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr()).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}
	if err := sweep.Stop(); err != nil {
		logger.Error().Err(err).Msg("Sweeper shutdown failed")
	}
}

// bootstrapAdmin creates the initial operator account on first boot. An
// existing account is never overwritten.
func bootstrapAdmin(store *storage.Store, cfg *config.Config, logger zerolog.Logger) error {
	_, err := store.GetUser(cfg.Auth.AdminUsername)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	if cfg.Auth.AdminInitialPassword == "" {
		logger.Warn().Msg("No admin account exists and no initial password configured; dashboard login is unavailable")
		return nil
	}

	hash, err := auth.HashPassword(cfg.Auth.AdminInitialPassword)
	if err != nil {
		return err
	}

	if err := store.PutUser(&models.User{
		ID:           uuid.NewString(),
		Username:     cfg.Auth.AdminUsername,
		PasswordHash: hash,
		Role:         "admin",
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		return err
	}

	logger.Info().Str("username", cfg.Auth.AdminUsername).Msg("Bootstrapped admin account")
	return nil
}
