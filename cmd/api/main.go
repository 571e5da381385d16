package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"acestudio/internal/adapter/repo"
	"acestudio/internal/engine"
	"acestudio/internal/http/handlers"
	httpapi "acestudio/internal/http/httpapi"
	"acestudio/internal/imagegen"
	"acestudio/internal/infra"
	"acestudio/internal/llm"
	"acestudio/internal/modelhub"
	"acestudio/internal/orchestrator"
	"acestudio/internal/settings"
	"acestudio/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	if err := repo.EnsureSchema(ctx, dbpool); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	uploads, err := storage.NewFileStore(cfg.UploadsDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize upload storage")
	}

	settingsStore := settings.NewStore(cfg.SettingsPath, logger)

	engineClient := engine.NewClient(engine.ClientOptions{
		BaseURL:  cfg.EngineBaseURL,
		Settings: settingsStore,
		Logger:   logger,
	})
	// Settings changes may swap checkpoints or step counts; drop the engine's
	// model caches so the next job reloads.
	settingsStore.OnUpdate(engineClient.InvalidateModelState)

	gateway := llm.NewGateway(llm.Options{
		Settings: settingsStore,
		Local:    engineClient,
		Logger:   logger,
	})

	covers := imagegen.NewGenerator(imagegen.Options{
		Settings:       settingsStore,
		GenerationsDir: cfg.GenerationsDir,
		Logger:         logger,
	})

	orch := orchestrator.New(orchestrator.Options{
		Repo:           repo.NewGenerationRepository(dbpool),
		Engine:         engineClient,
		Covers:         covers,
		Gateway:        gateway,
		Settings:       settingsStore,
		GenerationsDir: cfg.GenerationsDir,
		Logger:         logger,
	})

	app := &handlers.App{
		Orchestrator: orch,
		Settings:     settingsStore,
		Gateway:      gateway,
		Models:       modelhub.New(engineClient, logger),
		Uploads:      uploads,
		Logger:       logger,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
		CreateLimit:    cfg.CreatePerMinute,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
