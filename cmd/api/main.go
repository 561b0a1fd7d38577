package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/jobstate"
	"server/internal/kv"
	"server/internal/providers/image"
	"server/internal/providers/video"
	"server/internal/quota"
	"server/internal/storage"
	"server/internal/videogen"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable KV (Postgres or SQLite depending on DATABASE_URL)
	store, err := kv.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open kv store")
	}
	defer store.Close()

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init artifact storage")
	}

	// Keyframe provider is optional; submissions simply skip the keyframe
	// stage when it is absent.
	var imageGen image.Generator
	if cfg.ImageAPIKey != "" {
		client, err := image.NewClient(image.Options{
			APIKey:  cfg.ImageAPIKey,
			BaseURL: cfg.ImageBaseURL,
			Model:   cfg.ImageModel,
			Family:  image.Family(cfg.ImageFamily),
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init image provider")
		}
		imageGen = client
	} else {
		logger.Warn().Msg("IMAGE_API_KEY not set, keyframe stage disabled")
	}

	var videoGen video.Generator
	if cfg.VideoAPIKey != "" {
		client, err := video.NewClient(video.Options{
			APIKey:  cfg.VideoAPIKey,
			BaseURL: cfg.VideoBaseURL,
			Model:   cfg.VideoModel,
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init video provider")
		}
		videoGen = client
	} else {
		logger.Warn().Msg("VIDEO_API_KEY not set, generation requests will be rejected")
	}

	pool := videogen.NewPool(cfg.SettleQueueSize, logger)
	pool.Start(ctx, cfg.SettleWorkers)

	service := videogen.NewService(videogen.Config{
		Size:          cfg.VideoSize,
		KeyframeMode:  cfg.KeyframeMode,
		ImageTimeout:  cfg.ImageTimeout,
		SubmitTimeout: cfg.VideoSubmitTimeout,
		StatusTimeout: cfg.VideoStatusTimeout,
		FetchTimeout:  cfg.VideoFetchTimeout,
		Settle: videogen.SettleConfig{
			InitialDelay: cfg.SettleInitialDelay,
			RetryDelay:   cfg.SettleRetryDelay,
			MaxAttempts:  cfg.SettleMaxAttempts,
		},
	}, videogen.Deps{
		Image:  imageGen,
		Video:  videoGen,
		Cache:  videogen.NewArtifactCache(fileStore, logger),
		Jobs:   jobstate.NewStore(store, cfg.JobTTL),
		Quota:  quota.NewManager(store, cfg.QuotaTTL, logger),
		Pool:   pool,
		Logger: logger,
	})

	app := handlers.NewApp(logger, service, cfg.StorageBaseURL)
	router := httpapi.NewRouter(app, cfg, logger, fileStore.BasePath())
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	// Let in-flight settlements drain before the store closes.
	pool.Stop()
	logger.Info().Msg("server stopped")
}
