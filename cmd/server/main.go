package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/echoroom/server/internal/adapters/http"
	"github.com/echoroom/server/internal/adapters/ws"
	"github.com/echoroom/server/internal/app"
	"github.com/echoroom/server/internal/config"
	"github.com/echoroom/server/internal/media"
	"github.com/echoroom/server/internal/recording"
	"github.com/echoroom/server/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := os.MkdirAll(cfg.RecordingsDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.RecordingsDir).Msg("could not create recordings dir")
	}

	var store storage.Persistence = storage.NopPersistence{}
	if cfg.DatabaseDSN != "" {
		store, err = storage.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("could not open database")
		}
		log.Info().Msg("database persistence enabled")
	} else {
		log.Warn().Msg("no database configured, room bookkeeping disabled")
	}

	var uploads storage.Uploader = storage.NopUploader{}
	if cfg.Minio.Endpoint != "" {
		uploads, err = storage.NewMinioUploader(
			cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey,
			cfg.Minio.Bucket, cfg.Minio.PublicURL, cfg.Minio.Secure,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("could not set up object storage")
		}
		log.Info().Str("bucket", cfg.Minio.Bucket).Msg("object storage enabled")
	} else {
		log.Warn().Msg("no object storage configured, serving recordings locally")
	}

	reg := app.NewRegistry()
	dir := app.NewDirectory(reg)
	relay := app.NewRelay(reg, dir)

	ffmpeg := media.NewFFmpeg()
	engine := media.NewEngine(ffmpeg, media.DefaultSpec())
	recorder := recording.NewManager(cfg.RecordingsDir, cfg.GracePeriod, ffmpeg, engine, store, uploads, relay)

	ctl := ws.NewController(reg, dir, relay, store, recorder, cfg.ReadLimit)
	r := router.SetupRouter(ctx, cfg, ctl)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("EchoRoom server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
