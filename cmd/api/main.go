package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"paperdigest/internal/api"
	"paperdigest/internal/config"
	"paperdigest/internal/logging"
	"paperdigest/internal/storage"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	backend, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer backend.Close()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Fatal("dial temporal", zap.Error(err))
	}
	defer c.Close()

	h := api.NewServer(backend.Status, api.NewTemporalRuns(c, cfg.TemporalTaskQueue), logger.Named("api"))
	logger.Info("paperdigest api listening", zap.String("addr", cfg.APIAddr), zap.String("store", cfg.StoreBackend))
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}
