package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/shopcore-backend/internal/app"
	"github.com/angelmondragon/shopcore-backend/pkg/config"
	"github.com/angelmondragon/shopcore-backend/pkg/db"
	"github.com/angelmondragon/shopcore-backend/pkg/logger"
	"github.com/angelmondragon/shopcore-backend/pkg/redis"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(loadComponents).Execute(); err != nil {
		os.Exit(1)
	}
}

// loadComponents connects to the configured stores. The returned func
// closes them.
func loadComponents(ctx context.Context) (*app.Components, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logg := logger.New(logger.Options{
		ServiceName: "stockctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Output:      os.Stderr,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		_ = dbClient.Close()
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	closeAll := func() {
		_ = redisClient.Close()
		_ = dbClient.Close()
	}

	components, err := app.Build(app.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Cache:      redisClient,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return components, closeAll, nil
}
