package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tradepost/backend/internal/app/sweeperapp"
	"github.com/tradepost/backend/internal/config"
	"github.com/tradepost/backend/internal/infra/logger"
)

func main() {
	every := flag.Duration("every", 0, "repeat the sweep on this interval instead of running once")
	flag.Parse()

	cfgPath := os.Getenv("APP_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log.Level, "sweeper")
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := sweeperapp.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("create sweeper app", zap.Error(err))
	}
	defer app.Close()

	if *every > 0 {
		if err := app.RunEvery(ctx, *every); err != nil {
			log.Fatal("sweeper failed", zap.Error(err))
		}
		return
	}

	if _, err := app.RunOnce(ctx); err != nil {
		log.Fatal("sweep failed", zap.Error(err))
	}
}
