package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"tg-inviter-bot/internal/app"
	"tg-inviter-bot/internal/infra/config"
	"tg-inviter-bot/internal/infra/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	open := func(ctx context.Context) (*app.Deps, error) {
		cfg, err := config.Parse()
		if err != nil {
			return nil, fmt.Errorf("конфиг: %w", err)
		}
		logger := log.NewLogger(cfg.AppEnv).Level(zerolog.WarnLevel)
		return app.Build(ctx, cfg, logger)
	}

	if err := newRootCmd(open).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
