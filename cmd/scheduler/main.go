package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"tg-inviter-bot/internal/app"
	"tg-inviter-bot/internal/infra/config"
	"tg-inviter-bot/internal/infra/log"
	"tg-inviter-bot/internal/infra/metrics"
	"tg-inviter-bot/internal/usecase/scheduler"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось подготовить зависимости")
	}
	defer deps.Close()

	services, err := app.NewServices(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось создать бота")
	}

	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	loop := scheduler.NewLoop(deps.Store, deps.Store, deps.Store, services.Client, services.Approval, deps.Locker, deps.Actions,
		log.ForComponent(logger, "scheduler"),
		scheduler.Config{
			Tick:            cfg.Scheduler.Tick,
			SendTimeout:     cfg.Scheduler.SendTimeout,
			LockTTL:         cfg.Scheduler.LockTTL,
			BroadcastWindow: cfg.Scheduler.BroadcastWindow,
			SharedLease:     deps.Redis != nil,
		})

	logger.Info().Dur("tick", cfg.Scheduler.Tick).Msg("scheduler: запущен")
	if err := loop.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("scheduler: остановлен с ошибкой")
		return
	}
	logger.Info().Msg("scheduler: остановлен")
}
