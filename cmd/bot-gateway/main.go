package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tg-inviter-bot/internal/adapters/bot"
	"tg-inviter-bot/internal/app"
	"tg-inviter-bot/internal/infra/config"
	httpserver "tg-inviter-bot/internal/infra/http"
	"tg-inviter-bot/internal/infra/log"
	"tg-inviter-bot/internal/infra/metrics"
)

const (
	webhookPath   = "/bot/webhook"
	updateTimeout = 30 * time.Second
	maxInFlight   = 8
)

var allowedUpdates = []string{"message", "callback_query", "chat_join_request", "chat_member"}

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось подготовить зависимости")
	}
	defer deps.Close()

	services, err := app.NewServices(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось создать бота")
	}

	h := bot.NewHandler(services.Client, deps.Store, deps.Store, deps.Store, deps.Store, deps.Store, services.Onboarding, services.Approval, deps.Actions, logger)

	srv := httpserver.NewServer(logger)
	srv.AddHealthCheck("storage", deps.Ping)
	srv.AddHealthCheck("redis", deps.PingRedis)

	g, gctx := errgroup.WithContext(ctx)
	switch cfg.Telegram.UpdateMode {
	case "webhook":
		if err := setWebhook(services.Bot, cfg.Telegram.WebhookURL); err != nil {
			logger.Fatal().Err(err).Msg("gateway: не удалось зарегистрировать вебхук")
		}
		srv.Router.Post(webhookPath, webhookHandler(gctx, h, logger))
		logger.Info().Str("url", cfg.Telegram.WebhookURL).Msg("gateway: приём апдейтов через вебхук")
	default:
		if _, err := services.Bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Warn().Err(err).Msg("gateway: не удалось снять вебхук")
		}
		g.Go(func() error {
			return poll(gctx, services.Bot, h, logger)
		})
		logger.Info().Msg("gateway: приём апдейтов через long polling")
	}

	g.Go(func() error {
		return srv.Start(":" + strconv.Itoa(cfg.Port))
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("gateway: остановлен с ошибкой")
		return
	}
	logger.Info().Msg("gateway: остановлен")
}

func setWebhook(api *tgbotapi.BotAPI, link string) error {
	if link == "" {
		return errors.New("TG_WEBHOOK_URL не задан")
	}
	wh, err := tgbotapi.NewWebhook(link)
	if err != nil {
		return err
	}
	wh.AllowedUpdates = allowedUpdates
	_, err = api.Request(wh)
	return err
}

func webhookHandler(ctx context.Context, h *bot.Handler, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if ctx.Err() != nil {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		// Апдейт обрабатывается до конца даже при обрыве запроса со стороны Telegram.
		updCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), updateTimeout)
		defer cancel()
		h.HandleUpdate(updCtx, update)
		logger.Debug().Int("update_id", update.UpdateID).Msg("gateway: апдейт обработан")
		w.WriteHeader(http.StatusOK)
	}
}

// poll читает апдейты и обрабатывает их с ограничением параллелизма.
func poll(ctx context.Context, api *tgbotapi.BotAPI, h *bot.Handler, logger zerolog.Logger) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = allowedUpdates
	updates := api.GetUpdatesChan(u)

	var workers errgroup.Group
	workers.SetLimit(maxInFlight)
	defer func() {
		api.StopReceivingUpdates()
		_ = workers.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("gateway: остановка приёма апдейтов")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			workers.Go(func() error {
				updCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), updateTimeout)
				defer cancel()
				h.HandleUpdate(updCtx, update)
				return nil
			})
		}
	}
}
