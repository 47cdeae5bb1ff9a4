package app

import (
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-inviter-bot/internal/adapters/telegram"
	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/infra/config"
	"tg-inviter-bot/internal/usecase/approval"
	"tg-inviter-bot/internal/usecase/onboarding"
)

// Services: прикладные сервисы поверх общих зависимостей.
type Services struct {
	Bot        *tgbotapi.BotAPI
	Client     *telegram.Client
	Onboarding *onboarding.Service
	Approval   *approval.Service
}

// NewBotAPI создаёт клиента Bot API с таймаутом http-запросов.
func NewBotAPI(cfg config.AppConfig) (*tgbotapi.BotAPI, error) {
	if cfg.Telegram.Token == "" {
		return nil, errors.New("TG_BOT_TOKEN не задан")
	}
	httpClient := &http.Client{Timeout: cfg.Telegram.Timeout}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Telegram.Token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("создание бота: %w", err)
	}
	return bot, nil
}

// NewServices собирает клиента Telegram, анкету и политику одобрения.
func NewServices(cfg config.AppConfig, deps *Deps, log zerolog.Logger) (*Services, error) {
	bot, err := NewBotAPI(cfg)
	if err != nil {
		return nil, err
	}
	client := telegram.NewClient(bot, log)

	fallback, known := domain.ParseApprovalMode(cfg.DefaultApprovalMode)
	if !known {
		log.Warn().Str("value", cfg.DefaultApprovalMode).Msg("app: неизвестный DEFAULT_APPROVAL_MODE, используется ручной")
	}

	onboardingUC := onboarding.NewService(deps.Store, deps.Store, deps.Locker,
		log.With().Str("component", "onboarding").Logger(),
		onboarding.WithLockTTL(cfg.Scheduler.LockTTL))
	approvalUC := approval.NewService(deps.Store, deps.Store, deps.Store, onboardingUC, client, deps.Locker, deps.Actions,
		log.With().Str("component", "approval").Logger(),
		approval.Config{
			FallbackMode: fallback,
			Timeout:      cfg.Scheduler.ApproveTimeout,
			LockTTL:      cfg.Scheduler.LockTTL,
		})

	return &Services{Bot: bot, Client: client, Onboarding: onboardingUC, Approval: approvalUC}, nil
}
