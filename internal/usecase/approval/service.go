package approval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/infra/metrics"
)

// OnboardingStates отдаёт текущее состояние анкеты участника.
type OnboardingStates interface {
	State(ctx context.Context, recipientID int64) (domain.OnboardingState, error)
}

// Config задаёт параметры сервиса одобрения.
type Config struct {
	// FallbackMode используется, если настройка режима не задана.
	FallbackMode domain.ApprovalMode
	Timeout      time.Duration
	LockTTL      time.Duration
}

// Summary: итог прохода по открытым заявкам.
type Summary struct {
	Mode     domain.ApprovalMode
	Approved int
	Waiting  int
	Failed   int
	Deferred int
}

// Service решает судьбу открытых заявок и вызывает одобрение на стороне платформы.
type Service struct {
	requests   domain.JoinRequestRepo
	settings   domain.SettingsRepo
	recipients domain.RecipientRepo
	states     OnboardingStates
	approver   domain.Approver
	locker     domain.Locker
	actions    domain.ActionLog
	log        zerolog.Logger
	cfg        Config
	now        func() time.Time
}

// NewService создаёт сервис одобрения.
func NewService(
	requests domain.JoinRequestRepo,
	settings domain.SettingsRepo,
	recipients domain.RecipientRepo,
	states OnboardingStates,
	approver domain.Approver,
	locker domain.Locker,
	actions domain.ActionLog,
	log zerolog.Logger,
	cfg Config,
) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	if cfg.FallbackMode == "" {
		cfg.FallbackMode = domain.ApprovalManual
	}
	return &Service{
		requests:   requests,
		settings:   settings,
		recipients: recipients,
		states:     states,
		approver:   approver,
		locker:     locker,
		actions:    actions,
		log:        log,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Mode читает режим одобрения из настроек. Значение не кэшируется.
func (s *Service) Mode(ctx context.Context) (domain.ApprovalMode, error) {
	raw, ok, err := s.settings.GetSetting(ctx, domain.SettingApprovalMode)
	if err != nil {
		return "", fmt.Errorf("чтение режима одобрения: %w", err)
	}
	if !ok {
		return s.cfg.FallbackMode, nil
	}
	mode, known := domain.ParseApprovalMode(raw)
	if !known {
		s.log.Warn().Str("value", raw).Msg("approval: неизвестный режим, используется ручной")
	}
	return mode, nil
}

// EvaluateRecipient принимает решение по заявкам одного участника. Вызывается
// из обработчика событий после завершения анкеты или прихода заявки.
func (s *Service) EvaluateRecipient(ctx context.Context, recipientID int64) (domain.Decision, error) {
	mode, err := s.Mode(ctx)
	if err != nil {
		return domain.DecisionNone, err
	}
	if mode == domain.ApprovalManual {
		return domain.DecisionNone, nil
	}
	pending, err := s.requests.ListPendingByRecipient(ctx, recipientID)
	if err != nil {
		return domain.DecisionNone, fmt.Errorf("получение заявок участника: %w", err)
	}
	var summary Summary
	decision, err := s.evaluate(ctx, mode, recipientID, pending, &summary)
	if err != nil {
		return decision, err
	}
	if summary.Deferred > 0 {
		return decision, domain.ErrTransient
	}
	return decision, nil
}

// EvaluateAll проходит по всем открытым заявкам. Режим читается один раз на проход.
// Ошибка одобрения отдельной заявки не прерывает проход: заявка остаётся открытой.
func (s *Service) EvaluateAll(ctx context.Context) (Summary, error) {
	mode, err := s.Mode(ctx)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Mode: mode}
	if mode == domain.ApprovalManual {
		return summary, nil
	}
	pending, err := s.requests.ListPendingRequests(ctx)
	if err != nil {
		return summary, fmt.Errorf("получение открытых заявок: %w", err)
	}

	byRecipient := make(map[int64][]domain.PendingRequest)
	var order []int64
	for _, req := range pending {
		if _, ok := byRecipient[req.RecipientID]; !ok {
			order = append(order, req.RecipientID)
		}
		byRecipient[req.RecipientID] = append(byRecipient[req.RecipientID], req)
	}

	for _, recipientID := range order {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.evaluate(ctx, mode, recipientID, byRecipient[recipientID], &summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (s *Service) evaluate(ctx context.Context, mode domain.ApprovalMode, recipientID int64, pending []domain.PendingRequest, summary *Summary) (domain.Decision, error) {
	if len(pending) == 0 {
		return Decide(mode, domain.OnboardingNotStarted, false), nil
	}
	banned, err := s.recipients.IsBanned(ctx, recipientID)
	if err != nil {
		return domain.DecisionNone, fmt.Errorf("проверка бана: %w", err)
	}
	if banned {
		return domain.DecisionNone, nil
	}
	state, err := s.states.State(ctx, recipientID)
	if err != nil {
		return domain.DecisionNone, fmt.Errorf("состояние анкеты: %w", err)
	}

	decision := Decide(mode, state, true)
	if decision != domain.DecisionApproveNow {
		if decision == domain.DecisionWait {
			summary.Waiting += len(pending)
		}
		return decision, nil
	}
	for _, req := range pending {
		s.approveOne(ctx, req, summary)
	}
	return decision, nil
}

// approveOne одобряет заявку под блокировкой по её id. Под блокировкой статус
// перечитывается, а итог фиксируется условным обновлением из pending, поэтому
// закрытая заявка повторно на платформу не уходит.
func (s *Service) approveOne(ctx context.Context, req domain.PendingRequest, summary *Summary) {
	logger := s.log.With().Int64("recipient", req.RecipientID).Int64("request", req.ID).Logger()

	release, ok, err := s.locker.Acquire(ctx, "approve:"+strconv.FormatInt(req.ID, 10), s.cfg.LockTTL)
	if err != nil {
		logger.Warn().Err(err).Msg("approval: не удалось захватить блокировку")
		summary.Deferred++
		return
	}
	if !ok {
		metrics.ObserveApproval("busy")
		return
	}
	defer release()

	// Снимок заявок мог устареть, пока блокировку держал другой процесс.
	current, err := s.requests.GetRequest(ctx, req.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.Warn().Err(err).Msg("approval: не удалось перечитать заявку")
		summary.Deferred++
		return
	}
	if err != nil || current.Status != domain.RequestPending {
		metrics.ObserveApproval("noop")
		return
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	err = s.approver.Approve(callCtx, req)
	cancel()

	var status domain.RequestStatus
	switch {
	case err == nil:
		status = domain.RequestApproved
	case errors.Is(err, domain.ErrNoSuchPendingRequest):
		logger.Info().Msg("approval: заявки на платформе уже нет")
		status = domain.RequestApproved
	case errors.Is(err, domain.ErrPermissionDenied):
		logger.Error().Err(err).Msg("approval: нет прав на одобрение")
		status = domain.RequestFailed
	default:
		logger.Warn().Err(err).Msg("approval: одобрение отложено до следующего прохода")
		metrics.ObserveApproval("deferred")
		summary.Deferred++
		return
	}

	storeCtx := context.WithoutCancel(ctx)
	resolved, rerr := s.requests.ResolveRequest(storeCtx, req.ID, status, s.now())
	if rerr != nil {
		logger.Error().Err(rerr).Msg("approval: не удалось закрыть заявку")
		summary.Deferred++
		return
	}
	if !resolved {
		metrics.ObserveApproval("noop")
		return
	}

	action := domain.Action{RecipientID: req.RecipientID, Type: domain.ActionAutoApproved, OccurredAt: s.now()}
	if status == domain.RequestFailed {
		action.Type = domain.ActionApproveFailed
		action.Data = err.Error()
		summary.Failed++
		metrics.ObserveApproval("denied")
	} else {
		summary.Approved++
		metrics.ObserveApproval("approved")
		logger.Info().Msg("approval: заявка одобрена")
	}
	if aerr := s.actions.LogAction(storeCtx, action); aerr != nil {
		logger.Warn().Err(aerr).Msg("approval: не удалось записать действие")
	}
}
