package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/infra/metrics"
	"tg-inviter-bot/internal/usecase/approval"
	"tg-inviter-bot/internal/usecase/schedule"
)

const tickLeaseKey = "scheduler:tick"

// Approvals проходит по открытым заявкам.
type Approvals interface {
	EvaluateAll(ctx context.Context) (approval.Summary, error)
}

// Config задаёт параметры цикла.
type Config struct {
	Tick            time.Duration
	SendTimeout     time.Duration
	LockTTL         time.Duration
	BroadcastWindow time.Duration
	// SharedLease включает общую блокировку прохода для нескольких экземпляров планировщика.
	SharedLease bool
}

// Report: итог одного прохода.
type Report struct {
	TickID    string
	Skipped   bool
	Stopped   bool
	Delivered int
	Failed    int
	Approvals approval.Summary
}

// Loop: периодический проход: выбор кандидатов, доставка, фиксация в журнале и одобрение заявок.
// Проходы не пересекаются: проход, начавшийся во время предыдущего, пропускается.
type Loop struct {
	content    domain.ContentRepo
	recipients domain.RecipientRepo
	ledger     domain.DeliveryLedger
	sender     domain.Sender
	approvals  Approvals
	locker     domain.Locker
	actions    domain.ActionLog
	selector   *schedule.Selector
	log        zerolog.Logger
	cfg        Config
	now        func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewLoop создаёт цикл планировщика.
func NewLoop(
	content domain.ContentRepo,
	recipients domain.RecipientRepo,
	ledger domain.DeliveryLedger,
	sender domain.Sender,
	approvals Approvals,
	locker domain.Locker,
	actions domain.ActionLog,
	log zerolog.Logger,
	cfg Config,
) *Loop {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.SendTimeout
	}
	return &Loop{
		content:    content,
		recipients: recipients,
		ledger:     ledger,
		sender:     sender,
		approvals:  approvals,
		locker:     locker,
		actions:    actions,
		selector:   schedule.NewSelector(ledger, log, cfg.BroadcastWindow),
		log:        log,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock подменяет источник времени для Run.
func (l *Loop) SetClock(now func() time.Time) {
	l.now = now
}

// Run запускает проходы раз в интервал до отмены контекста. Первый проход выполняется сразу.
// После отмены Run ждёт, пока текущий проход завершит кандидата, на котором находится.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()
	defer l.wg.Wait()

	l.spawn(ctx)
	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("scheduler: остановка")
			return nil
		case <-ticker.C:
			l.spawn(ctx)
		}
	}
}

func (l *Loop) spawn(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		report, err := l.Tick(ctx, l.now())
		if err != nil {
			l.log.Error().Err(err).Str("tick_id", report.TickID).Msg("scheduler: проход прерван")
		}
	}()
}

// Tick выполняет один проход для момента now.
func (l *Loop) Tick(ctx context.Context, now time.Time) (Report, error) {
	if !l.running.CompareAndSwap(false, true) {
		metrics.ObserveTick("skipped", time.Time{})
		l.log.Warn().Msg("scheduler: предыдущий проход ещё идёт, пропуск")
		return Report{Skipped: true}, nil
	}
	defer l.running.Store(false)

	report := Report{TickID: uuid.NewString()}
	logger := l.log.With().Str("tick_id", report.TickID).Logger()
	start := time.Now()

	if l.cfg.SharedLease {
		release, ok, err := l.locker.Acquire(ctx, tickLeaseKey, l.cfg.Tick)
		if err != nil {
			metrics.ObserveTick("failed", start)
			return report, fmt.Errorf("захват прохода: %w", err)
		}
		if !ok {
			metrics.ObserveTick("skipped", time.Time{})
			logger.Debug().Msg("scheduler: проход выполняет другой экземпляр")
			report.Skipped = true
			return report, nil
		}
		defer release()
	}

	if err := l.tick(ctx, now, logger, &report); err != nil {
		metrics.ObserveTick("failed", start)
		return report, err
	}
	metrics.ObserveTick("completed", start)
	logger.Info().
		Int("delivered", report.Delivered).
		Int("failed", report.Failed).
		Int("approved", report.Approvals.Approved).
		Bool("stopped", report.Stopped).
		Dur("took", time.Since(start)).
		Msg("scheduler: проход завершён")
	return report, nil
}

func (l *Loop) tick(ctx context.Context, now time.Time, logger zerolog.Logger, report *Report) error {
	catalog, err := l.content.ListActiveContentItems(ctx)
	if err != nil {
		return fmt.Errorf("получение каталога: %w", err)
	}
	recipients, err := l.recipients.ListActiveRecipients(ctx)
	if err != nil {
		return fmt.Errorf("получение участников: %w", err)
	}
	broadcasts, err := l.content.ListDueBroadcasts(ctx, now, l.cfg.BroadcastWindow)
	if err != nil {
		return fmt.Errorf("получение рассылок: %w", err)
	}

	candidates, err := l.selector.SelectDue(ctx, recipients, catalog, broadcasts, now)
	if err != nil {
		return err
	}
	logger.Debug().Int("candidates", len(candidates)).Int("recipients", len(recipients)).Msg("scheduler: кандидаты выбраны")

	// После неудачи участника его оставшиеся кандидаты ждут следующего прохода,
	// чтобы не нарушить порядок цепочки.
	failed := make(map[int64]struct{})
	for _, c := range candidates {
		if ctx.Err() != nil {
			report.Stopped = true
			return nil
		}
		if _, ok := failed[c.Recipient.ID]; ok {
			continue
		}
		out, err := l.deliver(ctx, c, now, logger)
		if err != nil {
			return err
		}
		switch out {
		case outcomeDelivered:
			report.Delivered++
		case outcomeFailed:
			report.Failed++
			failed[c.Recipient.ID] = struct{}{}
		}
	}

	if ctx.Err() != nil {
		report.Stopped = true
		return nil
	}
	summary, err := l.approvals.EvaluateAll(ctx)
	report.Approvals = summary
	if err != nil {
		return fmt.Errorf("одобрение заявок: %w", err)
	}
	return nil
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeSkipped
	outcomeFailed
)

// deliver обрабатывает одного кандидата целиком: захват ключа, повторная проверка журнала,
// отправка с таймаутом и фиксация. Отмена внешнего контекста не прерывает начатого кандидата.
func (l *Loop) deliver(parent context.Context, c domain.Candidate, now time.Time, logger zerolog.Logger) (outcome, error) {
	ctx := context.WithoutCancel(parent)
	kind := string(c.Key.Kind)
	logger = logger.With().Int64("recipient", c.Key.RecipientID).Str("kind", kind).Int64("item", c.Key.ItemID).Logger()

	release, ok, err := l.locker.Acquire(ctx, deliveryLockKey(c.Key), l.cfg.LockTTL)
	if err != nil {
		return outcomeFailed, fmt.Errorf("захват ключа доставки: %w", err)
	}
	if !ok {
		metrics.ObserveDelivery(kind, "busy")
		return outcomeSkipped, nil
	}
	defer release()

	already, err := l.ledger.AlreadyDelivered(ctx, c.Key)
	if err != nil {
		return outcomeFailed, fmt.Errorf("проверка журнала: %w", err)
	}
	if already {
		metrics.ObserveDelivery(kind, "duplicate")
		return outcomeSkipped, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, l.cfg.SendTimeout)
	err = l.sender.Send(sendCtx, c.Key.RecipientID, c.Message)
	cancel()
	if err != nil {
		metrics.BotSendErrors.Inc()
		var rl *domain.RateLimitedError
		switch {
		case errors.Is(err, domain.ErrRecipientUnreachable):
			metrics.ObserveDelivery(kind, "unreachable")
			logger.Info().Err(err).Msg("scheduler: участник недоступен")
		case errors.As(err, &rl):
			metrics.ObserveDelivery(kind, "rate_limited")
			logger.Warn().Dur("retry_after", rl.RetryAfter).Msg("scheduler: лимит запросов, повтор на следующем проходе")
		default:
			metrics.ObserveDelivery(kind, "failed")
			logger.Warn().Err(err).Msg("scheduler: доставка не удалась")
		}
		return outcomeFailed, nil
	}

	if err := l.ledger.RecordDelivered(ctx, c.Key, now); err != nil {
		if errors.Is(err, domain.ErrDuplicateDelivery) {
			metrics.ObserveDelivery(kind, "duplicate")
			logger.Warn().Msg("scheduler: доставка уже зафиксирована другим обработчиком")
			return outcomeSkipped, nil
		}
		return outcomeFailed, fmt.Errorf("фиксация доставки: %w", err)
	}
	metrics.ObserveDelivery(kind, "delivered")

	action := domain.Action{
		RecipientID: c.Key.RecipientID,
		Type:        domain.ActionReceivedMessage,
		Data:        strconv.FormatInt(c.Key.ItemID, 10),
		OccurredAt:  now,
	}
	if c.Key.Kind == domain.ItemKindBroadcast {
		action.Type = domain.ActionReceivedBroadcast
	}
	if err := l.actions.LogAction(ctx, action); err != nil {
		logger.Warn().Err(err).Msg("scheduler: не удалось записать действие")
	}
	return outcomeDelivered, nil
}

func deliveryLockKey(key domain.DeliveryKey) string {
	return "delivery:" + strconv.FormatInt(key.RecipientID, 10) + ":" + string(key.Kind) + ":" + strconv.FormatInt(key.ItemID, 10)
}
