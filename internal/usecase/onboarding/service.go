package onboarding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/infra/metrics"
)

const defaultLockTTL = 30 * time.Second

// Step описывает результат перехода анкеты.
type Step struct {
	// Question: вопрос, на который пришёл ответ или который пропущен.
	Question *domain.Question
	// Next: следующий вопрос, nil если анкета завершена.
	Next      *domain.Question
	Completed bool
}

// Service ведёт участника по анкете: NOT_STARTED → IN_PROGRESS → COMPLETE.
// Переходы одного участника сериализуются блокировкой по ключу участника,
// а хранилище дополнительно проверяет текущий вопрос в той же транзакции.
type Service struct {
	repo    domain.OnboardingRepo
	content domain.ContentRepo
	locker  domain.Locker
	log     zerolog.Logger
	now     func() time.Time
	lockTTL time.Duration
}

// Option настраивает сервис.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLockTTL задаёт время жизни блокировки участника.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// NewService создаёт сервис анкеты.
func NewService(repo domain.OnboardingRepo, content domain.ContentRepo, locker domain.Locker, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		content: content,
		locker:  locker,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		lockTTL: defaultLockTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State возвращает состояние анкеты участника.
func (s *Service) State(ctx context.Context, recipientID int64) (domain.OnboardingState, error) {
	progress, err := s.repo.GetProgress(ctx, recipientID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.OnboardingNotStarted, nil
	}
	if err != nil {
		return "", fmt.Errorf("получение прогресса: %w", err)
	}
	return progress.State(), nil
}

// Current возвращает текущий вопрос участника, nil если анкета не в процессе.
func (s *Service) Current(ctx context.Context, recipientID int64) (*domain.Question, error) {
	progress, err := s.repo.GetProgress(ctx, recipientID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("получение прогресса: %w", err)
	}
	if progress.State() != domain.OnboardingInProgress {
		return nil, nil
	}
	q, err := s.content.GetQuestion(ctx, *progress.CurrentQuestionID)
	if err != nil {
		return nil, fmt.Errorf("получение вопроса: %w", err)
	}
	return &q, nil
}

// Start запускает анкету. Без активных вопросов анкета сразу завершается.
func (s *Service) Start(ctx context.Context, recipientID int64) (Step, error) {
	release, err := s.lock(ctx, recipientID)
	if err != nil {
		return Step{}, err
	}
	defer release()

	if _, err := s.repo.GetProgress(ctx, recipientID); err == nil {
		return Step{}, domain.ErrAlreadyStarted
	} else if !errors.Is(err, domain.ErrNotFound) {
		return Step{}, fmt.Errorf("получение прогресса: %w", err)
	}

	questions, err := s.activeQuestions(ctx)
	if err != nil {
		return Step{}, err
	}
	now := s.now()
	progress := domain.OnboardingProgress{RecipientID: recipientID, StartedAt: now}
	var step Step
	if len(questions) == 0 {
		progress.CompletedAt = &now
		step.Completed = true
	} else {
		first := questions[0]
		progress.CurrentQuestionID = &first.ID
		step.Next = &first
	}
	if err := s.repo.StartOnboarding(ctx, progress); err != nil {
		if errors.Is(err, domain.ErrAlreadyStarted) {
			return Step{}, err
		}
		return Step{}, fmt.Errorf("сохранение прогресса: %w", err)
	}
	metrics.ObserveOnboarding("started")
	if step.Completed {
		metrics.ObserveOnboarding("completed")
	}
	s.log.Info().Int64("recipient", recipientID).Bool("completed", step.Completed).Msg("onboarding: анкета начата")
	return step, nil
}

// SubmitAnswer принимает ответ на текущий вопрос и переводит анкету дальше.
// Ответ на нетекущий вопрос отклоняется без изменения состояния.
func (s *Service) SubmitAnswer(ctx context.Context, recipientID, questionID int64, value string) (Step, error) {
	return s.advance(ctx, recipientID, questionID, func(q domain.Question) (*domain.Answer, error) {
		switch q.Kind {
		case domain.QuestionChoice:
			if !q.HasOption(value) {
				return nil, domain.ErrInvalidChoice
			}
		default:
			if strings.TrimSpace(value) == "" {
				return nil, domain.ErrEmptyAnswer
			}
		}
		return &domain.Answer{RecipientID: recipientID, QuestionID: q.ID, Value: value, AnsweredAt: s.now()}, nil
	})
}

// Skip пропускает необязательный текущий вопрос без сохранения ответа.
func (s *Service) Skip(ctx context.Context, recipientID, questionID int64) (Step, error) {
	return s.advance(ctx, recipientID, questionID, func(q domain.Question) (*domain.Answer, error) {
		if q.Required {
			return nil, domain.ErrRequiredQuestion
		}
		return nil, nil
	})
}

func (s *Service) advance(ctx context.Context, recipientID, questionID int64, accept func(domain.Question) (*domain.Answer, error)) (Step, error) {
	release, err := s.lock(ctx, recipientID)
	if err != nil {
		metrics.ObserveOnboarding("busy")
		return Step{}, err
	}
	defer release()

	progress, err := s.repo.GetProgress(ctx, recipientID)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.ObserveOnboarding("rejected")
		return Step{}, domain.ErrNotInProgress
	}
	if err != nil {
		return Step{}, fmt.Errorf("получение прогресса: %w", err)
	}
	if progress.State() != domain.OnboardingInProgress {
		metrics.ObserveOnboarding("rejected")
		return Step{}, domain.ErrNotInProgress
	}
	if *progress.CurrentQuestionID != questionID {
		metrics.ObserveOnboarding("stale")
		return Step{}, domain.ErrStaleAnswer
	}

	question, err := s.content.GetQuestion(ctx, questionID)
	if err != nil {
		return Step{}, fmt.Errorf("получение вопроса: %w", err)
	}
	answer, err := accept(question)
	if err != nil {
		metrics.ObserveOnboarding("rejected")
		return Step{}, err
	}

	next, err := s.nextQuestion(ctx, question)
	if err != nil {
		return Step{}, err
	}
	adv := domain.OnboardingAdvance{RecipientID: recipientID, FromQuestionID: questionID, Answer: answer}
	step := Step{Question: &question, Next: next}
	if next != nil {
		adv.NextQuestionID = &next.ID
	} else {
		now := s.now()
		adv.CompletedAt = &now
		step.Completed = true
	}
	if err := s.repo.AdvanceOnboarding(ctx, adv); err != nil {
		if errors.Is(err, domain.ErrStaleAnswer) || errors.Is(err, domain.ErrDuplicateAnswer) {
			metrics.ObserveOnboarding("stale")
			return Step{}, err
		}
		return Step{}, fmt.Errorf("сохранение ответа: %w", err)
	}

	result := "answered"
	if answer == nil {
		result = "skipped"
	}
	metrics.ObserveOnboarding(result)
	logger := s.log.Info().Int64("recipient", recipientID).Int64("question", questionID).Str("result", result)
	if step.Completed {
		metrics.ObserveOnboarding("completed")
		logger.Bool("completed", true)
	}
	logger.Msg("onboarding: переход анкеты")
	return step, nil
}

func (s *Service) activeQuestions(ctx context.Context) ([]domain.Question, error) {
	questions, err := s.content.ListActiveQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение вопросов: %w", err)
	}
	active := questions[:0:0]
	for _, q := range questions {
		if q.Active {
			active = append(active, q)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Before(active[j]) })
	return active, nil
}

// nextQuestion ищет первый активный вопрос строго после текущего. Текущий вопрос мог быть
// выключен после начала анкеты, поэтому сравнение идёт по (order, id), а не по индексу.
func (s *Service) nextQuestion(ctx context.Context, current domain.Question) (*domain.Question, error) {
	questions, err := s.activeQuestions(ctx)
	if err != nil {
		return nil, err
	}
	for _, q := range questions {
		if current.Before(q) {
			next := q
			return &next, nil
		}
	}
	return nil, nil
}

func (s *Service) lock(ctx context.Context, recipientID int64) (func(), error) {
	release, ok, err := s.locker.Acquire(ctx, "onboarding:"+strconv.FormatInt(recipientID, 10), s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("блокировка участника: %w", err)
	}
	if !ok {
		return nil, domain.ErrBusy
	}
	return release, nil
}
