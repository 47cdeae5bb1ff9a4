package domain

import (
	"context"
	"time"
)

// ContentRepo отдаёт каталог сообщений и вопросов. Только чтение.
type ContentRepo interface {
	ListActiveContentItems(ctx context.Context) ([]ContentItem, error)
	ListActiveQuestions(ctx context.Context) ([]Question, error)
	GetQuestion(ctx context.Context, id int64) (Question, error)
	ListDueBroadcasts(ctx context.Context, now time.Time, window time.Duration) ([]Broadcast, error)
}

// RecipientRepo управляет участниками.
type RecipientRepo interface {
	UpsertRecipient(ctx context.Context, profile RecipientProfile) (Recipient, bool, error)
	GetRecipient(ctx context.Context, id int64) (Recipient, error)
	ListActiveRecipients(ctx context.Context) ([]Recipient, error)
	IsBanned(ctx context.Context, id int64) (bool, error)
}

// DeliveryLedger: журнал доставок, единственный источник идемпотентности.
type DeliveryLedger interface {
	AlreadyDelivered(ctx context.Context, key DeliveryKey) (bool, error)
	// DeliveredKeys возвращает уже доставленные ключи указанных участников одним запросом.
	DeliveredKeys(ctx context.Context, recipientIDs []int64) (map[DeliveryKey]struct{}, error)
	// RecordDelivered создаёт запись. Повтор того же ключа возвращает ErrDuplicateDelivery.
	RecordDelivered(ctx context.Context, key DeliveryKey, at time.Time) error
}

// OnboardingRepo хранит прогресс анкеты и ответы.
type OnboardingRepo interface {
	GetProgress(ctx context.Context, recipientID int64) (OnboardingProgress, error)
	// StartOnboarding создаёт прогресс. Если запись уже есть, возвращает ErrAlreadyStarted.
	StartOnboarding(ctx context.Context, progress OnboardingProgress) error
	// AdvanceOnboarding атомарно сохраняет ответ и переводит анкету дальше.
	// Сменившийся текущий вопрос даёт ErrStaleAnswer, повторный ответ даёт ErrDuplicateAnswer.
	AdvanceOnboarding(ctx context.Context, adv OnboardingAdvance) error
	ListAnswers(ctx context.Context, recipientID int64) ([]Answer, error)
}

// JoinRequestRepo хранит заявки на вступление.
type JoinRequestRepo interface {
	// SavePendingRequest регистрирует заявку. Открытая заявка на ту же пару участник/чат переиспользуется.
	SavePendingRequest(ctx context.Context, req PendingRequest) (PendingRequest, error)
	// GetRequest читает заявку по id. ErrNotFound, если её нет.
	GetRequest(ctx context.Context, id int64) (PendingRequest, error)
	ListPendingRequests(ctx context.Context) ([]PendingRequest, error)
	ListPendingByRecipient(ctx context.Context, recipientID int64) ([]PendingRequest, error)
	// ResolveRequest переводит заявку из pending в итоговый статус. false, если заявка уже закрыта.
	ResolveRequest(ctx context.Context, id int64, status RequestStatus, at time.Time) (bool, error)
}

// SettingsRepo хранит настройки, изменяемые из админки.
type SettingsRepo interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// MenuRepo отдаёт активные кнопки главного меню в порядке показа.
type MenuRepo interface {
	ListMenu(ctx context.Context) ([]MenuItem, error)
}

// InviteRepo проверяет коды приглашений.
type InviteRepo interface {
	// GetInviteLink возвращает ErrNotFound для неизвестного кода.
	GetInviteLink(ctx context.Context, code string) (InviteLink, error)
}

// Sender доставляет сообщение участнику.
type Sender interface {
	Send(ctx context.Context, recipientID int64, msg Message) error
}

// Approver одобряет заявку на стороне платформы.
type Approver interface {
	Approve(ctx context.Context, req PendingRequest) error
}

// Locker выдаёт неблокирующие блокировки по ключу.
type Locker interface {
	// Acquire пытается захватить ключ. ok=false, если ключ занят другим владельцем.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// AdminRepo: операции админки: наполнение каталога, баны, сброс журнала для тестов.
type AdminRepo interface {
	CreateContentItem(ctx context.Context, item ContentItem) (ContentItem, error)
	SetContentItemActive(ctx context.Context, id int64, active bool) error
	ListContentItems(ctx context.Context) ([]ContentItem, error)
	CreateQuestion(ctx context.Context, q Question) (Question, error)
	SetQuestionActive(ctx context.Context, id int64, active bool) error
	ListQuestions(ctx context.Context) ([]Question, error)
	CreateBroadcast(ctx context.Context, b Broadcast) (Broadcast, error)
	CreateMenuItem(ctx context.Context, item MenuItem) (MenuItem, error)
	SetMenuItemActive(ctx context.Context, id int64, active bool) error
	ListMenuItems(ctx context.Context) ([]MenuItem, error)
	CreateInviteLink(ctx context.Context, link InviteLink) (InviteLink, error)
	SetInviteLinkActive(ctx context.Context, code string, active bool) error
	ListInviteLinks(ctx context.Context) ([]InviteLink, error)
	SetBanned(ctx context.Context, recipientID int64, banned bool) error
	// PurgeDeliveries удаляет записи журнала участника. Только для ручной отладки.
	PurgeDeliveries(ctx context.Context, recipientID int64) (int64, error)
	ListActions(ctx context.Context, recipientID int64, limit int) ([]Action, error)
}
