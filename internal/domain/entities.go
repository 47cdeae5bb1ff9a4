package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Recipient описывает участника, которому бот доставляет сообщения.
type Recipient struct {
	ID         int64
	Username   string
	FirstName  string
	LastName   string
	InviteCode string
	Banned     bool
	JoinedAt   time.Time
	LastSeenAt time.Time
}

// RecipientProfile содержит данные первого контакта с участником.
type RecipientProfile struct {
	ID         int64
	Username   string
	FirstName  string
	LastName   string
	InviteCode string
}

// ContentItem описывает сообщение цепочки, привязанное ко дню после вступления.
type ContentItem struct {
	ID            int64
	DayNumber     int
	SendTime      string
	OffsetMinutes int
	Active        bool
	Text          string
	HTMLText      string
	MediaType     MediaType
	MediaFileID   string
	ButtonsConfig string
	CreatedAt     time.Time
}

// Immediate сообщает, что элемент относится к нулевому дню.
func (c ContentItem) Immediate() bool {
	return c.DayNumber == 0
}

// Message собирает полезную нагрузку для отправки.
func (c ContentItem) Message() Message {
	return Message{
		Text:          c.Text,
		HTMLText:      c.HTMLText,
		MediaType:     NormalizeMediaType(string(c.MediaType)),
		MediaFileID:   strings.TrimSpace(c.MediaFileID),
		ButtonsConfig: c.ButtonsConfig,
		ViewedRef:     c.ID,
	}
}

// Broadcast: разовая рассылка всем активным участникам.
type Broadcast struct {
	ID          int64
	Text        string
	HTMLText    string
	ScheduledAt time.Time
	CreatedAt   time.Time
}

// Message собирает полезную нагрузку рассылки.
func (b Broadcast) Message() Message {
	return Message{Text: b.Text, HTMLText: b.HTMLText, MediaType: MediaText}
}

// Message: то, что уходит в чат-платформу.
type Message struct {
	Text          string
	HTMLText      string
	MediaType     MediaType
	MediaFileID   string
	ButtonsConfig string
	// ViewedRef добавляет кнопку «Просмотрено» с идентификатором элемента. 0 означает без кнопки.
	ViewedRef     int64
}

// Body возвращает текст и признак HTML-разметки.
func (m Message) Body() (string, bool) {
	if strings.TrimSpace(m.HTMLText) != "" {
		return m.HTMLText, true
	}
	return m.Text, false
}

// ItemKind различает ключи журнала доставки.
type ItemKind string

const (
	ItemKindStatic    ItemKind = "static"
	ItemKindBroadcast ItemKind = "broadcast"
)

// DeliveryKey: уникальный ключ пары участник/элемент.
type DeliveryKey struct {
	RecipientID int64
	Kind        ItemKind
	ItemID      int64
}

// DeliveryRecord подтверждает доставку элемента участнику.
type DeliveryRecord struct {
	Key         DeliveryKey
	DeliveredAt time.Time
}

// Candidate: пара, готовая к отправке в текущем тике.
type Candidate struct {
	Recipient Recipient
	Key       DeliveryKey
	Message   Message
}

// QuestionKind описывает тип вопроса анкеты.
type QuestionKind string

const (
	QuestionText   QuestionKind = "text"
	QuestionChoice QuestionKind = "choice"
)

// ParseQuestionKind приводит сохранённое значение к типу вопроса.
// Исторически вопросы с вариантами назывались "buttons".
func ParseQuestionKind(raw string) QuestionKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "choice", "buttons":
		return QuestionChoice
	default:
		return QuestionText
	}
}

// Question: шаг анкеты.
type Question struct {
	ID       int64
	Order    int
	Text     string
	Kind     QuestionKind
	Options  []string
	Required bool
	Active   bool
}

// Before задаёт строгий порядок вопросов: по Order, затем по ID.
func (q Question) Before(other Question) bool {
	if q.Order != other.Order {
		return q.Order < other.Order
	}
	return q.ID < other.ID
}

// HasOption проверяет, что значение совпадает с одним из вариантов.
func (q Question) HasOption(value string) bool {
	for _, opt := range q.Options {
		if opt == value {
			return true
		}
	}
	return false
}

// ParseOptions разбирает варианты ответа: JSON-массив или список через запятую.
func ParseOptions(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var parsed []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			parsed = strings.Split(raw, ",")
		}
	} else {
		parsed = strings.Split(raw, ",")
	}
	out := make([]string, 0, len(parsed))
	for _, opt := range parsed {
		if opt = strings.TrimSpace(opt); opt != "" {
			out = append(out, opt)
		}
	}
	return out
}

// EncodeOptions сериализует варианты для хранения.
func EncodeOptions(options []string) string {
	if len(options) == 0 {
		return ""
	}
	data, _ := json.Marshal(options)
	return string(data)
}

// OnboardingState: состояние анкеты участника.
type OnboardingState string

const (
	OnboardingNotStarted OnboardingState = "not_started"
	OnboardingInProgress OnboardingState = "in_progress"
	OnboardingComplete   OnboardingState = "complete"
)

// OnboardingProgress хранит прогресс участника по анкете.
type OnboardingProgress struct {
	RecipientID       int64
	CurrentQuestionID *int64
	StartedAt         time.Time
	CompletedAt       *time.Time
}

// State вычисляет состояние по сохранённой записи.
func (p OnboardingProgress) State() OnboardingState {
	switch {
	case p.CompletedAt != nil:
		return OnboardingComplete
	case p.CurrentQuestionID != nil:
		return OnboardingInProgress
	default:
		return OnboardingNotStarted
	}
}

// Answer: ответ участника на вопрос.
type Answer struct {
	RecipientID int64
	QuestionID  int64
	Value       string
	AnsweredAt  time.Time
}

// OnboardingAdvance описывает атомарный переход анкеты.
// Переход применяется только если текущий вопрос всё ещё равен FromQuestionID.
type OnboardingAdvance struct {
	RecipientID    int64
	FromQuestionID int64
	Answer         *Answer
	NextQuestionID *int64
	CompletedAt    *time.Time
}

// RequestStatus: статус заявки на вступление.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestFailed   RequestStatus = "failed"
)

// PendingRequest: заявка на вступление в чат.
type PendingRequest struct {
	ID          int64
	RecipientID int64
	ChatID      int64
	Status      RequestStatus
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}
