package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-inviter-bot/internal/adapters/telegram"
	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/usecase/onboarding"
)

// Messenger отправляет ответы участнику.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) error
	SendMenu(ctx context.Context, chatID int64, text string, items []domain.MenuItem) error
	SendQuestion(ctx context.Context, chatID int64, q domain.Question) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	ReplaceMarkup(ctx context.Context, chatID int64, messageID int, markup tgbotapi.InlineKeyboardMarkup) error
}

// Onboarding: операции анкеты, нужные обработчику.
type Onboarding interface {
	State(ctx context.Context, recipientID int64) (domain.OnboardingState, error)
	Current(ctx context.Context, recipientID int64) (*domain.Question, error)
	Start(ctx context.Context, recipientID int64) (onboarding.Step, error)
	SubmitAnswer(ctx context.Context, recipientID, questionID int64, value string) (onboarding.Step, error)
	Skip(ctx context.Context, recipientID, questionID int64) (onboarding.Step, error)
}

// Approvals: операции политики одобрения, нужные обработчику.
type Approvals interface {
	Mode(ctx context.Context) (domain.ApprovalMode, error)
	EvaluateRecipient(ctx context.Context, recipientID int64) (domain.Decision, error)
}

// Handler обрабатывает апдейты бота: /start, заявки на вступление, ответы анкеты,
// главное меню и кнопки.
type Handler struct {
	msgr       Messenger
	recipients domain.RecipientRepo
	requests   domain.JoinRequestRepo
	content    domain.ContentRepo
	menu       domain.MenuRepo
	invites    domain.InviteRepo
	onboarding Onboarding
	approvals  Approvals
	actions    domain.ActionLog
	log        zerolog.Logger
	now        func() time.Time
}

// NewHandler создаёт обработчик.
func NewHandler(
	msgr Messenger,
	recipients domain.RecipientRepo,
	requests domain.JoinRequestRepo,
	content domain.ContentRepo,
	menu domain.MenuRepo,
	invites domain.InviteRepo,
	onboardingUC Onboarding,
	approvals Approvals,
	actions domain.ActionLog,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		msgr:       msgr,
		recipients: recipients,
		requests:   requests,
		content:    content,
		menu:       menu,
		invites:    invites,
		onboarding: onboardingUC,
		approvals:  approvals,
		actions:    actions,
		log:        log.With().Str("component", "gateway").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.Message != nil:
		h.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		h.handleCallback(ctx, upd.CallbackQuery)
	case upd.ChatJoinRequest != nil:
		h.handleJoinRequest(ctx, upd.ChatJoinRequest)
	case upd.ChatMember != nil:
		h.handleMemberUpdate(ctx, upd.ChatMember)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return
	}
	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			h.handleStart(ctx, msg)
		default:
			h.reply(ctx, msg.Chat.ID, textUnknownCommand, nil)
		}
		return
	}
	if text := strings.TrimSpace(msg.Text); text != "" {
		h.handleText(ctx, msg.From.ID, text)
	}
}

func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	invite := h.checkInvite(ctx, msg.From.ID, strings.TrimSpace(msg.CommandArguments()))
	recipient, ok := h.register(ctx, msg.From, invite)
	if !ok {
		h.reply(ctx, msg.Chat.ID, textStorageError, nil)
		return
	}
	data := "без кода приглашения"
	if invite != "" {
		data = "код приглашения: " + invite
	}
	h.logAction(ctx, recipient.ID, domain.ActionStart, data)
	if recipient.Banned {
		return
	}

	if h.mode(ctx) == domain.ApprovalAfterOnboarding && h.hasQuestions(ctx) {
		h.reply(ctx, msg.Chat.ID, textOnboardingIntro, nil)
		h.beginOnboarding(ctx, recipient.ID)
		return
	}
	if err := h.msgr.SendMenu(ctx, msg.Chat.ID, textWelcome, h.menuItems(ctx)); err != nil {
		h.log.Error().Err(err).Int64("chat", msg.Chat.ID).Msg("gateway: не удалось отправить меню")
	}
}

// checkInvite оставляет код из /start, только если он известен и включён.
func (h *Handler) checkInvite(ctx context.Context, userID int64, code string) string {
	if code == "" {
		return ""
	}
	link, err := h.invites.GetInviteLink(ctx, code)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.log.Warn().Int64("recipient", userID).Str("invite", code).Msg("gateway: неизвестный код приглашения")
		return ""
	case err != nil:
		h.log.Error().Err(err).Int64("recipient", userID).Msg("gateway: не удалось проверить код приглашения")
		return ""
	case !link.Active:
		h.log.Warn().Int64("recipient", userID).Str("invite", code).Msg("gateway: код приглашения выключен")
		return ""
	}
	return link.Code
}

func (h *Handler) handleJoinRequest(ctx context.Context, req *tgbotapi.ChatJoinRequest) {
	recipient, ok := h.register(ctx, &req.From, "")
	if !ok {
		return
	}
	saved, err := h.requests.SavePendingRequest(ctx, domain.PendingRequest{
		RecipientID: recipient.ID,
		ChatID:      req.Chat.ID,
		Status:      domain.RequestPending,
		CreatedAt:   h.now(),
	})
	if err != nil {
		h.log.Error().Err(err).Int64("recipient", recipient.ID).Msg("gateway: не удалось сохранить заявку")
		return
	}
	h.logAction(ctx, recipient.ID, domain.ActionJoinRequest, fmt.Sprintf("заявка %d в чат %s", saved.ID, chatTitle(req.Chat)))
	h.log.Info().Int64("recipient", recipient.ID).Int64("chat", req.Chat.ID).Msg("gateway: новая заявка на вступление")
	if recipient.Banned {
		return
	}

	switch h.mode(ctx) {
	case domain.ApprovalImmediate:
		h.evaluate(ctx, recipient.ID)
	case domain.ApprovalAfterOnboarding:
		h.reply(ctx, recipient.ID, textJoinIntro, nil)
		h.beginOnboarding(ctx, recipient.ID)
	}
}

func (h *Handler) handleText(ctx context.Context, recipientID int64, text string) {
	current, err := h.onboarding.Current(ctx, recipientID)
	if err != nil {
		h.log.Error().Err(err).Int64("recipient", recipientID).Msg("gateway: не удалось получить текущий вопрос")
		return
	}
	if current != nil && current.Kind == domain.QuestionText {
		step, err := h.onboarding.SubmitAnswer(ctx, recipientID, current.ID, text)
		h.afterStep(ctx, recipientID, domain.ActionAnsweredQuestion, current.ID, step, err)
		return
	}
	for _, item := range h.menuItems(ctx) {
		if item.Name == text {
			h.menuAction(ctx, recipientID, item)
			return
		}
	}
	if current != nil {
		h.reply(ctx, recipientID, textUseButtons, nil)
		h.sendQuestion(ctx, recipientID, *current)
		return
	}
	h.reply(ctx, recipientID, textNoQuestion, nil)
}

// menuAction выполняет действие кнопки главного меню.
func (h *Handler) menuAction(ctx context.Context, recipientID int64, item domain.MenuItem) {
	switch item.Type {
	case domain.MenuLink:
		if item.ActionValue != "" {
			h.reply(ctx, recipientID, fmt.Sprintf(textMenuLink, item.ActionValue), nil)
			return
		}
	case domain.MenuText:
		if item.ActionValue != "" {
			h.reply(ctx, recipientID, item.ActionValue, nil)
			return
		}
	case domain.MenuInline:
		links, err := item.Links()
		if err != nil {
			h.log.Error().Err(err).Int64("menu_item", item.ID).Msg("gateway: неверные кнопки меню")
		}
		if markup := telegram.LinksMarkup(links); markup != nil {
			h.reply(ctx, recipientID, textMenuChoose, markup)
			return
		}
	}
	h.log.Warn().Int64("menu_item", item.ID).Str("type", string(item.Type)).Msg("gateway: пункт меню настроен неверно")
	h.reply(ctx, recipientID, textMenuBroken, nil)
}

func (h *Handler) menuItems(ctx context.Context) []domain.MenuItem {
	items, err := h.menu.ListMenu(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("gateway: не удалось получить меню")
		return nil
	}
	return items
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil {
		return
	}
	recipientID := cb.From.ID
	notice := ""
	action, ok := ParseCallback(cb.Data)
	switch {
	case !ok:
		h.log.Debug().Str("data", cb.Data).Msg("gateway: неизвестный callback")
	case action.Kind == telegram.CallbackViewed:
		h.logAction(ctx, recipientID, domain.ActionViewedMessage, "сообщение "+strconv.FormatInt(action.ID, 10))
		notice = textViewedNotice
		if cb.Message != nil && cb.Message.Chat != nil {
			if err := h.msgr.ReplaceMarkup(ctx, cb.Message.Chat.ID, cb.Message.MessageID, telegram.ViewedMarkup(action.ID)); err != nil {
				h.log.Warn().Err(err).Int64("recipient", recipientID).Msg("gateway: не удалось обновить кнопку")
			}
		}
	case action.Kind == telegram.CallbackViewedDone:
	case action.Kind == telegram.CallbackAnswer:
		notice = h.handleChoice(ctx, recipientID, action)
	case action.Kind == telegram.CallbackSkip:
		step, err := h.onboarding.Skip(ctx, recipientID, action.ID)
		h.afterStep(ctx, recipientID, domain.ActionSkippedQuestion, action.ID, step, err)
	}

	if err := h.msgr.AnswerCallback(ctx, cb.ID, notice); err != nil {
		h.log.Error().Err(err).Msg("gateway: не удалось ответить на callback")
	}
}

func (h *Handler) handleChoice(ctx context.Context, recipientID int64, action Callback) string {
	q, err := h.content.GetQuestion(ctx, action.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.log.Error().Err(err).Int64("question", action.ID).Msg("gateway: не удалось получить вопрос")
		}
		return textStaleQuestion
	}
	if action.Option < 0 || action.Option >= len(q.Options) {
		return textUnknownOption
	}
	value := q.Options[action.Option]
	step, err := h.onboarding.SubmitAnswer(ctx, recipientID, q.ID, value)
	h.afterStep(ctx, recipientID, domain.ActionAnsweredQuestion, q.ID, step, err)
	if err != nil {
		return ""
	}
	return "Ответ принят: " + value
}

func (h *Handler) handleMemberUpdate(ctx context.Context, upd *tgbotapi.ChatMemberUpdated) {
	if upd.NewChatMember.User == nil {
		return
	}
	userID := upd.NewChatMember.User.ID
	wasIn := isInside(upd.OldChatMember)
	isIn := isInside(upd.NewChatMember)
	switch {
	case !wasIn && isIn:
		h.logAction(ctx, userID, domain.ActionJoinChannel, chatTitle(upd.Chat))
	case wasIn && !isIn:
		h.logAction(ctx, userID, domain.ActionLeaveChannel, chatTitle(upd.Chat))
	}
}

// beginOnboarding запускает анкету или напоминает текущий вопрос, если она уже идёт.
func (h *Handler) beginOnboarding(ctx context.Context, recipientID int64) {
	step, err := h.onboarding.Start(ctx, recipientID)
	switch {
	case errors.Is(err, domain.ErrAlreadyStarted):
		state, stateErr := h.onboarding.State(ctx, recipientID)
		if stateErr != nil {
			h.log.Error().Err(stateErr).Int64("recipient", recipientID).Msg("gateway: не удалось получить состояние анкеты")
			return
		}
		if state == domain.OnboardingComplete {
			h.evaluate(ctx, recipientID)
			return
		}
		if current, _ := h.onboarding.Current(ctx, recipientID); current != nil {
			h.sendQuestion(ctx, recipientID, *current)
		}
	case errors.Is(err, domain.ErrBusy):
		h.log.Debug().Int64("recipient", recipientID).Msg("gateway: анкета уже обрабатывается")
	case err != nil:
		h.log.Error().Err(err).Int64("recipient", recipientID).Msg("gateway: не удалось начать анкету")
	case step.Completed:
		h.complete(ctx, recipientID)
	case step.Next != nil:
		h.sendQuestion(ctx, recipientID, *step.Next)
	}
}

// afterStep сообщает участнику результат перехода анкеты.
func (h *Handler) afterStep(ctx context.Context, recipientID int64, kind domain.ActionType, questionID int64, step onboarding.Step, err error) {
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrBusy):
			return
		case errors.Is(err, domain.ErrEmptyAnswer):
			h.reply(ctx, recipientID, textEmptyAnswer, nil)
		case errors.Is(err, domain.ErrInvalidChoice):
			h.reply(ctx, recipientID, textUnknownOption, nil)
		case errors.Is(err, domain.ErrRequiredQuestion):
			h.reply(ctx, recipientID, textRequired, nil)
		case errors.Is(err, domain.ErrStaleAnswer), errors.Is(err, domain.ErrDuplicateAnswer),
			errors.Is(err, domain.ErrNotInProgress), errors.Is(err, domain.ErrNotFound):
			h.log.Debug().Err(err).Int64("recipient", recipientID).Int64("question", questionID).Msg("gateway: ответ на неактуальный вопрос")
			h.reply(ctx, recipientID, textStaleQuestion, nil)
			if current, _ := h.onboarding.Current(ctx, recipientID); current != nil {
				h.sendQuestion(ctx, recipientID, *current)
			}
		default:
			h.log.Error().Err(err).Int64("recipient", recipientID).Msg("gateway: не удалось сохранить ответ")
			h.reply(ctx, recipientID, textStorageError, nil)
		}
		return
	}

	h.logAction(ctx, recipientID, kind, "вопрос "+strconv.FormatInt(questionID, 10))
	if step.Completed {
		h.complete(ctx, recipientID)
		return
	}
	if step.Next != nil {
		h.sendQuestion(ctx, recipientID, *step.Next)
	}
}

// complete завершает анкету: одобряет открытые заявки и благодарит участника.
func (h *Handler) complete(ctx context.Context, recipientID int64) {
	h.logAction(ctx, recipientID, domain.ActionOnboardingDone, "")
	h.evaluate(ctx, recipientID)
	h.reply(ctx, recipientID, textCompleted, nil)
}

func (h *Handler) evaluate(ctx context.Context, recipientID int64) {
	decision, err := h.approvals.EvaluateRecipient(ctx, recipientID)
	switch {
	case errors.Is(err, domain.ErrTransient):
		h.log.Warn().Int64("recipient", recipientID).Msg("gateway: одобрение отложено до следующего прохода планировщика")
	case err != nil:
		h.log.Error().Err(err).Int64("recipient", recipientID).Msg("gateway: не удалось оценить заявки")
	default:
		h.log.Debug().Int64("recipient", recipientID).Str("decision", string(decision)).Msg("gateway: заявки оценены")
	}
}

func (h *Handler) register(ctx context.Context, user *tgbotapi.User, invite string) (domain.Recipient, bool) {
	recipient, created, err := h.recipients.UpsertRecipient(ctx, domain.RecipientProfile{
		ID:         user.ID,
		Username:   user.UserName,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		InviteCode: invite,
	})
	if err != nil {
		h.log.Error().Err(err).Int64("recipient", user.ID).Msg("gateway: не удалось сохранить участника")
		return domain.Recipient{}, false
	}
	if created {
		h.log.Info().Int64("recipient", user.ID).Str("invite", invite).Msg("gateway: новый участник")
	}
	return recipient, true
}

func (h *Handler) mode(ctx context.Context) domain.ApprovalMode {
	mode, err := h.approvals.Mode(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("gateway: не удалось прочитать режим одобрения")
		return domain.ApprovalManual
	}
	return mode
}

func (h *Handler) hasQuestions(ctx context.Context) bool {
	questions, err := h.content.ListActiveQuestions(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("gateway: не удалось получить вопросы")
		return false
	}
	return len(questions) > 0
}

func (h *Handler) sendQuestion(ctx context.Context, recipientID int64, q domain.Question) {
	if err := h.msgr.SendQuestion(ctx, recipientID, q); err != nil {
		h.log.Error().Err(err).Int64("recipient", recipientID).Int64("question", q.ID).Msg("gateway: не удалось отправить вопрос")
	}
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	if err := h.msgr.SendText(ctx, chatID, text, markup); err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("gateway: не удалось отправить сообщение")
	}
}

func (h *Handler) logAction(ctx context.Context, recipientID int64, kind domain.ActionType, data string) {
	err := h.actions.LogAction(ctx, domain.Action{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        kind,
		Data:        data,
		OccurredAt:  h.now(),
	})
	if err != nil {
		h.log.Warn().Err(err).Str("action", string(kind)).Msg("gateway: не удалось записать действие")
	}
}

// Callback: разобранные данные нажатой кнопки.
type Callback struct {
	Kind   string
	ID     int64
	Option int
}

// ParseCallback разбирает callback-данные вида "viewed:<id>", "skip:<id>", "answer:<id>:<index>".
func ParseCallback(data string) (Callback, bool) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 {
		return Callback{}, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return Callback{}, false
	}
	cb := Callback{Kind: parts[0], ID: id}
	switch cb.Kind {
	case telegram.CallbackViewed, telegram.CallbackViewedDone, telegram.CallbackSkip:
		return cb, len(parts) == 2
	case telegram.CallbackAnswer:
		if len(parts) != 3 {
			return Callback{}, false
		}
		option, err := strconv.Atoi(parts[2])
		if err != nil || option < 0 {
			return Callback{}, false
		}
		cb.Option = option
		return cb, true
	}
	return Callback{}, false
}

func isInside(m tgbotapi.ChatMember) bool {
	switch m.Status {
	case "member", "administrator", "creator":
		return true
	case "restricted":
		return m.IsMember
	}
	return false
}

func chatTitle(chat tgbotapi.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	return strconv.FormatInt(chat.ID, 10)
}
