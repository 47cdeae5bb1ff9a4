package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/infra/metrics"
)

const component = "telegram_bot"

// API: часть tgbotapi.BotAPI, которой пользуется клиент.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Client отправляет сообщения и одобряет заявки через Bot API.
type Client struct {
	api API
	log zerolog.Logger
}

// NewClient создаёт клиента.
func NewClient(api API, log zerolog.Logger) *Client {
	return &Client{api: api, log: log.With().Str("component", "telegram").Logger()}
}

// Send реализует domain.Sender.
func (c *Client) Send(ctx context.Context, recipientID int64, msg domain.Message) error {
	parts := BuildMessages(recipientID, msg)
	if len(parts) == 0 {
		c.log.Warn().Int64("recipient_id", recipientID).Msg("telegram: пустое сообщение, отправлять нечего")
		return nil
	}
	for _, part := range parts {
		if err := c.call(ctx, "send_message", func() error {
			_, err := c.api.Send(part)
			return err
		}); err != nil {
			metrics.BotSendErrors.Inc()
			return MapSendError(err)
		}
	}
	return nil
}

// Approve реализует domain.Approver.
func (c *Client) Approve(ctx context.Context, req domain.PendingRequest) error {
	cfg := tgbotapi.ApproveChatJoinRequestConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: req.ChatID},
		UserID:     req.RecipientID,
	}
	err := c.call(ctx, "approve_join_request", func() error {
		_, err := c.api.Request(cfg)
		return err
	})
	return MapApproveError(err)
}

// SendText отправляет служебный текст с необязательной клавиатурой.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	chunks := SplitMessage(text, MessageLimit)
	for i, chunk := range chunks {
		out := tgbotapi.NewMessage(chatID, chunk)
		if markup != nil && i == len(chunks)-1 {
			out.ReplyMarkup = markup
		}
		if err := c.call(ctx, "send_message", func() error {
			_, err := c.api.Send(out)
			return err
		}); err != nil {
			metrics.BotSendErrors.Inc()
			return MapSendError(err)
		}
	}
	return nil
}

// SendMenu отправляет текст вместе с клавиатурой главного меню.
// Без кнопок уходит обычный текст.
func (c *Client) SendMenu(ctx context.Context, chatID int64, text string, items []domain.MenuItem) error {
	keyboard := MenuKeyboard(items)
	if keyboard == nil {
		return c.SendText(ctx, chatID, text, nil)
	}
	out := tgbotapi.NewMessage(chatID, text)
	out.ReplyMarkup = keyboard
	if err := c.call(ctx, "send_message", func() error {
		_, err := c.api.Send(out)
		return err
	}); err != nil {
		metrics.BotSendErrors.Inc()
		return MapSendError(err)
	}
	return nil
}

// SendQuestion отправляет вопрос анкеты с вариантами ответа.
func (c *Client) SendQuestion(ctx context.Context, chatID int64, q domain.Question) error {
	return c.SendText(ctx, chatID, q.Text, QuestionMarkup(q))
}

// AnswerCallback подтверждает нажатие кнопки.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answer_callback", func() error {
		_, err := c.api.Request(tgbotapi.NewCallback(callbackID, text))
		return err
	})
}

// ReplaceMarkup меняет клавиатуру уже отправленного сообщения.
func (c *Client) ReplaceMarkup(ctx context.Context, chatID int64, messageID int, markup tgbotapi.InlineKeyboardMarkup) error {
	return c.call(ctx, "edit_markup", func() error {
		_, err := c.api.Request(tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, markup))
		return err
	})
}

// call выполняет запрос с учётом контекста. Bot API не принимает context,
// поэтому по истечении ctx возвращаемся сразу, а запрос ограничен таймаутом http-клиента.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		metrics.ObserveNetworkRequest(component, op, "bot_api", start, err)
		return err
	case <-ctx.Done():
		metrics.ObserveNetworkRequest(component, op, "bot_api", start, ctx.Err())
		return fmt.Errorf("%w: %v", domain.ErrTransient, ctx.Err())
	}
}

// BuildMessages собирает запросы Bot API для одного сообщения.
// Подпись прикрепляется к медиа, только если тип её поддерживает и текст помещается в лимит;
// иначе медиа уходит отдельно, а текст следом. Кнопки всегда на последней части.
func BuildMessages(chatID int64, msg domain.Message) []tgbotapi.Chattable {
	body, isHTML := msg.Body()
	parseMode := ""
	if isHTML {
		parseMode = tgbotapi.ModeHTML
	}
	markup := MessageMarkup(msg)

	media := domain.NormalizeMediaType(string(msg.MediaType))
	if msg.MediaFileID == "" {
		media = domain.MediaText
	}

	if media == domain.MediaText {
		return textMessages(chatID, body, parseMode, markup)
	}

	if media.SupportsCaption() && FitsCaption(body) {
		return []tgbotapi.Chattable{mediaMessage(chatID, media, msg.MediaFileID, body, parseMode, markup)}
	}

	text := textMessages(chatID, body, parseMode, markup)
	var mediaMarkup *tgbotapi.InlineKeyboardMarkup
	if len(text) == 0 {
		mediaMarkup = markup
	}
	return append([]tgbotapi.Chattable{mediaMessage(chatID, media, msg.MediaFileID, "", "", mediaMarkup)}, text...)
}

func textMessages(chatID int64, body, parseMode string, markup *tgbotapi.InlineKeyboardMarkup) []tgbotapi.Chattable {
	chunks := SplitMessage(body, MessageLimit)
	out := make([]tgbotapi.Chattable, 0, len(chunks))
	for i, chunk := range chunks {
		m := tgbotapi.NewMessage(chatID, chunk)
		m.ParseMode = parseMode
		if markup != nil && i == len(chunks)-1 {
			m.ReplyMarkup = markup
		}
		out = append(out, m)
	}
	return out
}

func mediaMessage(chatID int64, media domain.MediaType, fileID, caption, parseMode string, markup *tgbotapi.InlineKeyboardMarkup) tgbotapi.Chattable {
	file := tgbotapi.FileID(fileID)
	var replyMarkup interface{}
	if markup != nil {
		replyMarkup = markup
	}

	switch media {
	case domain.MediaPhoto:
		cfg := tgbotapi.NewPhoto(chatID, file)
		cfg.Caption, cfg.ParseMode, cfg.ReplyMarkup = caption, parseMode, replyMarkup
		return cfg
	case domain.MediaVideo:
		cfg := tgbotapi.NewVideo(chatID, file)
		cfg.Caption, cfg.ParseMode, cfg.ReplyMarkup = caption, parseMode, replyMarkup
		return cfg
	case domain.MediaAnimation:
		cfg := tgbotapi.NewAnimation(chatID, file)
		cfg.Caption, cfg.ParseMode, cfg.ReplyMarkup = caption, parseMode, replyMarkup
		return cfg
	case domain.MediaAudio:
		cfg := tgbotapi.NewAudio(chatID, file)
		cfg.Caption, cfg.ParseMode, cfg.ReplyMarkup = caption, parseMode, replyMarkup
		return cfg
	case domain.MediaVoice:
		cfg := tgbotapi.NewVoice(chatID, file)
		cfg.ReplyMarkup = replyMarkup
		return cfg
	case domain.MediaVideoNote:
		cfg := tgbotapi.NewVideoNote(chatID, 0, file)
		cfg.ReplyMarkup = replyMarkup
		return cfg
	default:
		cfg := tgbotapi.NewDocument(chatID, file)
		cfg.Caption, cfg.ParseMode, cfg.ReplyMarkup = caption, parseMode, replyMarkup
		return cfg
	}
}
