package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-inviter-bot/internal/domain"
)

// Префиксы callback-данных.
const (
	CallbackViewed     = "viewed"
	CallbackViewedDone = "viewed_done"
	CallbackAnswer     = "answer"
	CallbackSkip       = "skip"
)

// ParseButtons разбирает конфигурацию кнопок: строка задаёт ряд, в ряду кнопки через запятую,
// кнопка имеет вид "текст | ссылка". Кнопки без текста или ссылки пропускаются.
func ParseButtons(config string) [][]tgbotapi.InlineKeyboardButton {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, line := range strings.Split(config, "\n") {
		var row []tgbotapi.InlineKeyboardButton
		for _, raw := range strings.Split(line, ",") {
			label, link, ok := strings.Cut(raw, "|")
			if !ok {
				continue
			}
			label, link = strings.TrimSpace(label), strings.TrimSpace(link)
			if label == "" || link == "" {
				continue
			}
			row = append(row, tgbotapi.NewInlineKeyboardButtonURL(label, link))
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return rows
}

// MessageMarkup собирает клавиатуру сообщения: кнопки-ссылки и кнопку «Просмотрено».
// nil, если кнопок нет.
func MessageMarkup(msg domain.Message) *tgbotapi.InlineKeyboardMarkup {
	rows := ParseButtons(msg.ButtonsConfig)
	if msg.ViewedRef > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👁 Просмотрено", fmt.Sprintf("%s:%d", CallbackViewed, msg.ViewedRef)),
		))
	}
	if len(rows) == 0 {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

// ViewedMarkup заменяет кнопку после нажатия.
func ViewedMarkup(itemID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✓ Просмотрено", fmt.Sprintf("%s:%d", CallbackViewedDone, itemID)),
	))
}

// QuestionMarkup собирает клавиатуру вопроса: варианты ответа и кнопку пропуска
// для необязательного вопроса. В callback передаётся индекс варианта, а не текст,
// потому что callback_data ограничена 64 байтами.
func QuestionMarkup(q domain.Question) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if q.Kind == domain.QuestionChoice {
		for i, opt := range q.Options {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(opt, fmt.Sprintf("%s:%d:%d", CallbackAnswer, q.ID, i)),
			))
		}
	}
	if !q.Required {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Пропустить", fmt.Sprintf("%s:%d", CallbackSkip, q.ID)),
		))
	}
	if len(rows) == 0 {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

// MenuKeyboard собирает клавиатуру главного меню: по кнопке в ряд. nil, если меню пустое.
func MenuKeyboard(items []domain.MenuItem) *tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton
	for _, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			continue
		}
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(item.Name)))
	}
	if len(rows) == 0 {
		return nil
	}
	keyboard := tgbotapi.NewReplyKeyboard(rows...)
	return &keyboard
}

// LinksMarkup собирает inline-клавиатуру из кнопок-ссылок, по одной в ряд.
func LinksMarkup(links []domain.LinkButton) *tgbotapi.InlineKeyboardMarkup {
	if len(links) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(links))
	for _, link := range links {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(link.Text, link.URL)))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}
