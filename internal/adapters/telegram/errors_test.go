package telegram

import (
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-inviter-bot/internal/domain"
)

func TestMapSendError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "заблокировал бота", err: &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}, want: domain.ErrRecipientUnreachable},
		{name: "чат не найден", err: &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, want: domain.ErrRecipientUnreachable},
		{name: "ошибка сервера", err: &tgbotapi.Error{Code: 502, Message: "Bad Gateway"}, want: domain.ErrTransient},
		{name: "сетевая ошибка", err: errors.New("connection reset"), want: domain.ErrTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MapSendError(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("ожидали %v, получили %v", tc.want, got)
			}
		})
	}
}

func TestMapSendErrorRateLimited(t *testing.T) {
	err := MapSendError(&tgbotapi.Error{
		Code:               429,
		Message:            "Too Many Requests: retry after 7",
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 7},
	})
	var rl *domain.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("ожидали RateLimitedError, получили %v", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Fatalf("неверная пауза: %s", rl.RetryAfter)
	}
}

func TestMapApproveError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "заявки уже нет", err: &tgbotapi.Error{Code: 400, Message: "Bad Request: HIDE_REQUESTER_MISSING"}, want: domain.ErrNoSuchPendingRequest},
		{name: "уже участник", err: &tgbotapi.Error{Code: 400, Message: "Bad Request: USER_ALREADY_PARTICIPANT"}, want: domain.ErrNoSuchPendingRequest},
		{name: "нет прав", err: &tgbotapi.Error{Code: 400, Message: "Bad Request: CHAT_ADMIN_REQUIRED"}, want: domain.ErrPermissionDenied},
		{name: "бот исключён", err: &tgbotapi.Error{Code: 403, Message: "Forbidden: bot is not a member"}, want: domain.ErrPermissionDenied},
		{name: "временная", err: errors.New("timeout"), want: domain.ErrTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MapApproveError(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("ожидали %v, получили %v", tc.want, got)
			}
		})
	}
	if MapApproveError(nil) != nil {
		t.Fatalf("nil должен остаться nil")
	}
}
