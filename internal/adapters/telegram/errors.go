package telegram

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-inviter-bot/internal/domain"
)

// Признаки, по которым Bot API сообщает о недоступном получателе с кодом 400.
var unreachableMarkers = []string{
	"chat not found",
	"user is deactivated",
	"bot was blocked",
	"bot can't initiate conversation",
	"peer_id_invalid",
}

// MapSendError переводит ошибку Bot API в доменную.
func MapSendError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}

	if apiErr.Code == http.StatusTooManyRequests || apiErr.RetryAfter > 0 {
		return &domain.RateLimitedError{RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second}
	}
	if apiErr.Code == http.StatusForbidden || containsAny(apiErr.Message, unreachableMarkers) {
		return fmt.Errorf("%w: %s", domain.ErrRecipientUnreachable, apiErr.Message)
	}
	return fmt.Errorf("%w: %d %s", domain.ErrTransient, apiErr.Code, apiErr.Message)
}

// MapApproveError переводит ошибку одобрения заявки в доменную.
func MapApproveError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case containsAny(apiErr.Message, []string{"HIDE_REQUESTER_MISSING", "USER_ALREADY_PARTICIPANT"}):
			return fmt.Errorf("%w: %s", domain.ErrNoSuchPendingRequest, apiErr.Message)
		case apiErr.Code == http.StatusForbidden ||
			containsAny(apiErr.Message, []string{"CHAT_ADMIN_REQUIRED", "not enough rights"}):
			return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, apiErr.Message)
		}
	}
	return MapSendError(err)
}

func containsAny(message string, markers []string) bool {
	lower := strings.ToLower(message)
	for _, marker := range markers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
