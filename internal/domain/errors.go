package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound возвращается, если запись не найдена.
var ErrNotFound = errors.New("запись не найдена")

// ErrDuplicateDelivery возвращается при повторной фиксации доставки того же ключа.
var ErrDuplicateDelivery = errors.New("доставка уже зафиксирована")

// ErrDuplicateAnswer возвращается при повторном ответе на вопрос.
var ErrDuplicateAnswer = errors.New("ответ уже сохранён")

// ErrStaleAnswer возвращается, если ответ пришёл не на текущий вопрос.
var ErrStaleAnswer = errors.New("вопрос не является текущим")

// ErrNotInProgress возвращается, если анкета не начата или уже завершена.
var ErrNotInProgress = errors.New("анкета не в процессе")

// ErrAlreadyStarted возвращается при повторном запуске анкеты.
var ErrAlreadyStarted = errors.New("анкета уже начата")

// ErrInvalidChoice возвращается, если ответ не входит в список вариантов.
var ErrInvalidChoice = errors.New("недопустимый вариант ответа")

// ErrEmptyAnswer возвращается для пустого текстового ответа.
var ErrEmptyAnswer = errors.New("пустой ответ")

// ErrRequiredQuestion возвращается при попытке пропустить обязательный вопрос.
var ErrRequiredQuestion = errors.New("вопрос обязателен")

// ErrBusy возвращается, если ключ уже захвачен другим обработчиком.
var ErrBusy = errors.New("ресурс занят")

// ErrRecipientUnreachable: участник недоступен (заблокировал бота, удалён).
var ErrRecipientUnreachable = errors.New("получатель недоступен")

// ErrTransient: временная ошибка внешнего вызова.
var ErrTransient = errors.New("временная ошибка")

// ErrDuplicateInvite возвращается при создании кода приглашения, который уже есть.
var ErrDuplicateInvite = errors.New("код приглашения уже существует")

// ErrNoSuchPendingRequest: заявки на стороне платформы уже нет.
var ErrNoSuchPendingRequest = errors.New("заявка не найдена")

// ErrPermissionDenied: у бота нет прав одобрить заявку.
var ErrPermissionDenied = errors.New("недостаточно прав")

// RateLimitedError сообщает об ограничении частоты запросов.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("превышен лимит запросов, повтор через %s", e.RetryAfter)
}

// IsRateLimited проверяет, что ошибка вызвана ограничением частоты.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}
