package schedule

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"tg-inviter-bot/internal/domain"
)

// DeliveryWindow: ширина окна отправки для сообщений дней 1+.
// Цикл срабатывает раз в минуту, окно покрывает дрейф часов и пропущенные тики.
const DeliveryWindow = 5 * time.Minute

// DefaultSendTime: время отправки, если у элемента оно не задано или задано с ошибкой.
const DefaultSendTime = 9 * time.Hour

// ErrInvalidSendTime возвращается, если время не в формате ЧЧ:ММ.
var ErrInvalidSendTime = errors.New("invalid send time")

// ParseSendTime разбирает время суток ЧЧ:ММ в смещение от полуночи.
func ParseSendTime(raw string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return 0, ErrInvalidSendTime
	}
	hour, err := strconv.Atoi(strings.TrimSpace(hh))
	if err != nil || hour < 0 || hour > 23 {
		return 0, ErrInvalidSendTime
	}
	minute, err := strconv.Atoi(strings.TrimSpace(mm))
	if err != nil || minute < 0 || minute > 59 {
		return 0, ErrInvalidSendTime
	}
	return time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, nil
}

// SendTimeOf возвращает время отправки элемента. Пустое или битое значение даёт 09:00;
// второй результат false сообщает о битом значении.
func SendTimeOf(item domain.ContentItem) (time.Duration, bool) {
	if strings.TrimSpace(item.SendTime) == "" {
		return DefaultSendTime, true
	}
	d, err := ParseSendTime(item.SendTime)
	if err != nil {
		return DefaultSendTime, false
	}
	return d, true
}

// WindowStart вычисляет момент, с которого элемент становится доступен участнику.
func WindowStart(item domain.ContentItem, joinedAt time.Time) time.Time {
	joined := joinedAt.UTC()
	offset := time.Duration(max(item.OffsetMinutes, 0)) * time.Minute
	if item.Immediate() {
		return joined.Add(offset)
	}
	sendAt, _ := SendTimeOf(item)
	target := time.Date(joined.Year(), joined.Month(), joined.Day()+item.DayNumber, 0, 0, 0, 0, time.UTC)
	return target.Add(sendAt).Add(offset)
}

// IsEligible сообщает, можно ли отправить элемент участнику в момент now.
// Элементы нулевого дня не имеют верхней границы: повтор отсекает журнал доставок.
func IsEligible(item domain.ContentItem, recipient domain.Recipient, now time.Time) bool {
	if !item.Active || item.DayNumber < 0 {
		return false
	}
	now = now.UTC()
	start := WindowStart(item, recipient.JoinedAt)
	if now.Before(start) {
		return false
	}
	if item.Immediate() {
		return true
	}
	return now.Before(start.Add(DeliveryWindow))
}

// BroadcastEligible сообщает, открыто ли окно рассылки.
func BroadcastEligible(b domain.Broadcast, now time.Time, window time.Duration) bool {
	now = now.UTC()
	start := b.ScheduledAt.UTC()
	if now.Before(start) {
		return false
	}
	return window <= 0 || now.Before(start.Add(window))
}
