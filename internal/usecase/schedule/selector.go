package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tg-inviter-bot/internal/domain"
)

// Selector выбирает пары участник/элемент, которые пора отправить.
// Выборка ничего не изменяет: фиксация доставки происходит в цикле по каждому кандидату.
type Selector struct {
	ledger          domain.DeliveryLedger
	log             zerolog.Logger
	broadcastWindow time.Duration
}

// NewSelector создаёт селектор.
func NewSelector(ledger domain.DeliveryLedger, log zerolog.Logger, broadcastWindow time.Duration) *Selector {
	return &Selector{ledger: ledger, log: log, broadcastWindow: broadcastWindow}
}

// SelectDue возвращает кандидатов тика. Внутри одного участника статические элементы идут
// по (день, время, смещение, id), за ними рассылки по (время, id).
func (s *Selector) SelectDue(ctx context.Context, recipients []domain.Recipient, catalog []domain.ContentItem, broadcasts []domain.Broadcast, now time.Time) ([]domain.Candidate, error) {
	items := SortCatalog(catalog)
	for _, item := range items {
		if item.Immediate() {
			continue
		}
		if _, ok := SendTimeOf(item); !ok {
			s.log.Warn().Int64("item", item.ID).Str("send_time", item.SendTime).Msg("scheduler: некорректное время отправки, используем 09:00")
		}
	}
	sort.SliceStable(broadcasts, func(i, j int) bool {
		if !broadcasts[i].ScheduledAt.Equal(broadcasts[j].ScheduledAt) {
			return broadcasts[i].ScheduledAt.Before(broadcasts[j].ScheduledAt)
		}
		return broadcasts[i].ID < broadcasts[j].ID
	})

	var (
		pending []domain.Candidate
		ids     []int64
	)
	for _, r := range recipients {
		if r.Banned {
			continue
		}
		before := len(pending)
		for _, item := range items {
			if !IsEligible(item, r, now) {
				continue
			}
			pending = append(pending, domain.Candidate{
				Recipient: r,
				Key:       domain.DeliveryKey{RecipientID: r.ID, Kind: domain.ItemKindStatic, ItemID: item.ID},
				Message:   item.Message(),
			})
		}
		for _, b := range broadcasts {
			if !BroadcastEligible(b, now, s.broadcastWindow) {
				continue
			}
			pending = append(pending, domain.Candidate{
				Recipient: r,
				Key:       domain.DeliveryKey{RecipientID: r.ID, Kind: domain.ItemKindBroadcast, ItemID: b.ID},
				Message:   b.Message(),
			})
		}
		if len(pending) > before {
			ids = append(ids, r.ID)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	delivered, err := s.ledger.DeliveredKeys(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("чтение журнала доставок: %w", err)
	}
	out := pending[:0]
	for _, c := range pending {
		if _, ok := delivered[c.Key]; ok {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// SortCatalog возвращает активные элементы в логическом порядке отправки.
func SortCatalog(catalog []domain.ContentItem) []domain.ContentItem {
	items := make([]domain.ContentItem, 0, len(catalog))
	for _, item := range catalog {
		if item.Active {
			items = append(items, item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.DayNumber != b.DayNumber {
			return a.DayNumber < b.DayNumber
		}
		at, _ := SendTimeOf(a)
		bt, _ := SendTimeOf(b)
		if at != bt {
			return at < bt
		}
		if a.OffsetMinutes != b.OffsetMinutes {
			return a.OffsetMinutes < b.OffsetMinutes
		}
		return a.ID < b.ID
	})
	return items
}
