package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-inviter-bot/internal/domain"
)

type stubLedger struct {
	delivered map[domain.DeliveryKey]struct{}
	err       error
	asked     [][]int64
}

func (s *stubLedger) AlreadyDelivered(_ context.Context, key domain.DeliveryKey) (bool, error) {
	_, ok := s.delivered[key]
	return ok, s.err
}

func (s *stubLedger) DeliveredKeys(_ context.Context, ids []int64) (map[domain.DeliveryKey]struct{}, error) {
	s.asked = append(s.asked, ids)
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[domain.DeliveryKey]struct{}, len(s.delivered))
	for k := range s.delivered {
		out[k] = struct{}{}
	}
	return out, nil
}

func (s *stubLedger) RecordDelivered(context.Context, domain.DeliveryKey, time.Time) error {
	return nil
}

func TestSelectDueOrdersItemsWithinRecipient(t *testing.T) {
	joined := mustTime(t, "2025-03-01T08:00:00Z")
	now := mustTime(t, "2025-03-01T12:00:00Z")
	catalog := []domain.ContentItem{
		{ID: 7, DayNumber: 0, OffsetMinutes: 30, Active: true},
		{ID: 3, DayNumber: 0, OffsetMinutes: 10, Active: true},
		{ID: 1, DayNumber: 0, OffsetMinutes: 30, Active: true},
		{ID: 9, DayNumber: 0, Active: false},
	}
	sel := NewSelector(&stubLedger{}, zerolog.Nop(), time.Hour)
	got, err := sel.SelectDue(context.Background(), []domain.Recipient{{ID: 42, JoinedAt: joined}}, catalog, nil, now)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := []int64{3, 1, 7}
	if len(got) != len(want) {
		t.Fatalf("ожидали %d кандидатов, получили %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].Key.ItemID != id {
			t.Fatalf("позиция %d: ожидали элемент %d, получили %d", i, id, got[i].Key.ItemID)
		}
	}
}

func TestSelectDueSkipsDeliveredAndBanned(t *testing.T) {
	joined := mustTime(t, "2025-03-01T08:00:00Z")
	now := joined.Add(time.Hour)
	ledger := &stubLedger{delivered: map[domain.DeliveryKey]struct{}{
		{RecipientID: 1, Kind: domain.ItemKindStatic, ItemID: 10}: {},
	}}
	catalog := []domain.ContentItem{
		{ID: 10, Active: true},
		{ID: 11, OffsetMinutes: 5, Active: true},
	}
	recipients := []domain.Recipient{
		{ID: 1, JoinedAt: joined},
		{ID: 2, JoinedAt: joined, Banned: true},
	}
	sel := NewSelector(ledger, zerolog.Nop(), time.Hour)
	got, err := sel.SelectDue(context.Background(), recipients, catalog, nil, now)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 1 || got[0].Key.ItemID != 11 || got[0].Recipient.ID != 1 {
		t.Fatalf("ожидали только элемент 11 для участника 1, получили %+v", got)
	}
	if len(ledger.asked) != 1 || len(ledger.asked[0]) != 1 || ledger.asked[0][0] != 1 {
		t.Fatalf("журнал должен запрашиваться только по участникам с кандидатами: %v", ledger.asked)
	}
}

func TestSelectDueAppendsBroadcastsAfterStatic(t *testing.T) {
	joined := mustTime(t, "2025-03-01T08:00:00Z")
	now := mustTime(t, "2025-03-01T12:00:00Z")
	broadcasts := []domain.Broadcast{
		{ID: 5, ScheduledAt: now.Add(-10 * time.Minute)},
		{ID: 4, ScheduledAt: now.Add(-20 * time.Minute)},
		{ID: 6, ScheduledAt: now.Add(time.Minute)},
	}
	sel := NewSelector(&stubLedger{}, zerolog.Nop(), time.Hour)
	got, err := sel.SelectDue(context.Background(), []domain.Recipient{{ID: 1, JoinedAt: joined}}, []domain.ContentItem{{ID: 1, Active: true}}, broadcasts, now)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ожидали 3 кандидата, получили %d", len(got))
	}
	if got[0].Key.Kind != domain.ItemKindStatic || got[1].Key.ItemID != 4 || got[2].Key.ItemID != 5 {
		t.Fatalf("неверный порядок: %+v", got)
	}
}

func TestSelectDueLedgerFailure(t *testing.T) {
	joined := mustTime(t, "2025-03-01T08:00:00Z")
	sel := NewSelector(&stubLedger{err: errors.New("db down")}, zerolog.Nop(), time.Hour)
	_, err := sel.SelectDue(context.Background(), []domain.Recipient{{ID: 1, JoinedAt: joined}}, []domain.ContentItem{{ID: 1, Active: true}}, nil, joined.Add(time.Hour))
	if err == nil {
		t.Fatalf("ожидали ошибку журнала")
	}
}

func TestSortCatalogBySendTimeThenOffset(t *testing.T) {
	items := SortCatalog([]domain.ContentItem{
		{ID: 1, DayNumber: 2, SendTime: "08:00", Active: true},
		{ID: 2, DayNumber: 1, SendTime: "18:00", Active: true},
		{ID: 3, DayNumber: 1, SendTime: "", OffsetMinutes: 5, Active: true},
		{ID: 4, DayNumber: 1, SendTime: "09:00", Active: true},
	})
	want := []int64{4, 3, 2, 1}
	for i, id := range want {
		if items[i].ID != id {
			t.Fatalf("позиция %d: ожидали %d, получили %d", i, id, items[i].ID)
		}
	}
}
