package repo

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tg-inviter-bot/internal/domain"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "inviter.db"))
	if err != nil {
		t.Fatalf("открытие базы: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func addRecipient(t *testing.T, store *SQLite, id int64) domain.Recipient {
	t.Helper()
	r, _, err := store.UpsertRecipient(context.Background(), domain.RecipientProfile{ID: id, Username: "user"})
	if err != nil {
		t.Fatalf("создание участника: %v", err)
	}
	return r
}

func TestUpsertRecipientKeepsJoinTime(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return first }

	r, created, err := store.UpsertRecipient(ctx, domain.RecipientProfile{ID: 1, Username: "old", InviteCode: "abc"})
	if err != nil || !created {
		t.Fatalf("первый контакт должен создать участника: created=%v err=%v", created, err)
	}
	if !r.JoinedAt.Equal(first) {
		t.Fatalf("неверное время вступления: %s", r.JoinedAt)
	}

	store.now = func() time.Time { return first.Add(48 * time.Hour) }
	r, created, err = store.UpsertRecipient(ctx, domain.RecipientProfile{ID: 1, Username: "new", InviteCode: "xyz"})
	if err != nil || created {
		t.Fatalf("повторный контакт не создаёт участника: created=%v err=%v", created, err)
	}
	if !r.JoinedAt.Equal(first) {
		t.Fatalf("время вступления не должно меняться, получили %s", r.JoinedAt)
	}
	if r.Username != "new" || r.InviteCode != "abc" {
		t.Fatalf("неожиданный профиль: %+v", r)
	}
}

func TestBannedRecipientsExcluded(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	addRecipient(t, store, 1)
	addRecipient(t, store, 2)
	if err := store.SetBanned(ctx, 2, true); err != nil {
		t.Fatalf("бан: %v", err)
	}
	if err := store.SetBanned(ctx, 99, true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound для неизвестного участника, получили %v", err)
	}
	active, err := store.ListActiveRecipients(ctx)
	if err != nil {
		t.Fatalf("список участников: %v", err)
	}
	if len(active) != 1 || active[0].ID != 1 {
		t.Fatalf("забаненный участник не должен попадать в выборку: %+v", active)
	}
	if banned, _ := store.IsBanned(ctx, 2); !banned {
		t.Fatalf("участник 2 должен быть забанен")
	}
	if banned, err := store.IsBanned(ctx, 99); err != nil || banned {
		t.Fatalf("неизвестный участник не забанен: %v %v", banned, err)
	}
}

func TestRecordDeliveredIsUnique(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	addRecipient(t, store, 1)
	key := domain.DeliveryKey{RecipientID: 1, Kind: domain.ItemKindStatic, ItemID: 5}
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.RecordDelivered(ctx, key, at); err != nil {
		t.Fatalf("первая запись: %v", err)
	}
	if err := store.RecordDelivered(ctx, key, at); !errors.Is(err, domain.ErrDuplicateDelivery) {
		t.Fatalf("повтор должен давать ErrDuplicateDelivery, получили %v", err)
	}
	broadcastKey := domain.DeliveryKey{RecipientID: 1, Kind: domain.ItemKindBroadcast, ItemID: 5}
	if err := store.RecordDelivered(ctx, broadcastKey, at); err != nil {
		t.Fatalf("рассылка с тем же id даёт другой ключ: %v", err)
	}

	if ok, _ := store.AlreadyDelivered(ctx, key); !ok {
		t.Fatalf("ключ должен считаться доставленным")
	}
	keys, err := store.DeliveredKeys(ctx, []int64{1, 2})
	if err != nil {
		t.Fatalf("чтение ключей: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("ожидалось 2 ключа, получили %d", len(keys))
	}
}

func TestConcurrentRecordDeliveredSingleWinner(t *testing.T) {
	store := openTestStore(t)
	addRecipient(t, store, 1)
	key := domain.DeliveryKey{RecipientID: 1, Kind: domain.ItemKindStatic, ItemID: 1}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, dups := 0, 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.RecordDelivered(context.Background(), key, time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrDuplicateDelivery):
				dups++
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || dups != 15 {
		t.Fatalf("ожидалась одна успешная запись, получили wins=%d dups=%d", wins, dups)
	}
}

func TestPurgeDeliveries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	addRecipient(t, store, 1)
	_ = store.RecordDelivered(ctx, domain.DeliveryKey{RecipientID: 1, Kind: domain.ItemKindStatic, ItemID: 1}, time.Now())
	n, err := store.PurgeDeliveries(ctx, 1)
	if err != nil || n != 1 {
		t.Fatalf("ожидалось удаление одной записи: n=%d err=%v", n, err)
	}
}

func TestOnboardingAdvanceIsConditional(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	addRecipient(t, store, 1)
	q1, q2 := int64(10), int64(20)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.StartOnboarding(ctx, domain.OnboardingProgress{RecipientID: 1, CurrentQuestionID: &q1, StartedAt: now}); err != nil {
		t.Fatalf("старт: %v", err)
	}
	if err := store.StartOnboarding(ctx, domain.OnboardingProgress{RecipientID: 1, CurrentQuestionID: &q1, StartedAt: now}); !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Fatalf("повторный старт должен давать ErrAlreadyStarted, получили %v", err)
	}

	stale := domain.OnboardingAdvance{RecipientID: 1, FromQuestionID: q2, NextQuestionID: nil, CompletedAt: &now,
		Answer: &domain.Answer{RecipientID: 1, QuestionID: q2, Value: "x", AnsweredAt: now}}
	if err := store.AdvanceOnboarding(ctx, stale); !errors.Is(err, domain.ErrStaleAnswer) {
		t.Fatalf("переход не с текущего вопроса должен отклоняться, получили %v", err)
	}
	if answers, _ := store.ListAnswers(ctx, 1); len(answers) != 0 {
		t.Fatalf("отклонённый переход не должен сохранять ответ")
	}

	adv := domain.OnboardingAdvance{RecipientID: 1, FromQuestionID: q1, NextQuestionID: &q2,
		Answer: &domain.Answer{RecipientID: 1, QuestionID: q1, Value: "Да", AnsweredAt: now}}
	if err := store.AdvanceOnboarding(ctx, adv); err != nil {
		t.Fatalf("переход: %v", err)
	}
	if err := store.AdvanceOnboarding(ctx, adv); !errors.Is(err, domain.ErrStaleAnswer) {
		t.Fatalf("повтор перехода должен отклоняться, получили %v", err)
	}

	done := domain.OnboardingAdvance{RecipientID: 1, FromQuestionID: q2, CompletedAt: &now}
	if err := store.AdvanceOnboarding(ctx, done); err != nil {
		t.Fatalf("завершение: %v", err)
	}
	progress, err := store.GetProgress(ctx, 1)
	if err != nil {
		t.Fatalf("чтение прогресса: %v", err)
	}
	if progress.State() != domain.OnboardingComplete || progress.CurrentQuestionID != nil {
		t.Fatalf("анкета должна быть завершена: %+v", progress)
	}
	answers, _ := store.ListAnswers(ctx, 1)
	if len(answers) != 1 || answers[0].Value != "Да" {
		t.Fatalf("ожидался один ответ, получили %+v", answers)
	}
	if _, err := store.GetProgress(ctx, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получили %v", err)
	}
}

func TestDuplicateAnswerRollsBackAdvance(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	addRecipient(t, store, 1)
	q1, q2 := int64(10), int64(20)
	now := time.Now().UTC()
	_ = store.StartOnboarding(ctx, domain.OnboardingProgress{RecipientID: 1, CurrentQuestionID: &q1, StartedAt: now})
	if _, err := store.db.Exec(`INSERT INTO answers (recipient_id, question_id, value, answered_at) VALUES (1, 10, 'old', 0)`); err != nil {
		t.Fatalf("подготовка ответа: %v", err)
	}

	adv := domain.OnboardingAdvance{RecipientID: 1, FromQuestionID: q1, NextQuestionID: &q2,
		Answer: &domain.Answer{RecipientID: 1, QuestionID: q1, Value: "new", AnsweredAt: now}}
	if err := store.AdvanceOnboarding(ctx, adv); !errors.Is(err, domain.ErrDuplicateAnswer) {
		t.Fatalf("ожидалась ErrDuplicateAnswer, получили %v", err)
	}
	progress, _ := store.GetProgress(ctx, 1)
	if progress.CurrentQuestionID == nil || *progress.CurrentQuestionID != q1 {
		t.Fatalf("переход должен откатиться вместе с ответом: %+v", progress)
	}
}

func TestJoinRequestLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	addRecipient(t, store, 1)

	first, err := store.SavePendingRequest(ctx, domain.PendingRequest{RecipientID: 1, ChatID: -100})
	if err != nil {
		t.Fatalf("сохранение заявки: %v", err)
	}
	again, err := store.SavePendingRequest(ctx, domain.PendingRequest{RecipientID: 1, ChatID: -100})
	if err != nil || again.ID != first.ID {
		t.Fatalf("открытая заявка должна переиспользоваться: %+v err=%v", again, err)
	}

	ok, err := store.ResolveRequest(ctx, first.ID, domain.RequestApproved, time.Now())
	if err != nil || !ok {
		t.Fatalf("первое закрытие должно пройти: ok=%v err=%v", ok, err)
	}
	ok, err = store.ResolveRequest(ctx, first.ID, domain.RequestFailed, time.Now())
	if err != nil || ok {
		t.Fatalf("закрытая заявка не должна меняться: ok=%v err=%v", ok, err)
	}
	if pending, _ := store.ListPendingByRecipient(ctx, 1); len(pending) != 0 {
		t.Fatalf("открытых заявок быть не должно")
	}
	got, err := store.GetRequest(ctx, first.ID)
	if err != nil || got.Status != domain.RequestApproved || got.ResolvedAt == nil {
		t.Fatalf("заявка должна читаться закрытой: %+v err=%v", got, err)
	}
	if _, err := store.GetRequest(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}

	next, err := store.SavePendingRequest(ctx, domain.PendingRequest{RecipientID: 1, ChatID: -100})
	if err != nil || next.ID == first.ID {
		t.Fatalf("после закрытия создаётся новая заявка: %+v err=%v", next, err)
	}
	if pending, _ := store.ListPendingRequests(ctx); len(pending) != 1 {
		t.Fatalf("ожидалась одна открытая заявка")
	}
}

func TestSettings(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if _, ok, err := store.GetSetting(ctx, domain.SettingApprovalMode); err != nil || ok {
		t.Fatalf("настройки ещё нет: ok=%v err=%v", ok, err)
	}
	_ = store.SetSetting(ctx, domain.SettingApprovalMode, "immediate")
	_ = store.SetSetting(ctx, domain.SettingApprovalMode, "after_onboarding")
	value, ok, err := store.GetSetting(ctx, domain.SettingApprovalMode)
	if err != nil || !ok || value != "after_onboarding" {
		t.Fatalf("ожидалось after_onboarding, получили %q ok=%v err=%v", value, ok, err)
	}
}

func TestCatalogAndBroadcasts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	item, err := store.CreateContentItem(ctx, domain.ContentItem{DayNumber: 1, SendTime: "12:05", OffsetMinutes: 10, Active: true, Text: "привет", MediaType: "1"})
	if err != nil {
		t.Fatalf("создание элемента: %v", err)
	}
	if item.ID == 0 || item.MediaType != domain.MediaPhoto {
		t.Fatalf("неожиданный элемент: %+v", item)
	}
	off, _ := store.CreateContentItem(ctx, domain.ContentItem{DayNumber: 0, Active: true, Text: "выкл"})
	if err := store.SetContentItemActive(ctx, off.ID, false); err != nil {
		t.Fatalf("выключение: %v", err)
	}
	active, _ := store.ListActiveContentItems(ctx)
	if len(active) != 1 || active[0].ID != item.ID {
		t.Fatalf("выключенный элемент не должен попадать в каталог: %+v", active)
	}
	all, _ := store.ListContentItems(ctx)
	if len(all) != 2 {
		t.Fatalf("ожидалось 2 элемента, получили %d", len(all))
	}

	q, err := store.CreateQuestion(ctx, domain.Question{Order: 1, Text: "Опыт?", Kind: domain.QuestionChoice, Options: []string{"Да", "Нет"}, Required: true, Active: true})
	if err != nil {
		t.Fatalf("создание вопроса: %v", err)
	}
	got, err := store.GetQuestion(ctx, q.ID)
	if err != nil || len(got.Options) != 2 || got.Kind != domain.QuestionChoice {
		t.Fatalf("неожиданный вопрос: %+v err=%v", got, err)
	}
	if _, err := store.GetQuestion(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получили %v", err)
	}

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	_, _ = store.CreateBroadcast(ctx, domain.Broadcast{Text: "старая", ScheduledAt: now.Add(-2 * time.Hour)})
	_, _ = store.CreateBroadcast(ctx, domain.Broadcast{Text: "свежая", ScheduledAt: now.Add(-time.Minute)})
	_, _ = store.CreateBroadcast(ctx, domain.Broadcast{Text: "будущая", ScheduledAt: now.Add(time.Hour)})
	due, err := store.ListDueBroadcasts(ctx, now, time.Hour)
	if err != nil {
		t.Fatalf("рассылки: %v", err)
	}
	if len(due) != 1 || due[0].Text != "свежая" {
		t.Fatalf("ожидалась одна свежая рассылка, получили %+v", due)
	}
	if due, _ := store.ListDueBroadcasts(ctx, now, 0); len(due) != 2 {
		t.Fatalf("без окна должны вернуться все наступившие рассылки, получили %d", len(due))
	}
}

func TestActionsLog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	action := domain.Action{ID: "a-1", RecipientID: 1, Type: domain.ActionStart}
	if err := store.LogAction(ctx, action); err != nil {
		t.Fatalf("запись действия: %v", err)
	}
	if err := store.LogAction(ctx, action); err != nil {
		t.Fatalf("повтор действия с тем же id не должен быть ошибкой: %v", err)
	}
	_ = store.LogAction(ctx, domain.Action{RecipientID: 2, Type: domain.ActionJoinRequest})
	mine, _ := store.ListActions(ctx, 1, 10)
	if len(mine) != 1 {
		t.Fatalf("ожидалось одно действие участника 1, получили %d", len(mine))
	}
	all, _ := store.ListActions(ctx, 0, 10)
	if len(all) != 2 {
		t.Fatalf("ожидалось 2 действия, получили %d", len(all))
	}
}

func TestMenuOrderAndActivity(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	second, err := store.CreateMenuItem(ctx, domain.MenuItem{Name: "Правила", Order: 2, Type: domain.MenuText, ActionValue: "Будьте вежливы", Active: true})
	if err != nil {
		t.Fatalf("создание кнопки: %v", err)
	}
	first, err := store.CreateMenuItem(ctx, domain.MenuItem{Name: "Сайт", Order: 1, Type: domain.MenuLink, ActionValue: "https://example.com", Active: true})
	if err != nil {
		t.Fatalf("создание кнопки: %v", err)
	}
	if _, err := store.CreateMenuItem(ctx, domain.MenuItem{Name: "Скрытая", Order: 0, Type: domain.MenuText, Active: false}); err != nil {
		t.Fatalf("создание кнопки: %v", err)
	}

	menu, err := store.ListMenu(ctx)
	if err != nil {
		t.Fatalf("чтение меню: %v", err)
	}
	if len(menu) != 2 || menu[0].ID != first.ID || menu[1].ID != second.ID {
		t.Fatalf("меню: только активные кнопки по порядку, получили %+v", menu)
	}
	if menu[0].Type != domain.MenuLink || menu[0].ActionValue != "https://example.com" {
		t.Fatalf("кнопка прочитана неверно: %+v", menu[0])
	}

	if err := store.SetMenuItemActive(ctx, first.ID, false); err != nil {
		t.Fatalf("выключение кнопки: %v", err)
	}
	if menu, _ := store.ListMenu(ctx); len(menu) != 1 {
		t.Fatalf("выключенная кнопка не показывается")
	}
	if all, _ := store.ListMenuItems(ctx); len(all) != 3 {
		t.Fatalf("в списке админки все кнопки, получили %d", len(all))
	}
	if err := store.SetMenuItemActive(ctx, 999, true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}

func TestInviteLinks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateInviteLink(ctx, domain.InviteLink{Code: "spring", Label: "весенняя акция", Active: true}); err != nil {
		t.Fatalf("создание кода: %v", err)
	}
	if _, err := store.CreateInviteLink(ctx, domain.InviteLink{Code: "spring", Active: true}); !errors.Is(err, domain.ErrDuplicateInvite) {
		t.Fatalf("повторный код должен отклоняться, получили %v", err)
	}

	link, err := store.GetInviteLink(ctx, "spring")
	if err != nil || !link.Active || link.Label != "весенняя акция" {
		t.Fatalf("код прочитан неверно: %+v err=%v", link, err)
	}
	if _, err := store.GetInviteLink(ctx, "unknown"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}

	if err := store.SetInviteLinkActive(ctx, "spring", false); err != nil {
		t.Fatalf("выключение кода: %v", err)
	}
	if link, _ := store.GetInviteLink(ctx, "spring"); link.Active {
		t.Fatalf("код должен быть выключен")
	}
	if links, _ := store.ListInviteLinks(ctx); len(links) != 1 {
		t.Fatalf("ожидали один код, получили %d", len(links))
	}
}
