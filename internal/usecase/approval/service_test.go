package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/infra/lock"
)

type stubRequests struct {
	mu   sync.Mutex
	reqs []domain.PendingRequest
	// afterList вызывается после снимка открытых заявок.
	afterList func()
}

func (r *stubRequests) SavePendingRequest(_ context.Context, req domain.PendingRequest) (domain.PendingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req.ID = int64(len(r.reqs) + 1)
	req.Status = domain.RequestPending
	r.reqs = append(r.reqs, req)
	return req, nil
}

func (r *stubRequests) ListPendingRequests(context.Context) ([]domain.PendingRequest, error) {
	out, err := r.listPending()
	if r.afterList != nil {
		r.afterList()
	}
	return out, err
}

func (r *stubRequests) listPending() ([]domain.PendingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PendingRequest
	for _, req := range r.reqs {
		if req.Status == domain.RequestPending {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *stubRequests) GetRequest(_ context.Context, id int64) (domain.PendingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.reqs {
		if req.ID == id {
			return req, nil
		}
	}
	return domain.PendingRequest{}, domain.ErrNotFound
}

func (r *stubRequests) ListPendingByRecipient(_ context.Context, id int64) ([]domain.PendingRequest, error) {
	all, _ := r.listPending()
	var out []domain.PendingRequest
	for _, req := range all {
		if req.RecipientID == id {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *stubRequests) ResolveRequest(_ context.Context, id int64, status domain.RequestStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.reqs {
		if r.reqs[i].ID == id && r.reqs[i].Status == domain.RequestPending {
			r.reqs[i].Status = status
			r.reqs[i].ResolvedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (r *stubRequests) status(id int64) domain.RequestStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.reqs {
		if req.ID == id {
			return req.Status
		}
	}
	return ""
}

type stubSettings map[string]string

func (s stubSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	v, ok := s[key]
	return v, ok, nil
}

func (s stubSettings) SetSetting(_ context.Context, key, value string) error {
	s[key] = value
	return nil
}

type stubRecipients struct {
	banned map[int64]bool
}

func (r stubRecipients) UpsertRecipient(context.Context, domain.RecipientProfile) (domain.Recipient, bool, error) {
	return domain.Recipient{}, false, nil
}

func (r stubRecipients) GetRecipient(context.Context, int64) (domain.Recipient, error) {
	return domain.Recipient{}, domain.ErrNotFound
}

func (r stubRecipients) ListActiveRecipients(context.Context) ([]domain.Recipient, error) {
	return nil, nil
}

func (r stubRecipients) IsBanned(_ context.Context, id int64) (bool, error) {
	return r.banned[id], nil
}

type stubStates map[int64]domain.OnboardingState

func (s stubStates) State(_ context.Context, id int64) (domain.OnboardingState, error) {
	if st, ok := s[id]; ok {
		return st, nil
	}
	return domain.OnboardingNotStarted, nil
}

type stubApprover struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (a *stubApprover) Approve(_ context.Context, req domain.PendingRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, req.ID)
	return a.err
}

type stubActions struct {
	mu      sync.Mutex
	actions []domain.Action
}

func (a *stubActions) LogAction(_ context.Context, action domain.Action) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

type fixture struct {
	requests *stubRequests
	settings stubSettings
	states   stubStates
	approver *stubApprover
	actions  *stubActions
	svc      *Service
}

func newFixture(mode string) *fixture {
	f := &fixture{
		requests: &stubRequests{},
		settings: stubSettings{},
		states:   stubStates{},
		approver: &stubApprover{},
		actions:  &stubActions{},
	}
	if mode != "" {
		f.settings[domain.SettingApprovalMode] = mode
	}
	f.svc = NewService(f.requests, f.settings, stubRecipients{banned: map[int64]bool{13: true}}, f.states,
		f.approver, lock.NewMemory(), f.actions, zerolog.Nop(), Config{Timeout: time.Second})
	return f
}

func (f *fixture) addRequest(recipientID int64) int64 {
	req, _ := f.requests.SavePendingRequest(context.Background(), domain.PendingRequest{RecipientID: recipientID, ChatID: -100})
	return req.ID
}

func TestModeIsReadFreshEachTime(t *testing.T) {
	f := newFixture("manual")
	ctx := context.Background()
	if mode, _ := f.svc.Mode(ctx); mode != domain.ApprovalManual {
		t.Fatalf("ожидался manual, получили %s", mode)
	}
	_ = f.settings.SetSetting(ctx, domain.SettingApprovalMode, "immediate")
	if mode, _ := f.svc.Mode(ctx); mode != domain.ApprovalImmediate {
		t.Fatalf("смена режима должна применяться сразу, получили %s", mode)
	}
	delete(f.settings, domain.SettingApprovalMode)
	if mode, _ := f.svc.Mode(ctx); mode != domain.ApprovalManual {
		t.Fatalf("без настройки используется запасной режим, получили %s", mode)
	}
}

func TestEvaluateAllManualDoesNothing(t *testing.T) {
	f := newFixture("manual")
	f.addRequest(1)
	summary, err := f.svc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(f.approver.calls) != 0 || summary.Approved != 0 {
		t.Fatalf("ручной режим не должен вызывать одобрение")
	}
}

func TestEvaluateAllAfterOnboarding(t *testing.T) {
	f := newFixture("after_onboarding")
	done := f.addRequest(1)
	waiting := f.addRequest(2)
	f.states[1] = domain.OnboardingComplete
	f.states[2] = domain.OnboardingInProgress

	summary, err := f.svc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if summary.Approved != 1 || summary.Waiting != 1 {
		t.Fatalf("неожиданный итог: %+v", summary)
	}
	if f.requests.status(done) != domain.RequestApproved {
		t.Fatalf("заявка завершившего анкету должна быть одобрена")
	}
	if f.requests.status(waiting) != domain.RequestPending {
		t.Fatalf("заявка незавершившего анкету должна остаться открытой")
	}
	if len(f.actions.actions) != 1 || f.actions.actions[0].Type != domain.ActionAutoApproved {
		t.Fatalf("ожидалось действие auto_approved, получили %+v", f.actions.actions)
	}
}

func TestApproveCalledOncePerRequest(t *testing.T) {
	f := newFixture("immediate")
	f.addRequest(1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.svc.EvaluateAll(ctx); err != nil {
			t.Fatalf("неожиданная ошибка: %v", err)
		}
	}
	if len(f.approver.calls) != 1 {
		t.Fatalf("одобрение должно вызываться один раз, вызовов %d", len(f.approver.calls))
	}
}

func TestNoSuchPendingRequestIsNoop(t *testing.T) {
	f := newFixture("immediate")
	id := f.addRequest(1)
	f.approver.err = domain.ErrNoSuchPendingRequest

	decision, err := f.svc.EvaluateRecipient(context.Background(), 1)
	if err != nil {
		t.Fatalf("отсутствие заявки на платформе не должно быть ошибкой: %v", err)
	}
	if decision != domain.DecisionApproveNow {
		t.Fatalf("ожидалось approve_now, получили %s", decision)
	}
	if f.requests.status(id) != domain.RequestApproved {
		t.Fatalf("заявка должна закрыться как одобренная")
	}
}

func TestPermissionDeniedResolvesAsFailed(t *testing.T) {
	f := newFixture("immediate")
	id := f.addRequest(1)
	f.approver.err = domain.ErrPermissionDenied

	summary, err := f.svc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if summary.Failed != 1 || f.requests.status(id) != domain.RequestFailed {
		t.Fatalf("заявка должна закрыться как неуспешная: %+v", summary)
	}
	if _, err := f.svc.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(f.approver.calls) != 1 {
		t.Fatalf("отказ в правах не должен повторяться автоматически")
	}
	if f.actions.actions[0].Type != domain.ActionApproveFailed {
		t.Fatalf("ожидалось действие approve_failed")
	}
}

func TestTransientFailureLeavesPending(t *testing.T) {
	f := newFixture("immediate")
	id := f.addRequest(1)
	f.approver.err = domain.ErrTransient

	summary, err := f.svc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("временная ошибка не должна прерывать проход: %v", err)
	}
	if summary.Deferred != 1 || f.requests.status(id) != domain.RequestPending {
		t.Fatalf("заявка должна остаться открытой: %+v", summary)
	}
	if _, err := f.svc.EvaluateRecipient(context.Background(), 1); !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("ожидалась ErrTransient, получили %v", err)
	}

	f.approver.err = nil
	if _, err := f.svc.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if f.requests.status(id) != domain.RequestApproved {
		t.Fatalf("на следующем проходе заявка должна быть одобрена")
	}
}

func TestBannedRecipientIsNotApproved(t *testing.T) {
	f := newFixture("immediate")
	f.addRequest(13)
	if _, err := f.svc.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(f.approver.calls) != 0 {
		t.Fatalf("забаненный участник не должен одобряться")
	}
}

func TestConcurrentEvaluationApprovesOnce(t *testing.T) {
	f := newFixture("immediate")
	id := f.addRequest(1)
	// Обработчик событий работает со своим сервисом, но с тем же хранилищем и блокировками.
	locker := lock.NewMemory()
	f.svc.locker = locker
	gateway := NewService(f.requests, f.settings, stubRecipients{}, f.states,
		f.approver, locker, f.actions, zerolog.Nop(), Config{Timeout: time.Second})

	snapshotTaken := make(chan struct{})
	resume := make(chan struct{})
	f.requests.afterList = func() {
		close(snapshotTaken)
		<-resume
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.EvaluateAll(context.Background())
		done <- err
	}()

	<-snapshotTaken
	if _, err := gateway.EvaluateRecipient(context.Background(), 1); err != nil {
		t.Fatalf("неожиданная ошибка обработчика: %v", err)
	}
	close(resume)
	if err := <-done; err != nil {
		t.Fatalf("неожиданная ошибка прохода: %v", err)
	}

	f.approver.mu.Lock()
	calls := len(f.approver.calls)
	f.approver.mu.Unlock()
	if calls != 1 {
		t.Fatalf("заявку одобряют на платформе ровно один раз, вызовов: %d", calls)
	}
	if st := f.requests.status(id); st != domain.RequestApproved {
		t.Fatalf("заявка должна быть закрыта, статус %s", st)
	}
}
