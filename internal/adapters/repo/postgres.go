package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

var _ Store = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, timeout: 5 * time.Second}
}

// SetTimeout задаёт таймаут запросов без собственного дедлайна.
func (p *Postgres) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		p.timeout = timeout
	}
}

// Ping проверяет соединение с БД.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	err := p.pool.Ping(ctx)
	metrics.ObserveNetworkRequest("postgres", "ping", "db", start, err)
	return err
}

// Close закрывает пул.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const contentColumns = `id, day_number, send_time, offset_minutes, active, text, html_text, media_type, media_file_id, buttons_config, created_at`

func scanContentItem(row rowScanner) (domain.ContentItem, error) {
	var item domain.ContentItem
	var media string
	err := row.Scan(&item.ID, &item.DayNumber, &item.SendTime, &item.OffsetMinutes, &item.Active, &item.Text, &item.HTMLText, &media, &item.MediaFileID, &item.ButtonsConfig, &item.CreatedAt)
	item.MediaType = domain.NormalizeMediaType(media)
	return item, err
}

// ListActiveContentItems реализует domain.ContentRepo.
func (p *Postgres) ListActiveContentItems(ctx context.Context) ([]domain.ContentItem, error) {
	return p.listContentItems(ctx, `SELECT `+contentColumns+` FROM content_items WHERE active ORDER BY day_number, id`)
}

// ListContentItems возвращает весь каталог, включая выключенные элементы.
func (p *Postgres) ListContentItems(ctx context.Context) ([]domain.ContentItem, error) {
	return p.listContentItems(ctx, `SELECT `+contentColumns+` FROM content_items ORDER BY day_number, id`)
}

func (p *Postgres) listContentItems(ctx context.Context, query string) ([]domain.ContentItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, query)
	metrics.ObserveNetworkRequest("postgres", "content_items_list", "content_items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.ContentItem
	for rows.Next() {
		item, err := scanContentItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateContentItem добавляет элемент каталога.
func (p *Postgres) CreateContentItem(ctx context.Context, item domain.ContentItem) (domain.ContentItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	created, err := scanContentItem(p.pool.QueryRow(ctx, `
INSERT INTO content_items (day_number, send_time, offset_minutes, active, text, html_text, media_type, media_file_id, buttons_config)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+contentColumns,
		item.DayNumber, item.SendTime, item.OffsetMinutes, item.Active, item.Text, item.HTMLText, string(domain.NormalizeMediaType(string(item.MediaType))), item.MediaFileID, item.ButtonsConfig))
	metrics.ObserveNetworkRequest("postgres", "content_items_insert", "content_items", start, err)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("создание элемента: %w", err)
	}
	return created, nil
}

// SetContentItemActive включает или выключает элемент каталога.
func (p *Postgres) SetContentItemActive(ctx context.Context, id int64, active bool) error {
	return p.execOne(ctx, "content_items_set_active", "content_items", `UPDATE content_items SET active=$2 WHERE id=$1`, id, active)
}

const questionColumns = `id, sort_order, text, kind, options, required, active`

func scanQuestion(row rowScanner) (domain.Question, error) {
	var q domain.Question
	var kind, options string
	err := row.Scan(&q.ID, &q.Order, &q.Text, &kind, &options, &q.Required, &q.Active)
	q.Kind = domain.ParseQuestionKind(kind)
	q.Options = domain.ParseOptions(options)
	return q, err
}

// ListActiveQuestions реализует domain.ContentRepo.
func (p *Postgres) ListActiveQuestions(ctx context.Context) ([]domain.Question, error) {
	return p.listQuestions(ctx, `SELECT `+questionColumns+` FROM questions WHERE active ORDER BY sort_order, id`)
}

// ListQuestions возвращает все вопросы анкеты.
func (p *Postgres) ListQuestions(ctx context.Context) ([]domain.Question, error) {
	return p.listQuestions(ctx, `SELECT `+questionColumns+` FROM questions ORDER BY sort_order, id`)
}

func (p *Postgres) listQuestions(ctx context.Context, query string) ([]domain.Question, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, query)
	metrics.ObserveNetworkRequest("postgres", "questions_list", "questions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// GetQuestion реализует domain.ContentRepo.
func (p *Postgres) GetQuestion(ctx context.Context, id int64) (domain.Question, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	q, err := scanQuestion(p.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "questions_get", "questions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrNotFound
	}
	return q, err
}

// CreateQuestion добавляет вопрос анкеты.
func (p *Postgres) CreateQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	created, err := scanQuestion(p.pool.QueryRow(ctx, `
INSERT INTO questions (sort_order, text, kind, options, required, active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+questionColumns,
		q.Order, q.Text, string(q.Kind), domain.EncodeOptions(q.Options), q.Required, q.Active))
	metrics.ObserveNetworkRequest("postgres", "questions_insert", "questions", start, err)
	if err != nil {
		return domain.Question{}, fmt.Errorf("создание вопроса: %w", err)
	}
	return created, nil
}

// SetQuestionActive включает или выключает вопрос.
func (p *Postgres) SetQuestionActive(ctx context.Context, id int64, active bool) error {
	return p.execOne(ctx, "questions_set_active", "questions", `UPDATE questions SET active=$2 WHERE id=$1`, id, active)
}

// ListDueBroadcasts реализует domain.ContentRepo.
func (p *Postgres) ListDueBroadcasts(ctx context.Context, now time.Time, window time.Duration) ([]domain.Broadcast, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var since *time.Time
	if window > 0 {
		ts := now.Add(-window)
		since = &ts
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, text, html_text, scheduled_at, created_at FROM broadcasts
WHERE scheduled_at <= $1 AND ($2::timestamptz IS NULL OR scheduled_at > $2)
ORDER BY scheduled_at, id
`, now, since)
	metrics.ObserveNetworkRequest("postgres", "broadcasts_due", "broadcasts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Broadcast
	for rows.Next() {
		var b domain.Broadcast
		if err := rows.Scan(&b.ID, &b.Text, &b.HTMLText, &b.ScheduledAt, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CreateBroadcast планирует рассылку.
func (p *Postgres) CreateBroadcast(ctx context.Context, b domain.Broadcast) (domain.Broadcast, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO broadcasts (text, html_text, scheduled_at) VALUES ($1, $2, $3)
RETURNING id, created_at
`, b.Text, b.HTMLText, b.ScheduledAt.UTC()).Scan(&b.ID, &b.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "broadcasts_insert", "broadcasts", start, err)
	if err != nil {
		return domain.Broadcast{}, fmt.Errorf("создание рассылки: %w", err)
	}
	return b, nil
}

const recipientColumns = `id, username, first_name, last_name, invite_code, banned, joined_at, last_seen_at`

func scanRecipient(row rowScanner) (domain.Recipient, error) {
	var r domain.Recipient
	err := row.Scan(&r.ID, &r.Username, &r.FirstName, &r.LastName, &r.InviteCode, &r.Banned, &r.JoinedAt, &r.LastSeenAt)
	r.JoinedAt = r.JoinedAt.UTC()
	r.LastSeenAt = r.LastSeenAt.UTC()
	return r, err
}

// UpsertRecipient реализует domain.RecipientRepo. joined_at задаётся только при первом контакте.
func (p *Postgres) UpsertRecipient(ctx context.Context, profile domain.RecipientProfile) (domain.Recipient, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var (
		r       domain.Recipient
		created bool
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO recipients (id, username, first_name, last_name, invite_code, joined_at, last_seen_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
ON CONFLICT (id) DO UPDATE SET
    username = EXCLUDED.username,
    first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    invite_code = COALESCE(NULLIF(recipients.invite_code, ''), EXCLUDED.invite_code),
    last_seen_at = now()
RETURNING `+recipientColumns+`, (xmax = 0) AS inserted
`, profile.ID, profile.Username, profile.FirstName, profile.LastName, profile.InviteCode).
		Scan(&r.ID, &r.Username, &r.FirstName, &r.LastName, &r.InviteCode, &r.Banned, &r.JoinedAt, &r.LastSeenAt, &created)
	metrics.ObserveNetworkRequest("postgres", "recipients_upsert", "recipients", start, err)
	if err != nil {
		return domain.Recipient{}, false, fmt.Errorf("сохранение участника: %w", err)
	}
	r.JoinedAt = r.JoinedAt.UTC()
	r.LastSeenAt = r.LastSeenAt.UTC()
	return r, created, nil
}

// GetRecipient реализует domain.RecipientRepo.
func (p *Postgres) GetRecipient(ctx context.Context, id int64) (domain.Recipient, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	r, err := scanRecipient(p.pool.QueryRow(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "recipients_get", "recipients", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Recipient{}, domain.ErrNotFound
	}
	return r, err
}

// ListActiveRecipients реализует domain.RecipientRepo.
func (p *Postgres) ListActiveRecipients(ctx context.Context) ([]domain.Recipient, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE NOT banned ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "recipients_list_active", "recipients", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IsBanned реализует domain.RecipientRepo. Неизвестный участник не забанен.
func (p *Postgres) IsBanned(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var banned bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT banned FROM recipients WHERE id=$1`, id).Scan(&banned)
	metrics.ObserveNetworkRequest("postgres", "recipients_is_banned", "recipients", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return banned, err
}

// SetBanned меняет флаг бана.
func (p *Postgres) SetBanned(ctx context.Context, recipientID int64, banned bool) error {
	return p.execOne(ctx, "recipients_set_banned", "recipients", `UPDATE recipients SET banned=$2 WHERE id=$1`, recipientID, banned)
}

// AlreadyDelivered реализует domain.DeliveryLedger.
func (p *Postgres) AlreadyDelivered(ctx context.Context, key domain.DeliveryKey) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM delivery_records WHERE recipient_id=$1 AND kind=$2 AND item_id=$3)
`, key.RecipientID, string(key.Kind), key.ItemID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "delivery_exists", "delivery_records", start, err)
	return exists, err
}

// DeliveredKeys реализует domain.DeliveryLedger.
func (p *Postgres) DeliveredKeys(ctx context.Context, recipientIDs []int64) (map[domain.DeliveryKey]struct{}, error) {
	out := make(map[domain.DeliveryKey]struct{})
	if len(recipientIDs) == 0 {
		return out, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT recipient_id, kind, item_id FROM delivery_records WHERE recipient_id = ANY($1)`, recipientIDs)
	metrics.ObserveNetworkRequest("postgres", "delivery_keys", "delivery_records", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key domain.DeliveryKey
		var kind string
		if err := rows.Scan(&key.RecipientID, &kind, &key.ItemID); err != nil {
			return nil, err
		}
		key.Kind = domain.ItemKind(kind)
		out[key] = struct{}{}
	}
	return out, rows.Err()
}

// RecordDelivered реализует domain.DeliveryLedger. Уникальность ключа обеспечивает первичный ключ таблицы.
func (p *Postgres) RecordDelivered(ctx context.Context, key domain.DeliveryKey, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO delivery_records (recipient_id, kind, item_id, delivered_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (recipient_id, kind, item_id) DO NOTHING
`, key.RecipientID, string(key.Kind), key.ItemID, at.UTC())
	metrics.ObserveNetworkRequest("postgres", "delivery_insert", "delivery_records", start, err)
	if err != nil {
		return fmt.Errorf("запись доставки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateDelivery
	}
	return nil
}

// PurgeDeliveries удаляет журнал доставок участника.
func (p *Postgres) PurgeDeliveries(ctx context.Context, recipientID int64) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM delivery_records WHERE recipient_id=$1`, recipientID)
	metrics.ObserveNetworkRequest("postgres", "delivery_purge", "delivery_records", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetProgress реализует domain.OnboardingRepo.
func (p *Postgres) GetProgress(ctx context.Context, recipientID int64) (domain.OnboardingProgress, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	progress := domain.OnboardingProgress{RecipientID: recipientID}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT current_question_id, started_at, completed_at FROM onboarding_progress WHERE recipient_id=$1
`, recipientID).Scan(&progress.CurrentQuestionID, &progress.StartedAt, &progress.CompletedAt)
	metrics.ObserveNetworkRequest("postgres", "onboarding_get", "onboarding_progress", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OnboardingProgress{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OnboardingProgress{}, err
	}
	return progress, nil
}

// StartOnboarding реализует domain.OnboardingRepo.
func (p *Postgres) StartOnboarding(ctx context.Context, progress domain.OnboardingProgress) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO onboarding_progress (recipient_id, current_question_id, started_at, completed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (recipient_id) DO NOTHING
`, progress.RecipientID, progress.CurrentQuestionID, progress.StartedAt.UTC(), progress.CompletedAt)
	metrics.ObserveNetworkRequest("postgres", "onboarding_start", "onboarding_progress", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyStarted
	}
	return nil
}

// AdvanceOnboarding реализует domain.OnboardingRepo. Переход и ответ пишутся в одной транзакции;
// условие на текущий вопрос в UPDATE отсекает параллельный переход того же участника.
func (p *Postgres) AdvanceOnboarding(ctx context.Context, adv domain.OnboardingAdvance) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "onboarding_progress", start, err)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start = time.Now()
	tag, err := tx.Exec(ctx, `
UPDATE onboarding_progress SET current_question_id=$3, completed_at=$4
WHERE recipient_id=$1 AND current_question_id=$2 AND completed_at IS NULL
`, adv.RecipientID, adv.FromQuestionID, adv.NextQuestionID, adv.CompletedAt)
	metrics.ObserveNetworkRequest("postgres", "onboarding_advance", "onboarding_progress", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleAnswer
	}

	if adv.Answer != nil {
		start = time.Now()
		tag, err = tx.Exec(ctx, `
INSERT INTO answers (recipient_id, question_id, value, answered_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (recipient_id, question_id) DO NOTHING
`, adv.RecipientID, adv.Answer.QuestionID, adv.Answer.Value, adv.Answer.AnsweredAt.UTC())
		metrics.ObserveNetworkRequest("postgres", "answers_insert", "answers", start, err)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrDuplicateAnswer
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "onboarding_progress", start, err)
	return err
}

// ListAnswers реализует domain.OnboardingRepo.
func (p *Postgres) ListAnswers(ctx context.Context, recipientID int64) ([]domain.Answer, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT a.recipient_id, a.question_id, a.value, a.answered_at
FROM answers a LEFT JOIN questions q ON q.id = a.question_id
WHERE a.recipient_id=$1
ORDER BY COALESCE(q.sort_order, 0), a.question_id
`, recipientID)
	metrics.ObserveNetworkRequest("postgres", "answers_list", "answers", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Answer
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.RecipientID, &a.QuestionID, &a.Value, &a.AnsweredAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const requestColumns = `id, recipient_id, chat_id, status, created_at, resolved_at`

func scanRequest(row rowScanner) (domain.PendingRequest, error) {
	var req domain.PendingRequest
	var status string
	err := row.Scan(&req.ID, &req.RecipientID, &req.ChatID, &status, &req.CreatedAt, &req.ResolvedAt)
	req.Status = domain.RequestStatus(status)
	return req, err
}

// SavePendingRequest реализует domain.JoinRequestRepo.
func (p *Postgres) SavePendingRequest(ctx context.Context, req domain.PendingRequest) (domain.PendingRequest, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	saved, err := scanRequest(p.pool.QueryRow(ctx, `
INSERT INTO join_requests (recipient_id, chat_id, status)
VALUES ($1, $2, 'pending')
ON CONFLICT (recipient_id, chat_id) WHERE status = 'pending' DO NOTHING
RETURNING `+requestColumns, req.RecipientID, req.ChatID))
	metrics.ObserveNetworkRequest("postgres", "join_requests_insert", "join_requests", start, err)
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.PendingRequest{}, fmt.Errorf("сохранение заявки: %w", err)
	}
	start = time.Now()
	saved, err = scanRequest(p.pool.QueryRow(ctx, `
SELECT `+requestColumns+` FROM join_requests WHERE recipient_id=$1 AND chat_id=$2 AND status='pending'
`, req.RecipientID, req.ChatID))
	metrics.ObserveNetworkRequest("postgres", "join_requests_get_open", "join_requests", start, err)
	if err != nil {
		return domain.PendingRequest{}, fmt.Errorf("чтение открытой заявки: %w", err)
	}
	return saved, nil
}

// GetRequest реализует domain.JoinRequestRepo.
func (p *Postgres) GetRequest(ctx context.Context, id int64) (domain.PendingRequest, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	req, err := scanRequest(p.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM join_requests WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "join_requests_get", "join_requests", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PendingRequest{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PendingRequest{}, fmt.Errorf("чтение заявки: %w", err)
	}
	return req, nil
}

// ListPendingRequests реализует domain.JoinRequestRepo.
func (p *Postgres) ListPendingRequests(ctx context.Context) ([]domain.PendingRequest, error) {
	return p.listRequests(ctx, `SELECT `+requestColumns+` FROM join_requests WHERE status='pending' ORDER BY created_at, id`)
}

// ListPendingByRecipient реализует domain.JoinRequestRepo.
func (p *Postgres) ListPendingByRecipient(ctx context.Context, recipientID int64) ([]domain.PendingRequest, error) {
	return p.listRequests(ctx, `SELECT `+requestColumns+` FROM join_requests WHERE status='pending' AND recipient_id=$1 ORDER BY created_at, id`, recipientID)
}

func (p *Postgres) listRequests(ctx context.Context, query string, args ...any) ([]domain.PendingRequest, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "join_requests_list", "join_requests", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PendingRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ResolveRequest реализует domain.JoinRequestRepo.
func (p *Postgres) ResolveRequest(ctx context.Context, id int64, status domain.RequestStatus, at time.Time) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE join_requests SET status=$2, resolved_at=$3 WHERE id=$1 AND status='pending'
`, id, string(status), at.UTC())
	metrics.ObserveNetworkRequest("postgres", "join_requests_resolve", "join_requests", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetSetting реализует domain.SettingsRepo.
func (p *Postgres) GetSetting(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var value string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key=$1`, key).Scan(&value)
	metrics.ObserveNetworkRequest("postgres", "settings_get", "settings", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting реализует domain.SettingsRepo.
func (p *Postgres) SetSetting(ctx context.Context, key, value string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
`, key, value)
	metrics.ObserveNetworkRequest("postgres", "settings_set", "settings", start, err)
	return err
}

// LogAction реализует domain.ActionLog.
func (p *Postgres) LogAction(ctx context.Context, action domain.Action) error {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.OccurredAt.IsZero() {
		action.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO actions (id, recipient_id, type, data, occurred_at) VALUES ($1, $2, $3, $4, $5)
`, action.ID, action.RecipientID, string(action.Type), action.Data, action.OccurredAt.UTC())
	metrics.ObserveNetworkRequest("postgres", "actions_insert", "actions", start, err)
	if isUniqueViolation(err) {
		// действие с тем же id уже записано, например повторной доставкой из очереди
		return nil
	}
	return err
}

// ListActions возвращает последние действия участника или всех участников при recipientID=0.
func (p *Postgres) ListActions(ctx context.Context, recipientID int64, limit int) ([]domain.Action, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, recipient_id, type, data, occurred_at FROM actions
WHERE $1 = 0 OR recipient_id = $1
ORDER BY occurred_at DESC LIMIT $2
`, recipientID, limit)
	metrics.ObserveNetworkRequest("postgres", "actions_list", "actions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Action
	for rows.Next() {
		var a domain.Action
		var typ string
		if err := rows.Scan(&a.ID, &a.RecipientID, &typ, &a.Data, &a.OccurredAt); err != nil {
			return nil, err
		}
		a.Type = domain.ActionType(typ)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) execOne(ctx context.Context, op, table, query string, args ...any) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, table, start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
