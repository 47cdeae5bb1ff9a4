package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"tg-inviter-bot/internal/adapters/repo/migrations"
	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/infra/db"
	"tg-inviter-bot/internal/infra/metrics"
)

// SQLite реализует репозитории поверх одного файла SQLite. Время хранится в миллисекундах UTC.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLite)(nil)

// OpenSQLite открывает файл и применяет миграции.
func OpenSQLite(path string) (*SQLite, error) {
	sqlDB, err := db.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateSQLite(sqlDB, migrations.SQLite, "sqlite"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("миграции sqlite: %w", err)
	}
	return &SQLite{db: sqlDB, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Ping проверяет доступность файла БД.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает соединение.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func scanSQLiteContentItem(row rowScanner) (domain.ContentItem, error) {
	var item domain.ContentItem
	var media string
	var created int64
	err := row.Scan(&item.ID, &item.DayNumber, &item.SendTime, &item.OffsetMinutes, &item.Active, &item.Text, &item.HTMLText, &media, &item.MediaFileID, &item.ButtonsConfig, &created)
	item.MediaType = domain.NormalizeMediaType(media)
	item.CreatedAt = fromMillis(created)
	return item, err
}

// ListActiveContentItems реализует domain.ContentRepo.
func (s *SQLite) ListActiveContentItems(ctx context.Context) ([]domain.ContentItem, error) {
	return s.listContentItems(ctx, `SELECT `+contentColumns+` FROM content_items WHERE active = 1 ORDER BY day_number, id`)
}

// ListContentItems возвращает весь каталог.
func (s *SQLite) ListContentItems(ctx context.Context) ([]domain.ContentItem, error) {
	return s.listContentItems(ctx, `SELECT `+contentColumns+` FROM content_items ORDER BY day_number, id`)
}

func (s *SQLite) listContentItems(ctx context.Context, query string) ([]domain.ContentItem, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query)
	metrics.ObserveNetworkRequest("sqlite", "content_items_list", "content_items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.ContentItem
	for rows.Next() {
		item, err := scanSQLiteContentItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateContentItem добавляет элемент каталога.
func (s *SQLite) CreateContentItem(ctx context.Context, item domain.ContentItem) (domain.ContentItem, error) {
	start := time.Now()
	created, err := scanSQLiteContentItem(s.db.QueryRowContext(ctx, `
INSERT INTO content_items (day_number, send_time, offset_minutes, active, text, html_text, media_type, media_file_id, buttons_config, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING `+contentColumns,
		item.DayNumber, item.SendTime, item.OffsetMinutes, item.Active, item.Text, item.HTMLText, string(domain.NormalizeMediaType(string(item.MediaType))), item.MediaFileID, item.ButtonsConfig, toMillis(s.now())))
	metrics.ObserveNetworkRequest("sqlite", "content_items_insert", "content_items", start, err)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("создание элемента: %w", err)
	}
	return created, nil
}

// SetContentItemActive включает или выключает элемент каталога.
func (s *SQLite) SetContentItemActive(ctx context.Context, id int64, active bool) error {
	return s.execOne(ctx, "content_items_set_active", "content_items", `UPDATE content_items SET active = ? WHERE id = ?`, active, id)
}

// ListActiveQuestions реализует domain.ContentRepo.
func (s *SQLite) ListActiveQuestions(ctx context.Context) ([]domain.Question, error) {
	return s.listQuestions(ctx, `SELECT `+questionColumns+` FROM questions WHERE active = 1 ORDER BY sort_order, id`)
}

// ListQuestions возвращает все вопросы анкеты.
func (s *SQLite) ListQuestions(ctx context.Context) ([]domain.Question, error) {
	return s.listQuestions(ctx, `SELECT `+questionColumns+` FROM questions ORDER BY sort_order, id`)
}

func (s *SQLite) listQuestions(ctx context.Context, query string) ([]domain.Question, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query)
	metrics.ObserveNetworkRequest("sqlite", "questions_list", "questions", start, err)
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
func (s *SQLite) GetQuestion(ctx context.Context, id int64) (domain.Question, error) {
	start := time.Now()
	q, err := scanQuestion(s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
	metrics.ObserveNetworkRequest("sqlite", "questions_get", "questions", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Question{}, domain.ErrNotFound
	}
	return q, err
}

// CreateQuestion добавляет вопрос анкеты.
func (s *SQLite) CreateQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	start := time.Now()
	created, err := scanQuestion(s.db.QueryRowContext(ctx, `
INSERT INTO questions (sort_order, text, kind, options, required, active)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING `+questionColumns,
		q.Order, q.Text, string(q.Kind), domain.EncodeOptions(q.Options), q.Required, q.Active))
	metrics.ObserveNetworkRequest("sqlite", "questions_insert", "questions", start, err)
	if err != nil {
		return domain.Question{}, fmt.Errorf("создание вопроса: %w", err)
	}
	return created, nil
}

// SetQuestionActive включает или выключает вопрос.
func (s *SQLite) SetQuestionActive(ctx context.Context, id int64, active bool) error {
	return s.execOne(ctx, "questions_set_active", "questions", `UPDATE questions SET active = ? WHERE id = ?`, active, id)
}

// ListDueBroadcasts реализует domain.ContentRepo.
func (s *SQLite) ListDueBroadcasts(ctx context.Context, now time.Time, window time.Duration) ([]domain.Broadcast, error) {
	var since int64
	bounded := 0
	if window > 0 {
		since = toMillis(now.Add(-window))
		bounded = 1
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
SELECT id, text, html_text, scheduled_at, created_at FROM broadcasts
WHERE scheduled_at <= ? AND (? = 0 OR scheduled_at > ?)
ORDER BY scheduled_at, id
`, toMillis(now), bounded, since)
	metrics.ObserveNetworkRequest("sqlite", "broadcasts_due", "broadcasts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Broadcast
	for rows.Next() {
		var b domain.Broadcast
		var scheduled, created int64
		if err := rows.Scan(&b.ID, &b.Text, &b.HTMLText, &scheduled, &created); err != nil {
			return nil, err
		}
		b.ScheduledAt = fromMillis(scheduled)
		b.CreatedAt = fromMillis(created)
		out = append(out, b)
	}
	return out, rows.Err()
}

// CreateBroadcast планирует рассылку.
func (s *SQLite) CreateBroadcast(ctx context.Context, b domain.Broadcast) (domain.Broadcast, error) {
	b.CreatedAt = s.now()
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO broadcasts (text, html_text, scheduled_at, created_at) VALUES (?, ?, ?, ?)
`, b.Text, b.HTMLText, toMillis(b.ScheduledAt), toMillis(b.CreatedAt))
	metrics.ObserveNetworkRequest("sqlite", "broadcasts_insert", "broadcasts", start, err)
	if err != nil {
		return domain.Broadcast{}, fmt.Errorf("создание рассылки: %w", err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return domain.Broadcast{}, err
	}
	b.ScheduledAt = b.ScheduledAt.UTC()
	return b, nil
}

func scanSQLiteRecipient(row rowScanner) (domain.Recipient, error) {
	var r domain.Recipient
	var joined, seen int64
	err := row.Scan(&r.ID, &r.Username, &r.FirstName, &r.LastName, &r.InviteCode, &r.Banned, &joined, &seen)
	r.JoinedAt = fromMillis(joined)
	r.LastSeenAt = fromMillis(seen)
	return r, err
}

// UpsertRecipient реализует domain.RecipientRepo. joined_at задаётся только при первом контакте.
func (s *SQLite) UpsertRecipient(ctx context.Context, profile domain.RecipientProfile) (domain.Recipient, bool, error) {
	now := toMillis(s.now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Recipient{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	start := time.Now()
	res, err := tx.ExecContext(ctx, `
INSERT INTO recipients (id, username, first_name, last_name, invite_code, joined_at, last_seen_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING
`, profile.ID, profile.Username, profile.FirstName, profile.LastName, profile.InviteCode, now, now)
	metrics.ObserveNetworkRequest("sqlite", "recipients_insert", "recipients", start, err)
	if err != nil {
		return domain.Recipient{}, false, fmt.Errorf("сохранение участника: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Recipient{}, false, err
	}
	created := affected > 0
	if !created {
		start = time.Now()
		_, err = tx.ExecContext(ctx, `
UPDATE recipients SET username = ?, first_name = ?, last_name = ?,
    invite_code = CASE WHEN invite_code = '' THEN ? ELSE invite_code END,
    last_seen_at = ?
WHERE id = ?
`, profile.Username, profile.FirstName, profile.LastName, profile.InviteCode, now, profile.ID)
		metrics.ObserveNetworkRequest("sqlite", "recipients_update", "recipients", start, err)
		if err != nil {
			return domain.Recipient{}, false, fmt.Errorf("обновление участника: %w", err)
		}
	}
	r, err := scanSQLiteRecipient(tx.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id = ?`, profile.ID))
	if err != nil {
		return domain.Recipient{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Recipient{}, false, err
	}
	return r, created, nil
}

// GetRecipient реализует domain.RecipientRepo.
func (s *SQLite) GetRecipient(ctx context.Context, id int64) (domain.Recipient, error) {
	start := time.Now()
	r, err := scanSQLiteRecipient(s.db.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id = ?`, id))
	metrics.ObserveNetworkRequest("sqlite", "recipients_get", "recipients", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Recipient{}, domain.ErrNotFound
	}
	return r, err
}

// ListActiveRecipients реализует domain.RecipientRepo.
func (s *SQLite) ListActiveRecipients(ctx context.Context) ([]domain.Recipient, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE banned = 0 ORDER BY id`)
	metrics.ObserveNetworkRequest("sqlite", "recipients_list_active", "recipients", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Recipient
	for rows.Next() {
		r, err := scanSQLiteRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IsBanned реализует domain.RecipientRepo.
func (s *SQLite) IsBanned(ctx context.Context, id int64) (bool, error) {
	var banned bool
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `SELECT banned FROM recipients WHERE id = ?`, id).Scan(&banned)
	metrics.ObserveNetworkRequest("sqlite", "recipients_is_banned", "recipients", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return banned, err
}

// SetBanned меняет флаг бана.
func (s *SQLite) SetBanned(ctx context.Context, recipientID int64, banned bool) error {
	return s.execOne(ctx, "recipients_set_banned", "recipients", `UPDATE recipients SET banned = ? WHERE id = ?`, banned, recipientID)
}

// AlreadyDelivered реализует domain.DeliveryLedger.
func (s *SQLite) AlreadyDelivered(ctx context.Context, key domain.DeliveryKey) (bool, error) {
	var found int
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `
SELECT 1 FROM delivery_records WHERE recipient_id = ? AND kind = ? AND item_id = ?
`, key.RecipientID, string(key.Kind), key.ItemID).Scan(&found)
	metrics.ObserveNetworkRequest("sqlite", "delivery_exists", "delivery_records", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeliveredKeys реализует domain.DeliveryLedger.
func (s *SQLite) DeliveredKeys(ctx context.Context, recipientIDs []int64) (map[domain.DeliveryKey]struct{}, error) {
	out := make(map[domain.DeliveryKey]struct{})
	if len(recipientIDs) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(recipientIDs)), ",")
	args := make([]any, len(recipientIDs))
	for i, id := range recipientIDs {
		args[i] = id
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT recipient_id, kind, item_id FROM delivery_records WHERE recipient_id IN (`+placeholders+`)`, args...)
	metrics.ObserveNetworkRequest("sqlite", "delivery_keys", "delivery_records", start, err)
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

// RecordDelivered реализует domain.DeliveryLedger. Повтор ключа отсекает первичный ключ таблицы.
func (s *SQLite) RecordDelivered(ctx context.Context, key domain.DeliveryKey, at time.Time) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO delivery_records (recipient_id, kind, item_id, delivered_at) VALUES (?, ?, ?, ?)
`, key.RecipientID, string(key.Kind), key.ItemID, toMillis(at))
	metrics.ObserveNetworkRequest("sqlite", "delivery_insert", "delivery_records", start, err)
	if isUniqueConstraintError(err) {
		return domain.ErrDuplicateDelivery
	}
	if err != nil {
		return fmt.Errorf("запись доставки: %w", err)
	}
	return nil
}

// PurgeDeliveries удаляет журнал доставок участника.
func (s *SQLite) PurgeDeliveries(ctx context.Context, recipientID int64) (int64, error) {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `DELETE FROM delivery_records WHERE recipient_id = ?`, recipientID)
	metrics.ObserveNetworkRequest("sqlite", "delivery_purge", "delivery_records", start, err)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetProgress реализует domain.OnboardingRepo.
func (s *SQLite) GetProgress(ctx context.Context, recipientID int64) (domain.OnboardingProgress, error) {
	var (
		current   sql.NullInt64
		started   int64
		completed sql.NullInt64
	)
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `
SELECT current_question_id, started_at, completed_at FROM onboarding_progress WHERE recipient_id = ?
`, recipientID).Scan(&current, &started, &completed)
	metrics.ObserveNetworkRequest("sqlite", "onboarding_get", "onboarding_progress", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OnboardingProgress{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OnboardingProgress{}, err
	}
	return domain.OnboardingProgress{
		RecipientID:       recipientID,
		CurrentQuestionID: int64Ptr(current),
		StartedAt:         fromMillis(started),
		CompletedAt:       timePtr(completed),
	}, nil
}

// StartOnboarding реализует domain.OnboardingRepo.
func (s *SQLite) StartOnboarding(ctx context.Context, progress domain.OnboardingProgress) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO onboarding_progress (recipient_id, current_question_id, started_at, completed_at) VALUES (?, ?, ?, ?)
`, progress.RecipientID, nullInt64(progress.CurrentQuestionID), toMillis(progress.StartedAt), nullMillis(progress.CompletedAt))
	metrics.ObserveNetworkRequest("sqlite", "onboarding_start", "onboarding_progress", start, err)
	if isUniqueConstraintError(err) {
		return domain.ErrAlreadyStarted
	}
	return err
}

// AdvanceOnboarding реализует domain.OnboardingRepo. Переход и ответ пишутся в одной транзакции.
func (s *SQLite) AdvanceOnboarding(ctx context.Context, adv domain.OnboardingAdvance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	start := time.Now()
	res, err := tx.ExecContext(ctx, `
UPDATE onboarding_progress SET current_question_id = ?, completed_at = ?
WHERE recipient_id = ? AND current_question_id = ? AND completed_at IS NULL
`, nullInt64(adv.NextQuestionID), nullMillis(adv.CompletedAt), adv.RecipientID, adv.FromQuestionID)
	metrics.ObserveNetworkRequest("sqlite", "onboarding_advance", "onboarding_progress", start, err)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrStaleAnswer
	}

	if adv.Answer != nil {
		start = time.Now()
		_, err = tx.ExecContext(ctx, `
INSERT INTO answers (recipient_id, question_id, value, answered_at) VALUES (?, ?, ?, ?)
`, adv.RecipientID, adv.Answer.QuestionID, adv.Answer.Value, toMillis(adv.Answer.AnsweredAt))
		metrics.ObserveNetworkRequest("sqlite", "answers_insert", "answers", start, err)
		if isUniqueConstraintError(err) {
			return domain.ErrDuplicateAnswer
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListAnswers реализует domain.OnboardingRepo.
func (s *SQLite) ListAnswers(ctx context.Context, recipientID int64) ([]domain.Answer, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
SELECT a.recipient_id, a.question_id, a.value, a.answered_at
FROM answers a LEFT JOIN questions q ON q.id = a.question_id
WHERE a.recipient_id = ?
ORDER BY COALESCE(q.sort_order, 0), a.question_id
`, recipientID)
	metrics.ObserveNetworkRequest("sqlite", "answers_list", "answers", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Answer
	for rows.Next() {
		var a domain.Answer
		var answered int64
		if err := rows.Scan(&a.RecipientID, &a.QuestionID, &a.Value, &answered); err != nil {
			return nil, err
		}
		a.AnsweredAt = fromMillis(answered)
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanSQLiteRequest(row rowScanner) (domain.PendingRequest, error) {
	var req domain.PendingRequest
	var status string
	var created int64
	var resolved sql.NullInt64
	err := row.Scan(&req.ID, &req.RecipientID, &req.ChatID, &status, &created, &resolved)
	req.Status = domain.RequestStatus(status)
	req.CreatedAt = fromMillis(created)
	req.ResolvedAt = timePtr(resolved)
	return req, err
}

// SavePendingRequest реализует domain.JoinRequestRepo.
func (s *SQLite) SavePendingRequest(ctx context.Context, req domain.PendingRequest) (domain.PendingRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PendingRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	openQuery := `SELECT ` + requestColumns + ` FROM join_requests WHERE recipient_id = ? AND chat_id = ? AND status = 'pending'`
	existing, err := scanSQLiteRequest(tx.QueryRowContext(ctx, openQuery, req.RecipientID, req.ChatID))
	if err == nil {
		return existing, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.PendingRequest{}, fmt.Errorf("чтение открытой заявки: %w", err)
	}

	start := time.Now()
	_, err = tx.ExecContext(ctx, `
INSERT INTO join_requests (recipient_id, chat_id, status, created_at) VALUES (?, ?, 'pending', ?)
`, req.RecipientID, req.ChatID, toMillis(s.now()))
	metrics.ObserveNetworkRequest("sqlite", "join_requests_insert", "join_requests", start, err)
	if err != nil {
		return domain.PendingRequest{}, fmt.Errorf("сохранение заявки: %w", err)
	}
	saved, err := scanSQLiteRequest(tx.QueryRowContext(ctx, openQuery, req.RecipientID, req.ChatID))
	if err != nil {
		return domain.PendingRequest{}, err
	}
	return saved, tx.Commit()
}

// GetRequest реализует domain.JoinRequestRepo.
func (s *SQLite) GetRequest(ctx context.Context, id int64) (domain.PendingRequest, error) {
	start := time.Now()
	req, err := scanSQLiteRequest(s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM join_requests WHERE id = ?`, id))
	metrics.ObserveNetworkRequest("sqlite", "join_requests_get", "join_requests", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingRequest{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PendingRequest{}, fmt.Errorf("чтение заявки: %w", err)
	}
	return req, nil
}

// ListPendingRequests реализует domain.JoinRequestRepo.
func (s *SQLite) ListPendingRequests(ctx context.Context) ([]domain.PendingRequest, error) {
	return s.listRequests(ctx, `SELECT `+requestColumns+` FROM join_requests WHERE status = 'pending' ORDER BY created_at, id`)
}

// ListPendingByRecipient реализует domain.JoinRequestRepo.
func (s *SQLite) ListPendingByRecipient(ctx context.Context, recipientID int64) ([]domain.PendingRequest, error) {
	return s.listRequests(ctx, `SELECT `+requestColumns+` FROM join_requests WHERE status = 'pending' AND recipient_id = ? ORDER BY created_at, id`, recipientID)
}

func (s *SQLite) listRequests(ctx context.Context, query string, args ...any) ([]domain.PendingRequest, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	metrics.ObserveNetworkRequest("sqlite", "join_requests_list", "join_requests", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PendingRequest
	for rows.Next() {
		req, err := scanSQLiteRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ResolveRequest реализует domain.JoinRequestRepo.
func (s *SQLite) ResolveRequest(ctx context.Context, id int64, status domain.RequestStatus, at time.Time) (bool, error) {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `
UPDATE join_requests SET status = ?, resolved_at = ? WHERE id = ? AND status = 'pending'
`, string(status), toMillis(at), id)
	metrics.ObserveNetworkRequest("sqlite", "join_requests_resolve", "join_requests", start, err)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// GetSetting реализует domain.SettingsRepo.
func (s *SQLite) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	metrics.ObserveNetworkRequest("sqlite", "settings_get", "settings", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting реализует domain.SettingsRepo.
func (s *SQLite) SetSetting(ctx context.Context, key, value string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, key, value, toMillis(s.now()))
	metrics.ObserveNetworkRequest("sqlite", "settings_set", "settings", start, err)
	return err
}

// LogAction реализует domain.ActionLog.
func (s *SQLite) LogAction(ctx context.Context, action domain.Action) error {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.OccurredAt.IsZero() {
		action.OccurredAt = s.now()
	}
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO actions (id, recipient_id, type, data, occurred_at) VALUES (?, ?, ?, ?, ?)
`, action.ID, action.RecipientID, string(action.Type), action.Data, toMillis(action.OccurredAt))
	metrics.ObserveNetworkRequest("sqlite", "actions_insert", "actions", start, err)
	if isUniqueConstraintError(err) {
		return nil
	}
	return err
}

// ListActions возвращает последние действия участника или всех участников при recipientID=0.
func (s *SQLite) ListActions(ctx context.Context, recipientID int64, limit int) ([]domain.Action, error) {
	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
SELECT id, recipient_id, type, data, occurred_at FROM actions
WHERE ? = 0 OR recipient_id = ?
ORDER BY occurred_at DESC LIMIT ?
`, recipientID, recipientID, limit)
	metrics.ObserveNetworkRequest("sqlite", "actions_list", "actions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Action
	for rows.Next() {
		var a domain.Action
		var typ string
		var occurred int64
		if err := rows.Scan(&a.ID, &a.RecipientID, &typ, &a.Data, &occurred); err != nil {
			return nil, err
		}
		a.Type = domain.ActionType(typ)
		a.OccurredAt = fromMillis(occurred)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) execOne(ctx context.Context, op, table, query string, args ...any) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, query, args...)
	metrics.ObserveNetworkRequest("sqlite", op, table, start, err)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
