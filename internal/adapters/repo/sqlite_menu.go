package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/infra/metrics"
)

// ListMenu реализует domain.MenuRepo.
func (s *SQLite) ListMenu(ctx context.Context) ([]domain.MenuItem, error) {
	return s.listMenu(ctx, `SELECT `+menuColumns+` FROM menu_items WHERE active = 1 ORDER BY sort_order, id`)
}

// ListMenuItems возвращает все кнопки меню, включая выключенные.
func (s *SQLite) ListMenuItems(ctx context.Context) ([]domain.MenuItem, error) {
	return s.listMenu(ctx, `SELECT `+menuColumns+` FROM menu_items ORDER BY sort_order, id`)
}

func (s *SQLite) listMenu(ctx context.Context, query string) ([]domain.MenuItem, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query)
	metrics.ObserveNetworkRequest("sqlite", "menu_items_list", "menu_items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.MenuItem
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// CreateMenuItem добавляет кнопку меню.
func (s *SQLite) CreateMenuItem(ctx context.Context, item domain.MenuItem) (domain.MenuItem, error) {
	start := time.Now()
	created, err := scanMenuItem(s.db.QueryRowContext(ctx, `
INSERT INTO menu_items (name, sort_order, type, action_value, inline_buttons, active)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING `+menuColumns,
		item.Name, item.Order, string(item.Type), item.ActionValue, item.InlineButtons, item.Active))
	metrics.ObserveNetworkRequest("sqlite", "menu_items_insert", "menu_items", start, err)
	if err != nil {
		return domain.MenuItem{}, fmt.Errorf("создание кнопки меню: %w", err)
	}
	return created, nil
}

// SetMenuItemActive включает или выключает кнопку меню.
func (s *SQLite) SetMenuItemActive(ctx context.Context, id int64, active bool) error {
	return s.execOne(ctx, "menu_items_set_active", "menu_items", `UPDATE menu_items SET active = ? WHERE id = ?`, active, id)
}

func scanSQLiteInviteLink(row rowScanner) (domain.InviteLink, error) {
	var link domain.InviteLink
	var created int64
	err := row.Scan(&link.Code, &link.Label, &link.Active, &created)
	link.CreatedAt = fromMillis(created)
	return link, err
}

// GetInviteLink реализует domain.InviteRepo.
func (s *SQLite) GetInviteLink(ctx context.Context, code string) (domain.InviteLink, error) {
	start := time.Now()
	link, err := scanSQLiteInviteLink(s.db.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM invite_links WHERE code = ?`, code))
	metrics.ObserveNetworkRequest("sqlite", "invite_links_get", "invite_links", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InviteLink{}, domain.ErrNotFound
	}
	return link, err
}

// CreateInviteLink добавляет код приглашения.
func (s *SQLite) CreateInviteLink(ctx context.Context, link domain.InviteLink) (domain.InviteLink, error) {
	start := time.Now()
	created, err := scanSQLiteInviteLink(s.db.QueryRowContext(ctx, `
INSERT INTO invite_links (code, label, active, created_at) VALUES (?, ?, ?, ?)
RETURNING `+inviteColumns, strings.TrimSpace(link.Code), link.Label, link.Active, toMillis(s.now())))
	metrics.ObserveNetworkRequest("sqlite", "invite_links_insert", "invite_links", start, err)
	if isUniqueConstraintError(err) {
		return domain.InviteLink{}, domain.ErrDuplicateInvite
	}
	if err != nil {
		return domain.InviteLink{}, fmt.Errorf("создание кода приглашения: %w", err)
	}
	return created, nil
}

// SetInviteLinkActive включает или выключает код приглашения.
func (s *SQLite) SetInviteLinkActive(ctx context.Context, code string, active bool) error {
	return s.execOne(ctx, "invite_links_set_active", "invite_links", `UPDATE invite_links SET active = ? WHERE code = ?`, active, code)
}

// ListInviteLinks возвращает все коды приглашений.
func (s *SQLite) ListInviteLinks(ctx context.Context) ([]domain.InviteLink, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT `+inviteColumns+` FROM invite_links ORDER BY created_at, code`)
	metrics.ObserveNetworkRequest("sqlite", "invite_links_list", "invite_links", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.InviteLink
	for rows.Next() {
		link, err := scanSQLiteInviteLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}
