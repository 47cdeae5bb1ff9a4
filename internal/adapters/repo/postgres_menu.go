package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/infra/metrics"
)

const menuColumns = `id, name, sort_order, type, action_value, inline_buttons, active`

func scanMenuItem(row rowScanner) (domain.MenuItem, error) {
	var item domain.MenuItem
	var kind string
	err := row.Scan(&item.ID, &item.Name, &item.Order, &kind, &item.ActionValue, &item.InlineButtons, &item.Active)
	item.Type = domain.MenuButtonType(kind)
	return item, err
}

// ListMenu реализует domain.MenuRepo.
func (p *Postgres) ListMenu(ctx context.Context) ([]domain.MenuItem, error) {
	return p.listMenu(ctx, `SELECT `+menuColumns+` FROM menu_items WHERE active ORDER BY sort_order, id`)
}

// ListMenuItems возвращает все кнопки меню, включая выключенные.
func (p *Postgres) ListMenuItems(ctx context.Context) ([]domain.MenuItem, error) {
	return p.listMenu(ctx, `SELECT `+menuColumns+` FROM menu_items ORDER BY sort_order, id`)
}

func (p *Postgres) listMenu(ctx context.Context, query string) ([]domain.MenuItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, query)
	metrics.ObserveNetworkRequest("postgres", "menu_items_list", "menu_items", start, err)
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
func (p *Postgres) CreateMenuItem(ctx context.Context, item domain.MenuItem) (domain.MenuItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	created, err := scanMenuItem(p.pool.QueryRow(ctx, `
INSERT INTO menu_items (name, sort_order, type, action_value, inline_buttons, active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+menuColumns,
		item.Name, item.Order, string(item.Type), item.ActionValue, item.InlineButtons, item.Active))
	metrics.ObserveNetworkRequest("postgres", "menu_items_insert", "menu_items", start, err)
	if err != nil {
		return domain.MenuItem{}, fmt.Errorf("создание кнопки меню: %w", err)
	}
	return created, nil
}

// SetMenuItemActive включает или выключает кнопку меню.
func (p *Postgres) SetMenuItemActive(ctx context.Context, id int64, active bool) error {
	return p.execOne(ctx, "menu_items_set_active", "menu_items", `UPDATE menu_items SET active=$2 WHERE id=$1`, id, active)
}

const inviteColumns = `code, label, active, created_at`

func scanInviteLink(row rowScanner) (domain.InviteLink, error) {
	var link domain.InviteLink
	err := row.Scan(&link.Code, &link.Label, &link.Active, &link.CreatedAt)
	return link, err
}

// GetInviteLink реализует domain.InviteRepo.
func (p *Postgres) GetInviteLink(ctx context.Context, code string) (domain.InviteLink, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	link, err := scanInviteLink(p.pool.QueryRow(ctx, `SELECT `+inviteColumns+` FROM invite_links WHERE code=$1`, code))
	metrics.ObserveNetworkRequest("postgres", "invite_links_get", "invite_links", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.InviteLink{}, domain.ErrNotFound
	}
	return link, err
}

// CreateInviteLink добавляет код приглашения.
func (p *Postgres) CreateInviteLink(ctx context.Context, link domain.InviteLink) (domain.InviteLink, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	created, err := scanInviteLink(p.pool.QueryRow(ctx, `
INSERT INTO invite_links (code, label, active) VALUES ($1, $2, $3)
RETURNING `+inviteColumns, strings.TrimSpace(link.Code), link.Label, link.Active))
	metrics.ObserveNetworkRequest("postgres", "invite_links_insert", "invite_links", start, err)
	if isUniqueViolation(err) {
		return domain.InviteLink{}, domain.ErrDuplicateInvite
	}
	if err != nil {
		return domain.InviteLink{}, fmt.Errorf("создание кода приглашения: %w", err)
	}
	return created, nil
}

// SetInviteLinkActive включает или выключает код приглашения.
func (p *Postgres) SetInviteLinkActive(ctx context.Context, code string, active bool) error {
	return p.execOne(ctx, "invite_links_set_active", "invite_links", `UPDATE invite_links SET active=$2 WHERE code=$1`, code, active)
}

// ListInviteLinks возвращает все коды приглашений.
func (p *Postgres) ListInviteLinks(ctx context.Context) ([]domain.InviteLink, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+inviteColumns+` FROM invite_links ORDER BY created_at, code`)
	metrics.ObserveNetworkRequest("postgres", "invite_links_list", "invite_links", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.InviteLink
	for rows.Next() {
		link, err := scanInviteLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}
