package repo

import (
	"context"
	"fmt"
	"time"

	"tg-inviter-bot/internal/adapters/repo/migrations"
	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/infra/db"
)

// Store объединяет все репозитории одного хранилища.
type Store interface {
	domain.ContentRepo
	domain.RecipientRepo
	domain.DeliveryLedger
	domain.OnboardingRepo
	domain.JoinRequestRepo
	domain.SettingsRepo
	domain.ActionLog
	domain.MenuRepo
	domain.InviteRepo
	domain.AdminRepo
	Ping(ctx context.Context) error
	Close() error
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Драйверы хранилища.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options задаёт параметры подключения.
type Options struct {
	Driver     string
	PGDSN      string
	SQLitePath string
	// Timeout ограничивает запросы к Postgres без собственного дедлайна.
	Timeout time.Duration
}

// Open подключается к выбранному хранилищу и применяет миграции.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverPostgres, "":
		pool, err := db.Connect(ctx, opts.PGDSN)
		if err != nil {
			return nil, err
		}
		if err := db.MigratePostgres(ctx, pool, migrations.Postgres, "postgres"); err != nil {
			pool.Close()
			return nil, fmt.Errorf("миграции postgres: %w", err)
		}
		store := NewPostgres(pool)
		store.SetTimeout(opts.Timeout)
		return store, nil
	case DriverSQLite:
		return OpenSQLite(opts.SQLitePath)
	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища %q", opts.Driver)
	}
}
