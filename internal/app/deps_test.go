package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"tg-inviter-bot/internal/infra/config"
	"tg-inviter-bot/internal/infra/lock"
)

func sqliteConfig(t *testing.T) config.AppConfig {
	t.Helper()
	var cfg config.AppConfig
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "inviter.db")
	cfg.Actions.Sink = SinkStore
	return cfg
}

func TestBuildSQLiteWithoutRedis(t *testing.T) {
	deps, err := Build(context.Background(), sqliteConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	defer deps.Close()

	if _, ok := deps.Locker.(*lock.Memory); !ok {
		t.Fatalf("без Redis ожидали блокировки в памяти, получили %T", deps.Locker)
	}
	if deps.Source != nil {
		t.Fatalf("при ACTIONS_SINK=store брокера нет")
	}
	if err := deps.Ping(context.Background()); err != nil {
		t.Fatalf("хранилище должно отвечать: %v", err)
	}
	if err := deps.PingRedis(context.Background()); err != nil {
		t.Fatalf("без Redis проверка проходит: %v", err)
	}
}

func TestBuildRejectsRedisSinkWithoutRedis(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Actions.Sink = SinkRedis
	if _, err := Build(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("ожидали ошибку конфигурации")
	}
}

func TestBuildUnknownSink(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Actions.Sink = "kafka"
	if _, err := Build(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("ожидали ошибку для неизвестного журнала")
	}
}
