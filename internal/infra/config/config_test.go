package config

import (
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cfg.Scheduler.Tick != time.Minute || cfg.Scheduler.BroadcastWindow != time.Hour {
		t.Fatalf("неверные значения по умолчанию: %+v", cfg.Scheduler)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Actions.Sink != "store" || cfg.DefaultApprovalMode != "manual" {
		t.Fatalf("неверные значения по умолчанию")
	}
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("SCHEDULER_TICK", "30s")
	t.Setenv("DEFAULT_APPROVAL_MODE", "after_onboarding")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Scheduler.Tick != 30*time.Second || cfg.DefaultApprovalMode != "after_onboarding" {
		t.Fatalf("переменные окружения не применились: %+v", cfg)
	}
}

func TestParseInvalidDuration(t *testing.T) {
	t.Setenv("SEND_TIMEOUT", "скоро")
	if _, err := Parse(); err == nil {
		t.Fatalf("ожидали ошибку разбора длительности")
	}
}
