package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"tg-inviter-bot/internal/app"
	"tg-inviter-bot/internal/infra/config"
)

func testOpener(t *testing.T) opener {
	t.Helper()
	var cfg config.AppConfig
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "inviter.db")
	cfg.Actions.Sink = app.SinkStore
	return func(ctx context.Context) (*app.Deps, error) {
		return app.Build(ctx, cfg, zerolog.Nop())
	}
}

func run(t *testing.T, open opener, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(open)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestContentAddAndList(t *testing.T) {
	open := testOpener(t)
	if out, err := run(t, open, "content", "add", "--day", "1", "--time", "12:00", "--offset", "15", "--text", "Второй день"); err != nil {
		t.Fatalf("неожиданная ошибка: %v\n%s", err, out)
	}
	if _, err := run(t, open, "content", "add", "--day", "2", "--time", "25:00", "--text", "плохое время"); err == nil {
		t.Fatalf("некорректное время должно отклоняться")
	}
	out, err := run(t, open, "content", "list")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !strings.Contains(out, "Второй день") || strings.Contains(out, "плохое время") {
		t.Fatalf("неожиданный список:\n%s", out)
	}

	if _, err := run(t, open, "content", "disable", "1"); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	out, _ = run(t, open, "content", "list")
	if !strings.Contains(out, "false") {
		t.Fatalf("сообщение должно быть выключено:\n%s", out)
	}
}

func TestQuestionsAddRequiresOptionsForChoice(t *testing.T) {
	open := testOpener(t)
	if _, err := run(t, open, "questions", "add", "--text", "Откуда вы?", "--kind", "choice"); err == nil {
		t.Fatalf("вопрос с вариантами без вариантов должен отклоняться")
	}
	if _, err := run(t, open, "questions", "add", "--text", "Откуда вы?", "--kind", "choice", "--options", "Москва, Другой город", "--optional"); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	out, err := run(t, open, "questions", "list")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !strings.Contains(out, "Москва, Другой город") {
		t.Fatalf("варианты должны сохраниться:\n%s", out)
	}
}

func TestModeSetAndGet(t *testing.T) {
	open := testOpener(t)
	if out, _ := run(t, open, "mode", "get"); !strings.Contains(out, "не задан") {
		t.Fatalf("режим по умолчанию не задан, получили %q", out)
	}
	if _, err := run(t, open, "mode", "set", "сразу"); err == nil {
		t.Fatalf("неизвестный режим должен отклоняться")
	}
	if _, err := run(t, open, "mode", "set", "after_onboarding"); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if out, _ := run(t, open, "mode", "get"); strings.TrimSpace(out) != "after_onboarding" {
		t.Fatalf("ожидали after_onboarding, получили %q", out)
	}
}

func TestPurgeRequiresConfirmation(t *testing.T) {
	open := testOpener(t)
	if _, err := run(t, open, "purge", "7"); err == nil {
		t.Fatalf("без --yes удаление запрещено")
	}
	out, err := run(t, open, "purge", "7", "--yes")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !strings.Contains(out, "удалено записей: 0") {
		t.Fatalf("неожиданный вывод: %q", out)
	}
}

func TestTailWithoutBroker(t *testing.T) {
	if _, err := run(t, testOpener(t), "tail"); err == nil {
		t.Fatalf("без брокера tail должен вернуть ошибку")
	}
}

func TestPreview(t *testing.T) {
	if got := preview("  много\n\nпробелов  "); got != "много пробелов" {
		t.Fatalf("неожиданный результат: %q", got)
	}
	if got := preview(strings.Repeat("я", 50)); len([]rune(got)) != 41 {
		t.Fatalf("длинный текст должен обрезаться")
	}
}

func TestMenuAddValidatesAction(t *testing.T) {
	open := testOpener(t)
	if _, err := run(t, open, "menu", "add", "--name", "Сайт", "--type", "link"); err == nil {
		t.Fatalf("кнопка-ссылка без --value должна отклоняться")
	}
	if _, err := run(t, open, "menu", "add", "--name", "Ссылки", "--type", "inline", "--buttons", "[]"); err == nil {
		t.Fatalf("inline-кнопка без ссылок должна отклоняться")
	}
	if _, err := run(t, open, "menu", "add", "--name", "Другое", "--type", "menu", "--value", "x"); err == nil {
		t.Fatalf("неизвестный тип должен отклоняться")
	}
	if out, err := run(t, open, "menu", "add", "--name", "Сайт", "--type", "link", "--value", "https://example.com", "--order", "1"); err != nil {
		t.Fatalf("неожиданная ошибка: %v\n%s", err, out)
	}
	if out, err := run(t, open, "menu", "add", "--name", "Ссылки", "--type", "inline", "--buttons", `[{"text":"Чат","url":"https://t.me/chat"}]`); err != nil {
		t.Fatalf("неожиданная ошибка: %v\n%s", err, out)
	}

	out, err := run(t, open, "menu", "list")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !strings.Contains(out, "Сайт") || !strings.Contains(out, "Ссылки") {
		t.Fatalf("неожиданный список:\n%s", out)
	}
}

func TestInvitesLifecycle(t *testing.T) {
	open := testOpener(t)
	if out, err := run(t, open, "invites", "add", "spring", "--label", "весна"); err != nil {
		t.Fatalf("неожиданная ошибка: %v\n%s", err, out)
	}
	if _, err := run(t, open, "invites", "add", "spring"); err == nil {
		t.Fatalf("повторный код должен отклоняться")
	}
	if _, err := run(t, open, "invites", "disable", "spring"); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if _, err := run(t, open, "invites", "disable", "unknown"); err == nil {
		t.Fatalf("неизвестный код должен давать ошибку")
	}
	out, err := run(t, open, "invites", "list")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !strings.Contains(out, "spring") || !strings.Contains(out, "false") {
		t.Fatalf("код должен быть выключен:\n%s", out)
	}
}
