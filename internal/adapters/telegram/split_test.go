package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessageRespectsLimit(t *testing.T) {
	var builder strings.Builder
	builder.WriteString(strings.Repeat("a", 3000))
	builder.WriteString("\n\n")
	builder.WriteString(strings.Repeat("b", 2000))
	builder.WriteString("\n")
	builder.WriteString(strings.Repeat("c", 500))

	parts := SplitMessage(builder.String(), MessageLimit)
	if len(parts) != 2 {
		t.Fatalf("ожидалось 2 части, получили %d", len(parts))
	}
	for i, part := range parts {
		if length := len([]rune(part)); length > MessageLimit {
			t.Fatalf("часть %d превышает лимит: %d", i, length)
		}
	}
	if parts[0] != strings.Repeat("a", 3000) {
		t.Fatalf("неожиданное содержимое первой части")
	}
	if parts[1][0] != 'b' {
		t.Fatalf("неожиданное начало второй части: %q", parts[1][0])
	}
	if !strings.HasSuffix(parts[1], strings.Repeat("c", 500)) {
		t.Fatalf("вторая часть должна заканчиваться блоком 'c'")
	}
}

func TestSplitMessageWithoutNewlines(t *testing.T) {
	parts := SplitMessage(strings.Repeat("я", 2500), CaptionLimit)
	if len(parts) != 3 {
		t.Fatalf("ожидалось 3 части, получили %d", len(parts))
	}
	if len([]rune(parts[0])) != CaptionLimit || len([]rune(parts[2])) != 452 {
		t.Fatalf("неожиданные длины частей")
	}
}

func TestSplitMessageShortText(t *testing.T) {
	parts := SplitMessage("hello world", MessageLimit)
	if len(parts) != 1 || parts[0] != "hello world" {
		t.Fatalf("неожиданный результат: %q", parts)
	}
}

func TestSplitMessageEmpty(t *testing.T) {
	if parts := SplitMessage("   \n  ", MessageLimit); len(parts) != 0 {
		t.Fatalf("для пустого текста частей быть не должно, получили %d", len(parts))
	}
}

func TestFitsCaption(t *testing.T) {
	if !FitsCaption(strings.Repeat("ж", CaptionLimit)) {
		t.Fatalf("текст ровно в лимит должен помещаться")
	}
	if FitsCaption(strings.Repeat("ж", CaptionLimit+1)) {
		t.Fatalf("текст длиннее лимита не помещается")
	}
}
