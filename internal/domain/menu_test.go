package domain

import (
	"strings"
	"testing"
)

func TestMenuItemLinks(t *testing.T) {
	item := MenuItem{ID: 3, InlineButtons: `[{"text":"Чат","url":"https://t.me/chat"},{"text":"","url":"https://x"},{"url":"https://y"},{"text":"` + strings.Repeat("я", 120) + `","url":"https://z"}]`}
	links, err := item.Links()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("кнопки без текста или ссылки пропускаются, получили %+v", links)
	}
	if links[0].Text != "Чат" || links[0].URL != "https://t.me/chat" {
		t.Fatalf("неверная первая кнопка: %+v", links[0])
	}
	if n := len([]rune(links[1].Text)); n != 100 {
		t.Fatalf("длинный текст обрезается до 100 символов, получили %d", n)
	}

	if _, err := (MenuItem{InlineButtons: "не json"}).Links(); err == nil {
		t.Fatalf("ожидали ошибку разбора")
	}
}

func TestParseMenuButtonType(t *testing.T) {
	cases := map[string]bool{"link": true, " Text ": true, "inline": true, "menu": false, "": false}
	for raw, want := range cases {
		if _, ok := ParseMenuButtonType(raw); ok != want {
			t.Fatalf("%q: ожидали %v", raw, want)
		}
	}
}
