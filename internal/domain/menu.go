package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MenuButtonType: действие кнопки главного меню.
type MenuButtonType string

const (
	MenuLink   MenuButtonType = "link"
	MenuText   MenuButtonType = "text"
	MenuInline MenuButtonType = "inline"
)

// ParseMenuButtonType проверяет тип кнопки меню.
func ParseMenuButtonType(raw string) (MenuButtonType, bool) {
	switch t := MenuButtonType(strings.ToLower(strings.TrimSpace(raw))); t {
	case MenuLink, MenuText, MenuInline:
		return t, true
	}
	return "", false
}

// MenuItem: кнопка главного меню, которое показывается после /start.
// Для link и text действие хранится в ActionValue, для inline кнопки-ссылки лежат в InlineButtons.
type MenuItem struct {
	ID            int64
	Name          string
	Order         int
	Type          MenuButtonType
	ActionValue   string
	InlineButtons string
	Active        bool
}

// Before: порядок кнопок меню, по Order, затем по ID.
func (m MenuItem) Before(other MenuItem) bool {
	if m.Order != other.Order {
		return m.Order < other.Order
	}
	return m.ID < other.ID
}

// LinkButton: кнопка-ссылка inline-меню.
type LinkButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

const (
	linkTextLimit = 100
	linkURLLimit  = 500
)

// Links разбирает InlineButtons: JSON-массив объектов {"text", "url"}.
// Записи без текста или ссылки пропускаются, слишком длинные значения обрезаются.
func (m MenuItem) Links() ([]LinkButton, error) {
	var raw []LinkButton
	if err := json.Unmarshal([]byte(m.InlineButtons), &raw); err != nil {
		return nil, fmt.Errorf("кнопки меню %d: %w", m.ID, err)
	}
	out := make([]LinkButton, 0, len(raw))
	for _, b := range raw {
		b.Text, b.URL = strings.TrimSpace(b.Text), strings.TrimSpace(b.URL)
		if b.Text == "" || b.URL == "" {
			continue
		}
		out = append(out, LinkButton{Text: truncateRunes(b.Text, linkTextLimit), URL: truncateRunes(b.URL, linkURLLimit)})
	}
	return out, nil
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// InviteLink: код пригласительной ссылки вида t.me/<bot>?start=<code>.
type InviteLink struct {
	Code      string
	Label     string
	Active    bool
	CreatedAt time.Time
}
