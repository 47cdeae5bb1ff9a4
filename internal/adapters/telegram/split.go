package telegram

import "strings"

// Лимиты Telegram в символах.
const (
	MessageLimit = 4096
	CaptionLimit = 1024
)

// SplitMessage разбивает текст на части не длиннее limit символов.
// Разрез по возможности делается по переводу строки, чтобы не рвать форматированные блоки.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MessageLimit
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= limit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			chunk := strings.Trim(string(runes[start:]), "\n")
			if chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		split := -1
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}
		if split == -1 {
			split = end
		}

		chunk := strings.Trim(string(runes[start:split]), "\n")
		if chunk != "" {
			parts = append(parts, chunk)
		}

		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}

	if len(parts) == 0 {
		return []string{trimmed}
	}
	return parts
}

// FitsCaption сообщает, помещается ли текст в подпись к медиа.
func FitsCaption(text string) bool {
	return len([]rune(strings.TrimSpace(text))) <= CaptionLimit
}
