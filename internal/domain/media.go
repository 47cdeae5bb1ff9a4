package domain

import "strings"

// MediaType: тип вложения сообщения.
type MediaType string

const (
	MediaText      MediaType = "text"
	MediaPhoto     MediaType = "photo"
	MediaVideo     MediaType = "video"
	MediaDocument  MediaType = "document"
	MediaAnimation MediaType = "animation"
	MediaAudio     MediaType = "audio"
	MediaVoice     MediaType = "voice"
	MediaVideoNote MediaType = "video_note"
)

var legacyMediaCodes = map[string]MediaType{
	"0": MediaText,
	"1": MediaPhoto,
	"2": MediaVideo,
	"3": MediaDocument,
	"4": MediaAnimation,
	"5": MediaAudio,
	"6": MediaVoice,
	"7": MediaVideoNote,
}

// NormalizeMediaType приводит сохранённое значение к известному типу.
// Числовые коды старых записей переводятся в строковые, неизвестное значение становится текстом.
func NormalizeMediaType(raw string) MediaType {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return MediaText
	}
	if mt, ok := legacyMediaCodes[raw]; ok {
		return mt
	}
	switch mt := MediaType(strings.ToLower(raw)); mt {
	case MediaText, MediaPhoto, MediaVideo, MediaDocument, MediaAnimation, MediaAudio, MediaVoice, MediaVideoNote:
		return mt
	}
	return MediaText
}

// SupportsCaption сообщает, можно ли приложить подпись и кнопки к вложению.
func (m MediaType) SupportsCaption() bool {
	return m != MediaVoice && m != MediaVideoNote
}
