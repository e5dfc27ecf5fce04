package core

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys understood by Localizer.
const (
	TextBannedPermanent = "banned.permanent"
	TextBannedUntil     = "banned.until"
	TextKicked          = "kicked"
)

// Localizer renders user-facing strings.
type Localizer interface {
	Text(key string, args ...any) string
}

func init() {
	catalog := map[language.Tag]map[string]string{
		language.English: {
			TextBannedPermanent: "Connection refused: you are banned from this game",
			TextBannedUntil:     "Connection refused: you are banned until %s",
			TextKicked:          "You have been removed from the game",
		},
		language.Russian: {
			TextBannedPermanent: "Подключение отклонено: вы заблокированы в этой игре",
			TextBannedUntil:     "Подключение отклонено: вы заблокированы до %s",
			TextKicked:          "Вас удалили из игры",
		},
	}
	for tag, entries := range catalog {
		for key, msg := range entries {
			_ = message.SetString(tag, key, msg)
		}
	}
}

var supportedLanguages = []language.Tag{language.English, language.Russian}

type printerLocalizer struct {
	p *message.Printer
}

// NewLocalizer returns a Localizer for a BCP 47 language name. Unknown
// names fall back to English.
func NewLocalizer(lang string) Localizer {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	_, idx, _ := language.NewMatcher(supportedLanguages).Match(tag)
	return &printerLocalizer{p: message.NewPrinter(supportedLanguages[idx])}
}

func (l *printerLocalizer) Text(key string, args ...any) string {
	return l.p.Sprintf(key, args...)
}

func formatExpiry(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}
