package core

import (
	"strings"
	"unicode/utf8"

	"github.com/vovakirdan/quizwire/internal/proto"
)

// normalize resolves an empty receiver to broadcast and truncates ordinary
// chat to maxLen runes.
func normalize(m proto.Message, maxLen int) proto.Message {
	if m.Receiver == "" {
		m.Receiver = proto.Everybody
	}
	if maxLen > 0 && m.IsChat() && utf8.RuneCountInString(m.Text) > maxLen {
		runes := []rune(m.Text)
		m.Text = string(runes[:maxLen])
	}
	return m
}

func anonymousSender(connID string) string {
	return proto.AnonymousPrefix + connID
}

func anonymousTarget(receiver string) (string, bool) {
	if !strings.HasPrefix(receiver, proto.AnonymousPrefix) {
		return "", false
	}
	return strings.TrimPrefix(receiver, proto.AnonymousPrefix), true
}

// deliversTo is the local fan-out rule.
func deliversTo(m proto.Message, name string) bool {
	return m.Receiver == name ||
		m.Receiver == proto.Everybody ||
		name == "" ||
		m.IsChat()
}

// relaysTo is the peer fan-out rule.
func relaysTo(m proto.Message, c Connection) bool {
	user := c.UserName()
	if user == m.Sender {
		return false
	}
	return m.Receiver == user || (m.Receiver == proto.Everybody && c.IsAuthenticated())
}
