// Package proto defines the message envelope exchanged between nodes and the
// two wire framings used to carry it.
package proto

import "errors"

const (
	// Everybody addresses every participant and every authenticated peer.
	Everybody = "*"
	// Authority is the reserved sender used by the hosting server itself.
	Authority = "@host"
	// AnonymousPrefix marks a synthetic sender derived from a connection id.
	AnonymousPrefix = "@anon:"
	// PingText is the keepalive payload.
	PingText = "PING"
	// UpgradeTagV2 is the Upgrade header value selecting binary framing.
	UpgradeTagV2 = "quizwire/2"
)

var (
	// ErrMalformedFrame is wrapped by every decode failure.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnencodable is returned when a field cannot be represented on the wire.
	ErrUnencodable = errors.New("message cannot be encoded")
)

// Message is an immutable chat or control envelope. Two messages are equal
// when all five fields are equal.
type Message struct {
	Text      string
	Sender    string
	Receiver  string
	IsSystem  bool
	IsPrivate bool
}

// Empty is returned by decoders when a frame cannot be parsed.
var Empty = Message{}

// NewSystem builds a system message.
func NewSystem(sender, receiver, text string) Message {
	return Message{Text: text, Sender: sender, Receiver: receiver, IsSystem: true}
}

// NewChat builds an ordinary chat message.
func NewChat(sender, receiver, text string) Message {
	return Message{Text: text, Sender: sender, Receiver: receiver}
}

// IsEmpty reports whether m is the decode-failure sentinel.
func (m Message) IsEmpty() bool {
	return m == Empty
}

// IsChat reports whether m is ordinary chat (neither system nor private).
func (m Message) IsChat() bool {
	return !m.IsSystem && !m.IsPrivate
}

// IsPing reports whether m carries the keepalive payload.
func (m Message) IsPing() bool {
	return m.Text == PingText
}

// WithSender returns a copy of m with a different sender.
func (m Message) WithSender(sender string) Message {
	m.Sender = sender
	return m
}

// WithReceiver returns a copy of m with a different receiver.
func (m Message) WithReceiver(receiver string) Message {
	m.Receiver = receiver
	return m
}

// WithText returns a copy of m with a different text.
func (m Message) WithText(text string) Message {
	m.Text = text
	return m
}

// Version identifies the framing negotiated for one connection.
type Version int

const (
	// VersionLegacy is the length-prefixed XML framing.
	VersionLegacy Version = 1
	// VersionV2 is the separator-delimited binary framing.
	VersionV2 Version = 2
)

func (v Version) String() string {
	switch v {
	case VersionV2:
		return "v2"
	default:
		return "legacy"
	}
}

// Encode frames m for the wire using this version.
func (v Version) Encode(m Message) ([]byte, error) {
	if v == VersionV2 {
		return EncodeV2(m)
	}
	return EncodeLegacy(m)
}
