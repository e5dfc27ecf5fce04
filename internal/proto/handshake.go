package proto

import (
	"bytes"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
)

// Handshake header names and the status line sent by the acceptor.
const (
	HeaderUpgrade      = "Upgrade"
	HeaderConnection   = "Connection"
	HeaderConnectionID = "ConnectionId"

	StatusSwitching = "HTTP/1.1 101 Switching Protocols"

	// MaxHandshakeBytes bounds the negotiation preamble.
	MaxHandshakeBytes = 8 << 10
)

var (
	// ErrHandshakeTooLarge is returned when no terminator appears within MaxHandshakeBytes.
	ErrHandshakeTooLarge = errors.New("handshake exceeds size limit")
	// ErrBadHandshake marks an unparsable preamble or an unexpected reply.
	ErrBadHandshake = errors.New("malformed handshake")
)

// Handshake is the parsed negotiation preamble of either side.
type Handshake struct {
	StartLine    string
	Upgrade      string
	ConnectionID string
	Headers      map[string]string
	// Malformed holds header lines that were skipped.
	Malformed []string
}

// Version returns the framing selected by the Upgrade header.
func (h Handshake) Version() Version {
	if h.Upgrade == UpgradeTagV2 {
		return VersionV2
	}
	return VersionLegacy
}

// HeaderEnd returns the offset just past the blank-line terminator ("\n\n"
// or "\r\n\r\n") and whether one was found. A buffer starting with a bare
// line break is an empty preamble.
func HeaderEnd(buf []byte) (int, bool) {
	switch {
	case bytes.HasPrefix(buf, []byte("\r\n")):
		return 2, true
	case bytes.HasPrefix(buf, []byte("\n")):
		return 1, true
	}
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))
	lf := bytes.Index(buf, []byte("\n\n"))
	switch {
	case crlf < 0 && lf < 0:
		return 0, false
	case crlf < 0:
		return lf + 2, true
	case lf < 0 || crlf < lf:
		return crlf + 4, true
	default:
		return lf + 2, true
	}
}

// ParseHandshake parses header lines up to (not including) the terminator.
// A first line without a colon is kept as the start line; any other line
// that is not a header is skipped and listed in Malformed.
func ParseHandshake(raw []byte) Handshake {
	h := Handshake{Headers: make(map[string]string)}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")

	for i, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok && i == 0 {
			h.StartLine = strings.TrimSpace(line)
			continue
		}
		name = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
		if !ok || name == "" {
			h.Malformed = append(h.Malformed, line)
			continue
		}
		h.Headers[name] = strings.TrimSpace(value)
	}

	h.Upgrade = h.Headers[textproto.CanonicalMIMEHeaderKey(HeaderUpgrade)]
	h.ConnectionID = h.Headers[textproto.CanonicalMIMEHeaderKey(HeaderConnectionID)]
	return h
}

// BuildRequest renders the client side of the negotiation.
func BuildRequest(upgrade bool, connectionID string) []byte {
	var b strings.Builder
	if upgrade {
		fmt.Fprintf(&b, "%s: %s\r\n", HeaderUpgrade, UpgradeTagV2)
		fmt.Fprintf(&b, "%s: %s\r\n", HeaderConnection, HeaderUpgrade)
	}
	if connectionID != "" {
		fmt.Fprintf(&b, "%s: %s\r\n", HeaderConnectionID, connectionID)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// BuildResponse renders the acceptor's reply. connectionID is echoed only
// when non-empty.
func BuildResponse(version Version, connectionID string) []byte {
	var b strings.Builder
	b.WriteString(StatusSwitching)
	b.WriteString("\r\n")
	if version == VersionV2 {
		fmt.Fprintf(&b, "%s: %s\r\n", HeaderUpgrade, UpgradeTagV2)
		fmt.Fprintf(&b, "%s: %s\r\n", HeaderConnection, HeaderUpgrade)
	}
	if connectionID != "" {
		fmt.Fprintf(&b, "%s: %s\r\n", HeaderConnectionID, connectionID)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}
