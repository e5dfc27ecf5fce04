package proto

import (
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// LegacyPrefixSize is the size of the little-endian length prefix.
const LegacyPrefixSize = 4

type legacyElement struct {
	XMLName  xml.Name `xml:"M"`
	System   string   `xml:"sys,attr,omitempty"`
	Private  string   `xml:"pri,attr,omitempty"`
	Sender   string   `xml:"sen,attr,omitempty"`
	Receiver string   `xml:"rec,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// EncodeLegacy returns the length prefix followed by the XML element.
// Defaults (sys=true, pri=false) are not written. Fields holding invalid
// UTF-8 or characters XML 1.0 cannot carry are refused rather than replaced.
func EncodeLegacy(m Message) ([]byte, error) {
	for _, field := range [...]string{m.Sender, m.Receiver, m.Text} {
		if err := xmlSafe(field); err != nil {
			return nil, err
		}
	}

	el := legacyElement{
		Sender:   m.Sender,
		Receiver: m.Receiver,
		Text:     m.Text,
	}
	if !m.IsSystem {
		el.System = "false"
	}
	if m.IsPrivate {
		el.Private = "true"
	}

	body, err := xml.Marshal(el)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}

	out := make([]byte, LegacyPrefixSize+len(body))
	binary.LittleEndian.PutUint32(out[:LegacyPrefixSize], uint32(len(body)))
	copy(out[LegacyPrefixSize:], body)
	return out, nil
}

func xmlSafe(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: invalid utf-8", ErrUnencodable)
	}
	for _, r := range s {
		if !isXMLChar(r) {
			return fmt.Errorf("%w: character %U is not allowed in xml", ErrUnencodable, r)
		}
	}
	return nil
}

// isXMLChar reports whether r is in the XML 1.0 Char production.
func isXMLChar(r rune) bool {
	switch {
	case r == '\t', r == '\n', r == '\r':
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= utf8.MaxRune:
		return true
	}
	return false
}

// LegacyLength reads a frame length from a 4-byte prefix.
func LegacyLength(prefix []byte) int {
	return int(int32(binary.LittleEndian.Uint32(prefix)))
}

// DecodeLegacy parses one XML element (without its length prefix).
// On failure it returns Empty and an error wrapping ErrMalformedFrame.
func DecodeLegacy(payload []byte) (Message, error) {
	var el legacyElement
	if err := xml.Unmarshal(payload, &el); err != nil {
		return Empty, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	isSystem, err := parseFlag(el.System, true)
	if err != nil {
		return Empty, fmt.Errorf("%w: sys attribute: %v", ErrMalformedFrame, err)
	}
	isPrivate, err := parseFlag(el.Private, false)
	if err != nil {
		return Empty, fmt.Errorf("%w: pri attribute: %v", ErrMalformedFrame, err)
	}

	return Message{
		Text:      el.Text,
		Sender:    el.Sender,
		Receiver:  el.Receiver,
		IsSystem:  isSystem,
		IsPrivate: isPrivate,
	}, nil
}

func parseFlag(value string, def bool) (bool, error) {
	if value == "" {
		return def, nil
	}
	return strconv.ParseBool(value)
}
