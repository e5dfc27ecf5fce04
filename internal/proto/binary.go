package proto

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Header flags of the v2 framing.
const (
	FlagSystem  byte = 0x01
	FlagPrivate byte = 0x02
)

const (
	fieldSeparator = '\n'
	// FrameTerminator ends every v2 frame.
	FrameTerminator = 0x00
)

// EncodeV2 returns the binary frame including the trailing terminator.
// Sender and Receiver cannot contain the separator and no field can contain
// the terminator or invalid UTF-8, since DecodeV2 refuses both.
func EncodeV2(m Message) ([]byte, error) {
	if strings.ContainsRune(m.Sender, fieldSeparator) || strings.ContainsRune(m.Receiver, fieldSeparator) {
		return nil, fmt.Errorf("%w: address contains a line break", ErrUnencodable)
	}
	if strings.ContainsRune(m.Sender+m.Receiver+m.Text, FrameTerminator) {
		return nil, fmt.Errorf("%w: field contains a NUL byte", ErrUnencodable)
	}
	if !utf8.ValidString(m.Sender) || !utf8.ValidString(m.Receiver) || !utf8.ValidString(m.Text) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrUnencodable)
	}

	var flags byte
	if m.IsSystem {
		flags |= FlagSystem
	}
	if m.IsPrivate {
		flags |= FlagPrivate
	}

	out := make([]byte, 0, 1+len(m.Sender)+1+len(m.Receiver)+1+len(m.Text)+1)
	out = append(out, flags)
	out = append(out, m.Sender...)
	out = append(out, fieldSeparator)
	out = append(out, m.Receiver...)
	out = append(out, fieldSeparator)
	out = append(out, m.Text...)
	out = append(out, FrameTerminator)
	return out, nil
}

// DecodeV2 parses one frame, with or without its terminator.
// On failure it returns Empty and an error wrapping ErrMalformedFrame.
func DecodeV2(frame []byte) (Message, error) {
	frame = bytes.TrimSuffix(frame, []byte{FrameTerminator})
	if len(frame) < 1 {
		return Empty, fmt.Errorf("%w: missing header byte", ErrMalformedFrame)
	}

	flags := frame[0]
	rest := frame[1:]

	sender, rest, ok := bytes.Cut(rest, []byte{fieldSeparator})
	if !ok {
		return Empty, fmt.Errorf("%w: missing sender separator", ErrMalformedFrame)
	}
	receiver, text, ok := bytes.Cut(rest, []byte{fieldSeparator})
	if !ok {
		return Empty, fmt.Errorf("%w: missing receiver separator", ErrMalformedFrame)
	}
	if bytes.IndexByte(text, FrameTerminator) >= 0 {
		return Empty, fmt.Errorf("%w: embedded terminator", ErrMalformedFrame)
	}
	if !utf8.Valid(sender) || !utf8.Valid(receiver) || !utf8.Valid(text) {
		return Empty, fmt.Errorf("%w: invalid utf-8", ErrMalformedFrame)
	}

	return Message{
		Text:      string(text),
		Sender:    string(sender),
		Receiver:  string(receiver),
		IsSystem:  flags&FlagSystem != 0,
		IsPrivate: flags&FlagPrivate != 0,
	}, nil
}

// NextV2Frame splits the first complete frame off buf. The header byte is
// never treated as a terminator, so a zero flags byte is safe.
func NextV2Frame(buf []byte) (frame, rest []byte, ok bool) {
	if len(buf) < 2 {
		return nil, buf, false
	}
	idx := bytes.IndexByte(buf[1:], FrameTerminator)
	if idx < 0 {
		return nil, buf, false
	}
	end := idx + 2
	return buf[:end], buf[end:], true
}
