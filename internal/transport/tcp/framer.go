package tcp

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/quizwire/internal/proto"
)

// ErrFrameTooLarge is a protocol violation that closes the connection.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// framer splits an inbound byte stream into frames.
type framer interface {
	// feed consumes data and calls emit for every complete frame.
	feed(data []byte, emit func(frame []byte) error) error
	decode(frame []byte) (proto.Message, error)
}

func newFramer(v proto.Version, maxFrame int) framer {
	if v == proto.VersionV2 {
		return &v2Framer{max: maxFrame}
	}
	return &legacyFramer{max: maxFrame}
}

type legacyState int

const (
	awaitPrefix legacyState = iota
	awaitPayload
)

// legacyFramer alternates between reading a 4-byte length prefix and
// reading that many payload bytes.
type legacyFramer struct {
	max    int
	state  legacyState
	want   int
	buf    []byte
	prefix [proto.LegacyPrefixSize]byte
	have   int
}

func (f *legacyFramer) feed(data []byte, emit func([]byte) error) error {
	for len(data) > 0 {
		switch f.state {
		case awaitPrefix:
			n := copy(f.prefix[f.have:], data)
			f.have += n
			data = data[n:]
			if f.have < len(f.prefix) {
				return nil
			}
			length := proto.LegacyLength(f.prefix[:])
			if length <= 0 || length > f.max {
				return fmt.Errorf("%w: legacy length %d", ErrFrameTooLarge, length)
			}
			f.want = length
			f.buf = make([]byte, 0, length)
			f.have = 0
			f.state = awaitPayload

		case awaitPayload:
			n := min(f.want-len(f.buf), len(data))
			f.buf = append(f.buf, data[:n]...)
			data = data[n:]
			if len(f.buf) < f.want {
				return nil
			}
			frame := f.buf
			f.buf = nil
			f.state = awaitPrefix
			if err := emit(frame); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *legacyFramer) decode(frame []byte) (proto.Message, error) {
	return proto.DecodeLegacy(frame)
}

// v2Framer buffers until a frame terminator arrives.
type v2Framer struct {
	max int
	buf []byte
}

func (f *v2Framer) feed(data []byte, emit func([]byte) error) error {
	f.buf = append(f.buf, data...)
	for {
		frame, rest, ok := proto.NextV2Frame(f.buf)
		if !ok {
			break
		}
		f.buf = rest
		if err := emit(frame); err != nil {
			return err
		}
	}
	if len(f.buf) > f.max {
		return fmt.Errorf("%w: %d bytes without terminator", ErrFrameTooLarge, len(f.buf))
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return nil
}

func (f *v2Framer) decode(frame []byte) (proto.Message, error) {
	return proto.DecodeV2(frame)
}
