package log

import (
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// maxFrameLog caps how much of a frame is written to the log.
const maxFrameLog = 512

// FrameSink writes raw wire frames at trace level.
type FrameSink struct {
	log *zerolog.Logger
}

// NewFrameSink returns a sink, or nil when trace logging is off so callers
// skip the per-frame call entirely.
func NewFrameSink(logger *zerolog.Logger) *FrameSink {
	if logger == nil || logger.GetLevel() > zerolog.TraceLevel {
		return nil
	}
	l := logger.With().Str("component", "frames").Logger()
	return &FrameSink{log: &l}
}

// Frame logs one frame. Printable frames are logged as text, others as hex.
func (s *FrameSink) Frame(connID string, inbound bool, frame []byte) {
	dir := "out"
	if inbound {
		dir = "in"
	}
	shown := frame
	if len(shown) > maxFrameLog {
		shown = shown[:maxFrameLog]
	}
	ev := s.log.Trace().Str("conn_id", connID).Str("dir", dir).Int("size", len(frame))
	if utf8.Valid(shown) {
		ev = ev.Str("frame", string(shown))
	} else {
		ev = ev.Hex("frame", shown)
	}
	ev.Msg("frame")
}
