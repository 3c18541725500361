// Package display provides a stand-in for a windowed video display. A
// production build would wire media.Display to an SDL2 or similar windowing
// binding; this package gives cmd/vp9receiver something concrete to drive
// under --lazy=0 without a GUI dependency, logging each shown frame instead
// of rendering it.
package display

import (
	"github.com/rtvideo/vp9cast/internal/logging"
	"github.com/rtvideo/vp9cast/internal/media"
)

// LogSink implements media.Display by logging each frame it's handed
// instead of presenting it in a window. It never signals quit, since it has
// no input device to observe.
type LogSink struct {
	frames uint64
}

// NewLogSink constructs a LogSink.
func NewLogSink() *LogSink { return &LogSink{} }

// ShowFrame logs the dimensions of the frame that would have been
// displayed.
func (s *LogSink) ShowFrame(img media.RawImage) error {
	s.frames++
	logging.L().Debug("display_show_frame", "frame_no", s.frames, "width", img.Width, "height", img.Height)
	return nil
}

// SignalQuit always reports false: a log sink has no window to close.
func (s *LogSink) SignalQuit() bool { return false }

// Close is a no-op.
func (s *LogSink) Close() error { return nil }
