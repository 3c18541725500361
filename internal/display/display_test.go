package display

import (
	"testing"

	"github.com/rtvideo/vp9cast/internal/media"
)

func TestLogSink_ShowFrameNeverErrorsOrQuits(t *testing.T) {
	sink := NewLogSink()
	img := media.NewOwnedImage(8, 4)

	for i := 0; i < 3; i++ {
		if err := sink.ShowFrame(img); err != nil {
			t.Fatalf("ShowFrame: %v", err)
		}
		if sink.SignalQuit() {
			t.Error("LogSink should never signal quit")
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
