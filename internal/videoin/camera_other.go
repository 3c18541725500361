//go:build !linux

package videoin

import (
	"errors"

	"github.com/rtvideo/vp9cast/internal/media"
)

// ErrCameraUnsupported is returned by OpenCamera on platforms without V4L2.
var ErrCameraUnsupported = errors.New("videoin: camera capture is only available on linux")

// Camera is provided for non-linux builds so callers compile; every method
// fails with ErrCameraUnsupported.
type Camera struct{}

func OpenCamera(devPath string, width, height uint16) (*Camera, error) {
	return nil, ErrCameraUnsupported
}

func (c *Camera) Dimensions() (uint16, uint16)                { return 0, 0 }
func (c *Camera) ReadFrame(img *media.RawImage) (bool, error) { return false, ErrCameraUnsupported }
func (c *Camera) Close() error                                { return ErrCameraUnsupported }
