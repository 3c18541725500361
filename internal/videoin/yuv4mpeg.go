// Package videoin implements the sender's raw video sources: a looping
// YUV4MPEG2 file reader for offline testing and playback, and (on Linux) a
// V4L2 camera capture source for live streaming. Both satisfy
// media.Source, so the encoder's frame-acquisition loop doesn't care which
// one is feeding it.
package videoin

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rtvideo/vp9cast/internal/ioerr"
	"github.com/rtvideo/vp9cast/internal/media"
)

const y4mSignature = "YUV4MPEG2"

// FileSource reads raw I420 frames out of a YUV4MPEG2 file, optionally
// looping back to the first frame once the file is exhausted.
type FileSource struct {
	f             *os.File
	r             *bufio.Reader
	width, height uint16
	loop          bool
	ySize, uvSize int
}

// OpenFile opens path as a YUV4MPEG2 stream, validating that its header
// declares the expected dimensions and 4:2:0 chroma subsampling.
func OpenFile(path string, width, height uint16, loop bool) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ioerr.ErrConfig, path, err)
	}

	s := &FileSource{
		f: f, width: width, height: height, loop: loop,
		ySize: int(width) * int(height), uvSize: int(width) * int(height) / 4,
	}
	if err := s.readSignatureAndHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileSource) readSignatureAndHeader() error {
	s.r = bufio.NewReader(s.f)

	sig := make([]byte, len(y4mSignature))
	if _, err := io.ReadFull(s.r, sig); err != nil || string(sig) != y4mSignature {
		return fmt.Errorf("%w: %s is not a valid YUV4MPEG2 file", ioerr.ErrConfig, s.f.Name())
	}

	header, err := s.r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("%w: reading YUV4MPEG2 header: %v", ioerr.ErrConfig, err)
	}
	return s.validateHeader(header)
}

func (s *FileSource) validateHeader(header string) error {
	for _, token := range strings.Fields(header) {
		if token == "" {
			continue
		}
		switch token[0] {
		case 'W':
			w, err := strconv.Atoi(token[1:])
			if err != nil || uint16(w) != s.width {
				return fmt.Errorf("%w: YUV4MPEG2 header declares width %q, want %d", ioerr.ErrConfig, token, s.width)
			}
		case 'H':
			h, err := strconv.Atoi(token[1:])
			if err != nil || uint16(h) != s.height {
				return fmt.Errorf("%w: YUV4MPEG2 header declares height %q, want %d", ioerr.ErrConfig, token, s.height)
			}
		case 'C':
			if !strings.HasPrefix(token, "C420") {
				return fmt.Errorf("%w: only 4:2:0 chroma subsampling is supported, got %q", ioerr.ErrConfig, token)
			}
		}
	}
	return nil
}

// Dimensions reports the fixed width and height every frame is decoded at.
func (s *FileSource) Dimensions() (uint16, uint16) { return s.width, s.height }

// ReadFrame fills img with the next frame's Y, U, and V planes, rewinding
// to the start of the file when loop is set and EOF is reached. It returns
// false (not an error) when the file is exhausted and looping is disabled.
func (s *FileSource) ReadFrame(img *media.RawImage) (bool, error) {
	if img.Width != s.width || img.Height != s.height {
		return false, fmt.Errorf("%w: frame buffer is %dx%d, source is %dx%d",
			ioerr.ErrConfig, img.Width, img.Height, s.width, s.height)
	}

	line, err := s.r.ReadString('\n')
	if err == io.EOF && line == "" {
		if !s.loop {
			return false, nil
		}
		if err := s.rewind(); err != nil {
			return false, err
		}
		line, err = s.r.ReadString('\n')
	}
	if err != nil {
		return false, fmt.Errorf("%w: reading frame header: %v", ioerr.ErrSocket, err)
	}
	if !strings.HasPrefix(line, "FRAME") {
		return false, fmt.Errorf("%w: expected FRAME marker, got %q", ioerr.ErrProtocol, line)
	}

	if _, err := io.ReadFull(s.r, img.Data[:s.ySize]); err != nil {
		return false, fmt.Errorf("%w: reading Y plane: %v", ioerr.ErrSocket, err)
	}
	if _, err := io.ReadFull(s.r, img.Data[s.ySize:s.ySize+s.uvSize]); err != nil {
		return false, fmt.Errorf("%w: reading U plane: %v", ioerr.ErrSocket, err)
	}
	if _, err := io.ReadFull(s.r, img.Data[s.ySize+s.uvSize:s.ySize+2*s.uvSize]); err != nil {
		return false, fmt.Errorf("%w: reading V plane: %v", ioerr.ErrSocket, err)
	}
	return true, nil
}

func (s *FileSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek to start of %s: %v", ioerr.ErrSocket, s.f.Name(), err)
	}
	return s.readSignatureAndHeader()
}

// Close releases the underlying file.
func (s *FileSource) Close() error { return s.f.Close() }
