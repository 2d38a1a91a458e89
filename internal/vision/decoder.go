package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/vp8"
)

const MimeTypeVP8 = "video/VP8"

var ErrNotKeyFrame = errors.New("vp8 interframe cannot be decoded on its own")

type VideoDecoder interface {
	Decode(data []byte, mimeType string) (image.Image, error)
	Close() error
}

// VPXDecoder decodes VP8 key frames. Interframes need the previous reference frame,
// which x/image/vp8 does not keep, so they are rejected with ErrNotKeyFrame.
type VPXDecoder struct {
	mu sync.Mutex
}

func NewVPXDecoder() *VPXDecoder {
	return &VPXDecoder{}
}

func (d *VPXDecoder) Decode(data []byte, mimeType string) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame data")
	}
	if mimeType != MimeTypeVP8 {
		return nil, fmt.Errorf("unsupported codec: %s (only VP8 supported)", mimeType)
	}
	if data[0]&0x01 != 0 {
		return nil, ErrNotKeyFrame
	}

	decoder := vp8.NewDecoder()
	decoder.Init(bytes.NewReader(data), len(data))

	fh, err := decoder.DecodeFrameHeader()
	if err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}
	if fh.Width == 0 || fh.Height == 0 {
		return nil, fmt.Errorf("invalid frame dimensions: %dx%d", fh.Width, fh.Height)
	}

	img, err := decoder.DecodeFrame()
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

func (d *VPXDecoder) Close() error {
	return nil
}
