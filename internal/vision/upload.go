package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

const (
	DefaultUploadMaxDimension = 320
	DefaultUploadQuality      = 30
)

// EncodeUpload shrinks img so its longer side is at most maxDim and encodes it as JPEG.
// Images already within bounds are encoded as they are.
func EncodeUpload(img image.Image, maxDim, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("encode upload: nil image")
	}
	if maxDim <= 0 {
		maxDim = DefaultUploadMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultUploadQuality
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("encode upload: empty image")
	}

	out := img
	if longest := max(w, h); longest > maxDim {
		ratio := float64(maxDim) / float64(longest)
		tw := max(1, int(math.Round(float64(w)*ratio)))
		th := max(1, int(math.Round(float64(h)*ratio)))
		dst := image.NewRGBA(image.Rect(0, 0, tw, th))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}
	return buf.Bytes(), nil
}
