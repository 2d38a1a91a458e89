package motion

import (
	"image"
	"sync"

	"golang.org/x/image/draw"
)

const (
	DefaultWidth     = 160
	DefaultHeight    = 120
	DefaultStride    = 8
	DefaultThreshold = 50
)

type Config struct {
	Stride    int
	Threshold float64
}

func DefaultConfig() Config {
	return Config{Stride: DefaultStride, Threshold: DefaultThreshold}
}

// Differencer scores how much a frame differs from a reference frame. The reference only
// moves when a change is significant, so slow drift accumulates until it crosses the
// threshold instead of being absorbed frame by frame.
type Differencer struct {
	cfg Config

	mu        sync.Mutex
	reference *image.RGBA
}

func NewDifferencer(cfg Config) *Differencer {
	if cfg.Stride <= 0 {
		cfg.Stride = DefaultStride
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Differencer{cfg: cfg}
}

// Observe scores frame against the reference. The first frame, and any frame whose size
// differs from the reference, becomes the new reference and is not significant.
func (d *Differencer) Observe(frame *image.RGBA) (score float64, significant bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reference == nil || d.reference.Rect.Size() != frame.Rect.Size() {
		d.reference = clone(frame)
		return 0, false
	}

	score = Score(d.reference, frame, d.cfg.Stride)
	if score > d.cfg.Threshold {
		d.reference = clone(frame)
		return score, true
	}
	return score, false
}

func (d *Differencer) Reset() {
	d.mu.Lock()
	d.reference = nil
	d.mu.Unlock()
}

// Score is the mean over every stride-th pixel of the average absolute RGB channel delta,
// in [0, 255]. a and b must have the same size.
func Score(a, b *image.RGBA, stride int) float64 {
	if stride <= 0 {
		stride = 1
	}
	size := a.Rect.Size()
	n := size.X * size.Y
	if n == 0 || b.Rect.Size() != size {
		return 0
	}

	var total float64
	samples := 0
	for i := 0; i < n; i += stride {
		x, y := i%size.X, i/size.X
		pa := a.PixOffset(a.Rect.Min.X+x, a.Rect.Min.Y+y)
		pb := b.PixOffset(b.Rect.Min.X+x, b.Rect.Min.Y+y)
		dr := absDiff(a.Pix[pa], b.Pix[pb])
		dg := absDiff(a.Pix[pa+1], b.Pix[pb+1])
		db := absDiff(a.Pix[pa+2], b.Pix[pb+2])
		total += float64(dr+dg+db) / 3
		samples++
	}
	return total / float64(samples)
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func clone(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy()))
	draw.Copy(dst, image.Point{}, src, src.Rect, draw.Src, nil)
	return dst
}

// Downscale renders img into a w×h RGBA frame for differencing.
func Downscale(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Rect, img, img.Bounds(), draw.Src, nil)
	return dst
}
