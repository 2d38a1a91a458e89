package vision

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func testImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func jpegBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStoreSource(t *testing.T) {
	store, _ := newTestStore(t, 4)
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	src := NewStoreSource(store, "cam", 5*time.Second, mock)
	ctx := context.Background()

	if w, h, err := src.Dimensions(ctx); err != nil || w != 0 || h != 0 {
		t.Fatalf("before first frame: %dx%d, %v", w, h, err)
	}

	err := store.StoreFrame(ctx, &Frame{
		StreamID:  "cam",
		Timestamp: mock.Now().UnixMilli(),
		Data:      jpegBytes(t, testImage(64, 48, color.RGBA{R: 200, A: 255})),
		Width:     64,
		Height:    48,
	})
	if err != nil {
		t.Fatal(err)
	}

	w, h, err := src.Dimensions(ctx)
	if err != nil || w != 64 || h != 48 {
		t.Fatalf("dimensions = %dx%d, %v", w, h, err)
	}

	img, err := src.Capture(ctx)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Errorf("captured %v", img.Bounds())
	}

	mock.Add(6 * time.Second)
	if w, h, _ := src.Dimensions(ctx); w != 0 || h != 0 {
		t.Errorf("stale stream should not be ready, got %dx%d", w, h)
	}
}

func TestStoreSource_CorruptFrame(t *testing.T) {
	store, _ := newTestStore(t, 4)
	src := NewStoreSource(store, "cam", 0, clock.NewMock())
	ctx := context.Background()

	store.StoreFrame(ctx, &Frame{StreamID: "cam", Timestamp: 1, Data: []byte("not a jpeg")})
	if _, err := src.Capture(ctx); err == nil {
		t.Error("expected a decode error")
	}
}

func TestEncodeUpload(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"landscape", 640, 480, 320, 240},
		{"portrait", 480, 1280, 120, 320},
		{"already small", 200, 100, 200, 100},
		{"thin", 2000, 2, 320, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeUpload(testImage(tt.w, tt.h, color.RGBA{G: 120, A: 255}), 320, 30)
			if err != nil {
				t.Fatal(err)
			}
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("output is not a jpeg: %v", err)
			}
			if cfg.Width != tt.wantW || cfg.Height != tt.wantH {
				t.Errorf("got %dx%d, want %dx%d", cfg.Width, cfg.Height, tt.wantW, tt.wantH)
			}
		})
	}

	if _, err := EncodeUpload(nil, 320, 30); err == nil {
		t.Error("nil image should fail")
	}
}
