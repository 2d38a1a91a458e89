package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/benbjohnson/clock"
)

// StoreSource reads the newest frame of one stream out of the Store. A stream whose last
// frame is older than staleAfter reports zero dimensions, which holds the scheduler in its
// waiting state until the camera comes back.
type StoreSource struct {
	store      *Store
	streamID   string
	staleAfter time.Duration
	clock      clock.Clock
}

func NewStoreSource(store *Store, streamID string, staleAfter time.Duration, clk clock.Clock) *StoreSource {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	return &StoreSource{
		store:      store,
		streamID:   streamID,
		staleAfter: staleAfter,
		clock:      clk,
	}
}

func (s *StoreSource) Dimensions(ctx context.Context) (int, int, error) {
	w, h, at, err := s.store.Dimensions(ctx, s.streamID)
	if err != nil {
		return 0, 0, err
	}
	if at.IsZero() || s.clock.Since(at) > s.staleAfter {
		return 0, 0, nil
	}
	return w, h, nil
}

func (s *StoreSource) Capture(ctx context.Context) (image.Image, error) {
	frame, err := s.store.GetLatestFrame(ctx, s.streamID)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}
