package vision

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
)

// FrameCapturer reassembles camera RTP packets into video samples, decodes at most one
// sample per capture interval and stores it as JPEG.
type FrameCapturer struct {
	store       *Store
	streamID    string
	logger      *slog.Logger
	captureRate time.Duration
	quality     int
	decoder     VideoDecoder
	clock       clock.Clock

	mu            sync.Mutex
	sampleBuilder *samplebuilder.SampleBuilder
	lastCapture   time.Time
	mimeType      string
	stopped       bool

	stored  atomic.Int64
	dropped atomic.Int64
}

type CapturerConfig struct {
	StreamID    string
	Store       *Store
	Decoder     VideoDecoder
	CaptureRate time.Duration
	JPEGQuality int
	Clock       clock.Clock
	Logger      *slog.Logger
}

type CapturerStats struct {
	Stored  int64 `json:"stored"`
	Dropped int64 `json:"dropped"`
}

func NewFrameCapturer(cfg CapturerConfig) *FrameCapturer {
	if cfg.CaptureRate == 0 {
		cfg.CaptureRate = 250 * time.Millisecond
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 80
	}
	if cfg.Decoder == nil {
		cfg.Decoder = NewVPXDecoder()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &FrameCapturer{
		store:       cfg.Store,
		streamID:    cfg.StreamID,
		logger:      cfg.Logger.With("component", "frame-capturer", "stream_id", cfg.StreamID),
		captureRate: cfg.CaptureRate,
		quality:     cfg.JPEGQuality,
		decoder:     cfg.Decoder,
		clock:       cfg.Clock,
	}
}

func (c *FrameCapturer) HandleRTPPacket(pkt *rtp.Packet, mimeType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || pkt == nil {
		return
	}

	if c.sampleBuilder == nil || c.mimeType != mimeType {
		c.mimeType = mimeType
		c.sampleBuilder = c.createSampleBuilder(mimeType)
		if c.sampleBuilder == nil {
			return
		}
	}

	c.sampleBuilder.Push(pkt)

	for {
		sample := c.sampleBuilder.Pop()
		if sample == nil {
			break
		}

		now := c.clock.Now()
		if now.Sub(c.lastCapture) < c.captureRate {
			continue
		}

		c.lastCapture = now
		go c.processFrame(sample.Data, mimeType, now.UnixMilli())
	}
}

func (c *FrameCapturer) createSampleBuilder(mimeType string) *samplebuilder.SampleBuilder {
	switch mimeType {
	case MimeTypeVP8:
		return samplebuilder.New(64, &codecs.VP8Packet{}, 90000)
	case "video/VP9":
		return samplebuilder.New(64, &codecs.VP9Packet{}, 90000)
	case "video/H264":
		return samplebuilder.New(64, &codecs.H264Packet{}, 90000)
	default:
		c.logger.Warn("unsupported video codec", "mime_type", mimeType)
		return nil
	}
}

func (c *FrameCapturer) processFrame(data []byte, mimeType string, timestamp int64) {
	img, err := c.decoder.Decode(data, mimeType)
	if err != nil {
		c.dropped.Add(1)
		if !errors.Is(err, ErrNotKeyFrame) {
			c.logger.Debug("frame decode failed", "error", err)
		}
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		c.dropped.Add(1)
		c.logger.Debug("jpeg encode failed", "error", err)
		return
	}

	frame := &Frame{
		StreamID:  c.streamID,
		Timestamp: timestamp,
		Data:      buf.Bytes(),
		Width:     img.Bounds().Dx(),
		Height:    img.Bounds().Dy(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := c.store.StoreFrame(ctx, frame); err != nil {
		c.dropped.Add(1)
		c.logger.Error("store frame failed", "error", err)
		return
	}
	c.stored.Add(1)
}

func (c *FrameCapturer) Stats() CapturerStats {
	return CapturerStats{Stored: c.stored.Load(), Dropped: c.dropped.Load()}
}

func (c *FrameCapturer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	c.decoder.Close()
}
