package vision

import "time"

type Config struct {
	GatewayURL string
	ClientID   string
	Timeout    time.Duration

	StreamID  string
	FrameTTL  time.Duration
	MaxFrames int64
	// StaleAfter is how old the newest stored frame may be before the source stops
	// reporting itself ready.
	StaleAfter time.Duration
}

// Frame is one encoded camera frame as it sits in the frame store. Data holds JPEG
// bytes once the capturer has decoded the video sample.
type Frame struct {
	StreamID  string
	Timestamp int64
	Data      []byte
	Width     int
	Height    int
}

func (f *Frame) Time() time.Time {
	return time.UnixMilli(f.Timestamp)
}
