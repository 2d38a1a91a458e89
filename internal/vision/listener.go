package vision

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/pion/rtp"
)

const maxRTPPacketSize = 1500

// RTPListener receives the camera's RTP stream over UDP and feeds it to a FrameCapturer.
type RTPListener struct {
	addr     string
	mimeType string
	capturer *FrameCapturer
	logger   *slog.Logger

	mu   sync.Mutex
	conn net.PacketConn
	done chan struct{}
}

func NewRTPListener(addr, mimeType string, capturer *FrameCapturer, logger *slog.Logger) *RTPListener {
	if mimeType == "" {
		mimeType = MimeTypeVP8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RTPListener{
		addr:     addr,
		mimeType: mimeType,
		capturer: capturer,
		logger:   logger.With("component", "rtp-listener", "addr", addr),
	}
}

func (l *RTPListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}

	conn, err := net.ListenPacket("udp", l.addr)
	if err != nil {
		return err
	}
	l.conn = conn
	l.done = make(chan struct{})
	go l.serve(conn, l.done)

	l.logger.Info("rtp listener started", "local", conn.LocalAddr().String(), "mime_type", l.mimeType)
	return nil
}

func (l *RTPListener) serve(conn net.PacketConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, maxRTPPacketSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("rtp read failed", "error", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(data); err != nil {
			l.logger.Debug("dropping malformed rtp packet", "error", err)
			continue
		}
		l.capturer.HandleRTPPacket(pkt, l.mimeType)
	}
}

// Addr is the bound local address, useful when listening on port 0.
func (l *RTPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

func (l *RTPListener) Stop() error {
	l.mu.Lock()
	conn, done := l.conn, l.done
	l.conn = nil
	l.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	l.capturer.Stop()
	return err
}
