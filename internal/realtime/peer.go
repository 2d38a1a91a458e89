package realtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

var ErrNoVideo = errors.New("offer carries no video track")

// Peer is one camera connection. Every video packet it receives goes to the sink.
type Peer struct {
	ID string

	pc               *webrtc.PeerConnection
	sink             PacketSink
	keyframeInterval time.Duration
	log              *slog.Logger

	packets atomic.Int64

	mu       sync.Mutex
	closed   bool
	done     chan struct{}
	onClose  func()
	closeErr error
}

func newPeer(id string, pc *webrtc.PeerConnection, sink PacketSink, keyframeInterval time.Duration, log *slog.Logger) *Peer {
	p := &Peer{
		ID:               id,
		pc:               pc,
		sink:             sink,
		keyframeInterval: keyframeInterval,
		log:              log.With("session_id", id),
		done:             make(chan struct{}),
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		p.log.Info("camera track received", "codec", track.Codec().MimeType)
		go p.requestKeyframes(uint32(track.SSRC()))
		go p.readVideo(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("camera connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			_ = p.Close()
		}
	})

	return p
}

// answer applies the remote offer and returns the local answer once ICE gathering has
// finished, so the caller never has to trickle candidates.
func (p *Peer) answer(ctx context.Context, offerSDP string) (string, error) {
	if !strings.Contains(offerSDP, "m=video") {
		return "", ErrNoVideo
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		return "", err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *Peer) readVideo(track *webrtc.TrackRemote) {
	mimeType := track.Codec().MimeType
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			p.log.Debug("camera track ended", "error", err)
			return
		}
		p.packets.Add(1)
		if p.sink != nil {
			p.sink.HandleRTPPacket(pkt, mimeType)
		}
	}
}

func (p *Peer) requestKeyframes(ssrc uint32) {
	ticker := time.NewTicker(p.keyframeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
				return
			}
		}
	}
}

func (p *Peer) Packets() int64 {
	return p.packets.Load()
}

func (p *Peer) onClosed(fn func()) {
	p.mu.Lock()
	p.onClose = fn
	p.mu.Unlock()
}

func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.closeErr
	}
	p.closed = true
	close(p.done)
	fn := p.onClose
	p.mu.Unlock()

	err := p.pc.Close()
	p.mu.Lock()
	p.closeErr = err
	p.mu.Unlock()

	if fn != nil {
		fn()
	}
	return err
}
