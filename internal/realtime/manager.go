package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var ErrSessionNotFound = errors.New("camera session not found")

// PacketSink receives the camera's video RTP packets.
type PacketSink interface {
	HandleRTPPacket(pkt *rtp.Packet, mimeType string)
}

// Manager negotiates receive-only camera sessions. Only the newest session feeds the
// sink; accepting a new camera closes the previous one.
type Manager struct {
	cfg  Config
	api  *webrtc.API
	sink PacketSink
	log  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Peer
}

func NewManager(cfg Config, sink PacketSink, log *slog.Logger) (*Manager, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > cfg.PortRange.Min {
		if err := se.SetEphemeralUDPPortRange(uint16(cfg.PortRange.Min), uint16(cfg.PortRange.Max)); err != nil {
			return nil, err
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithSettingEngine(se),
	)

	return &Manager{
		cfg:      cfg,
		api:      api,
		sink:     sink,
		log:      log.With("component", "camera-ingest"),
		sessions: make(map[string]*Peer),
	}, nil
}

// Accept answers a camera's offer and replaces any existing session with the new one.
func (m *Manager) Accept(ctx context.Context, offerSDP string) (string, *Peer, error) {
	pc, err := m.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: m.iceServers(),
	})
	if err != nil {
		return "", nil, err
	}

	id := uuid.NewString()
	peer := newPeer(id, pc, m.sink, m.cfg.KeyframeInterval, m.log)
	peer.onClosed(func() { m.forget(id, peer) })

	ctx, cancel := context.WithTimeout(ctx, m.cfg.GatherTimeout)
	defer cancel()
	answer, err := peer.answer(ctx, offerSDP)
	if err != nil {
		_ = peer.Close()
		return "", nil, err
	}

	m.mu.Lock()
	previous := m.sessions
	m.sessions = map[string]*Peer{id: peer}
	m.mu.Unlock()

	for _, old := range previous {
		m.log.Info("replacing camera session", "session_id", old.ID)
		_ = old.Close()
	}
	m.log.Info("camera session accepted", "session_id", id)
	return answer, peer, nil
}

func (m *Manager) forget(id string, p *Peer) {
	m.mu.Lock()
	if cur, ok := m.sessions[id]; ok && cur == p {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
}

func (m *Manager) Session(id string) (*Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.sessions[id]
	return p, ok
}

func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	p, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return p.Close()
}

// Close tears down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Peer)
	m.mu.Unlock()
	for _, p := range sessions {
		_ = p.Close()
	}
}

func (m *Manager) iceServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(m.cfg.ICEServers))
	for _, s := range m.cfg.ICEServers {
		server := webrtc.ICEServer{
			URLs: s.URLs,
		}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	return servers
}

func (m *Manager) ICEServers() []ICEServerConfig {
	return m.cfg.ICEServers
}

func (m *Manager) Config() Config {
	return m.cfg
}
