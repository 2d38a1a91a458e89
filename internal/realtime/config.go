package realtime

import "time"

type Config struct {
	ICEServers []ICEServerConfig
	PortRange  PortRange
	MaxSDPSize int
	// KeyframeInterval is how often a picture loss indication is sent to the camera. The
	// frame decoder only handles keyframes, so this bounds how stale a stored frame can be.
	KeyframeInterval time.Duration
	GatherTimeout    time.Duration
}

type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}

type PortRange struct {
	Min int
	Max int
}

func (c Config) withDefaults() Config {
	if c.MaxSDPSize <= 0 {
		c.MaxSDPSize = 64 * 1024
	}
	if c.KeyframeInterval <= 0 {
		c.KeyframeInterval = time.Second
	}
	if c.GatherTimeout <= 0 {
		c.GatherTimeout = 5 * time.Second
	}
	return c
}
