package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config covers both binaries. Values come from the optional CONFIG_FILE first, then
// environment variables override them, then defaults fill whatever is still unset.
type Config struct {
	ServerAddr string `yaml:"server_addr"`
	GRPCAddr   string `yaml:"grpc_addr"`
	LogLevel   string `yaml:"log_level"`
	BodyLimit  string `yaml:"body_limit"`

	FingerprintPrefix int           `yaml:"fingerprint_prefix_bytes"`
	AwaitTimeout      time.Duration `yaml:"await_timeout"`

	Backend   BackendConfig   `yaml:"backend"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Queue     QueueConfig     `yaml:"queue"`
	Redis     RedisConfig     `yaml:"redis"`
	Client    ClientConfig    `yaml:"client"`
}

type BackendConfig struct {
	Provider  string        `yaml:"provider"`
	OllamaURL string        `yaml:"ollama_url"`
	OpenAIURL string        `yaml:"openai_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	MaxPerWindow int           `yaml:"max_per_window"`
	Window       time.Duration `yaml:"window"`
	MinSpacing   time.Duration `yaml:"min_spacing"`
}

type CacheConfig struct {
	TTL              time.Duration `yaml:"ttl"`
	MaxEntries       int           `yaml:"max_entries"`
	SweepProbability float64       `yaml:"sweep_probability"`
}

type QueueConfig struct {
	SaturationThreshold int           `yaml:"saturation_threshold"`
	Pacing              time.Duration `yaml:"pacing"`
	Timeout             time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ClientConfig struct {
	ControlAddr string `yaml:"control_addr"`
	AutoStart   bool   `yaml:"auto_start"`

	GatewayURL     string        `yaml:"gateway_url"`
	ClientID       string        `yaml:"client_id"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	StreamID    string        `yaml:"stream_id"`
	RTPAddr     string        `yaml:"rtp_addr"`
	Codec       string        `yaml:"codec"`
	CaptureRate time.Duration `yaml:"capture_rate"`
	JPEGQuality int           `yaml:"jpeg_quality"`
	FrameTTL    time.Duration `yaml:"frame_ttl"`
	MaxFrames   int64         `yaml:"max_frames"`
	StaleAfter  time.Duration `yaml:"stale_after"`

	PollInterval    time.Duration `yaml:"poll_interval"`
	MotionThreshold float64       `yaml:"motion_threshold"`
	MotionStride    int           `yaml:"motion_stride"`
	MinInterval     time.Duration `yaml:"min_analysis_interval"`
	StaticCooldown  time.Duration `yaml:"static_cooldown"`
	ReplayInterval  time.Duration `yaml:"replay_interval"`
	ReadyTimeout    time.Duration `yaml:"ready_timeout"`

	UploadMaxDimension int           `yaml:"upload_max_dimension"`
	UploadQuality      int           `yaml:"upload_jpeg_quality"`
	FallbackDecrement  float64       `yaml:"fallback_decrement"`
	FallbackFloor      float64       `yaml:"fallback_floor"`
	DefaultRetryWait   time.Duration `yaml:"default_retry_wait"`

	ControlRatePerSecond float64 `yaml:"control_rate_per_second"`
	ControlBurst         int     `yaml:"control_burst"`

	RTCICEServers       []string      `yaml:"rtc_ice_servers"`
	RTCPortMin          int           `yaml:"rtc_port_min"`
	RTCPortMax          int           `yaml:"rtc_port_max"`
	RTCKeyframeInterval time.Duration `yaml:"rtc_keyframe_interval"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ServerAddr = getEnv("SERVER_ADDR", c.ServerAddr)
	c.GRPCAddr = getEnv("GRPC_ADDR", c.GRPCAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.BodyLimit = getEnv("BODY_LIMIT", c.BodyLimit)
	c.FingerprintPrefix = getEnvInt("FINGERPRINT_PREFIX_BYTES", c.FingerprintPrefix)
	c.AwaitTimeout = getEnvDuration("AWAIT_TIMEOUT", c.AwaitTimeout)

	c.Backend.Provider = getEnv("BACKEND", c.Backend.Provider)
	c.Backend.OllamaURL = getEnv("OLLAMA_URL", c.Backend.OllamaURL)
	c.Backend.OpenAIURL = getEnv("OPENAI_URL", c.Backend.OpenAIURL)
	c.Backend.APIKey = getEnv("OPENAI_API_KEY", c.Backend.APIKey)
	c.Backend.Model = getEnv("VISION_MODEL", c.Backend.Model)
	c.Backend.MaxTokens = getEnvInt("MAX_TOKENS", c.Backend.MaxTokens)
	c.Backend.Timeout = getEnvDuration("BACKEND_HTTP_TIMEOUT", c.Backend.Timeout)

	c.RateLimit.MaxPerWindow = getEnvInt("RATE_LIMIT_MAX_PER_WINDOW", c.RateLimit.MaxPerWindow)
	c.RateLimit.Window = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimit.Window)
	c.RateLimit.MinSpacing = getEnvDuration("RATE_LIMIT_MIN_SPACING", c.RateLimit.MinSpacing)

	c.Cache.TTL = getEnvDuration("CACHE_TTL", c.Cache.TTL)
	c.Cache.MaxEntries = getEnvInt("CACHE_MAX_ENTRIES", c.Cache.MaxEntries)
	c.Cache.SweepProbability = getEnvFloat("CACHE_SWEEP_PROBABILITY", c.Cache.SweepProbability)

	c.Queue.SaturationThreshold = getEnvInt("QUEUE_SATURATION_THRESHOLD", c.Queue.SaturationThreshold)
	c.Queue.Pacing = getEnvDuration("QUEUE_PACING", c.Queue.Pacing)
	c.Queue.Timeout = getEnvDuration("ANALYSIS_TIMEOUT", c.Queue.Timeout)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	cl := &c.Client
	cl.ControlAddr = getEnv("CONTROL_ADDR", cl.ControlAddr)
	cl.AutoStart = getEnvBool("AUTO_START", cl.AutoStart)
	cl.GatewayURL = getEnv("GATEWAY_URL", cl.GatewayURL)
	cl.ClientID = getEnv("CLIENT_ID", cl.ClientID)
	cl.RequestTimeout = getEnvDuration("GATEWAY_TIMEOUT", cl.RequestTimeout)
	cl.StreamID = getEnv("STREAM_ID", cl.StreamID)
	cl.RTPAddr = getEnv("RTP_ADDR", cl.RTPAddr)
	cl.Codec = getEnv("RTP_CODEC", cl.Codec)
	cl.CaptureRate = getEnvDuration("CAPTURE_RATE", cl.CaptureRate)
	cl.JPEGQuality = getEnvInt("FRAME_JPEG_QUALITY", cl.JPEGQuality)
	cl.FrameTTL = getEnvDuration("FRAME_TTL", cl.FrameTTL)
	cl.MaxFrames = int64(getEnvInt("MAX_FRAMES", int(cl.MaxFrames)))
	cl.StaleAfter = getEnvDuration("FRAME_STALE_AFTER", cl.StaleAfter)
	cl.PollInterval = getEnvDuration("POLL_INTERVAL", cl.PollInterval)
	cl.MotionThreshold = getEnvFloat("MOTION_THRESHOLD", cl.MotionThreshold)
	cl.MotionStride = getEnvInt("MOTION_STRIDE", cl.MotionStride)
	cl.MinInterval = getEnvDuration("MIN_ANALYSIS_INTERVAL", cl.MinInterval)
	cl.StaticCooldown = getEnvDuration("STATIC_COOLDOWN", cl.StaticCooldown)
	cl.ReplayInterval = getEnvDuration("REPLAY_INTERVAL", cl.ReplayInterval)
	cl.ReadyTimeout = getEnvDuration("READY_TIMEOUT", cl.ReadyTimeout)
	cl.UploadMaxDimension = getEnvInt("UPLOAD_MAX_DIMENSION", cl.UploadMaxDimension)
	cl.UploadQuality = getEnvInt("UPLOAD_JPEG_QUALITY", cl.UploadQuality)
	cl.FallbackDecrement = getEnvFloat("FALLBACK_DECREMENT", cl.FallbackDecrement)
	cl.FallbackFloor = getEnvFloat("FALLBACK_FLOOR", cl.FallbackFloor)
	cl.DefaultRetryWait = getEnvDuration("DEFAULT_RETRY_WAIT", cl.DefaultRetryWait)
	cl.ControlRatePerSecond = getEnvFloat("CONTROL_RATE_PER_SECOND", cl.ControlRatePerSecond)
	cl.ControlBurst = getEnvInt("CONTROL_BURST", cl.ControlBurst)
	if v := os.Getenv("RTC_ICE_SERVERS"); v != "" {
		cl.RTCICEServers = parseICEServers(v)
	}
	cl.RTCPortMin = getEnvInt("RTC_PORT_MIN", cl.RTCPortMin)
	cl.RTCPortMax = getEnvInt("RTC_PORT_MAX", cl.RTCPortMax)
	cl.RTCKeyframeInterval = getEnvDuration("RTC_KEYFRAME_INTERVAL", cl.RTCKeyframeInterval)
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = ":50051"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.BodyLimit == "" {
		c.BodyLimit = "8M"
	}
	if c.FingerprintPrefix == 0 {
		c.FingerprintPrefix = 100
	}
	if c.AwaitTimeout == 0 {
		c.AwaitTimeout = 60 * time.Second
	}

	if c.Backend.Provider == "" {
		c.Backend.Provider = "ollama"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 30 * time.Second
	}

	if c.RateLimit.MaxPerWindow == 0 {
		c.RateLimit.MaxPerWindow = 3
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.MinSpacing == 0 {
		c.RateLimit.MinSpacing = 15 * time.Second
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 50
	}
	if c.Cache.SweepProbability == 0 {
		c.Cache.SweepProbability = 0.1
	}

	if c.Queue.SaturationThreshold == 0 {
		c.Queue.SaturationThreshold = 5
	}
	if c.Queue.Pacing == 0 {
		c.Queue.Pacing = 3 * time.Second
	}
	if c.Queue.Timeout == 0 {
		c.Queue.Timeout = 30 * time.Second
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	cl := &c.Client
	if cl.ControlAddr == "" {
		cl.ControlAddr = ":8090"
	}
	if cl.GatewayURL == "" {
		cl.GatewayURL = "http://localhost:8080"
	}
	if cl.RequestTimeout == 0 {
		cl.RequestTimeout = 45 * time.Second
	}
	if cl.StreamID == "" {
		cl.StreamID = "camera"
	}
	if cl.RTPAddr == "" {
		cl.RTPAddr = ":5004"
	}
	if cl.Codec == "" {
		cl.Codec = "video/VP8"
	}
	if cl.CaptureRate == 0 {
		cl.CaptureRate = 250 * time.Millisecond
	}
	if cl.JPEGQuality == 0 {
		cl.JPEGQuality = 80
	}
	if cl.FrameTTL == 0 {
		cl.FrameTTL = time.Minute
	}
	if cl.MaxFrames == 0 {
		cl.MaxFrames = 8
	}
	if cl.StaleAfter == 0 {
		cl.StaleAfter = 10 * time.Second
	}
	if cl.PollInterval == 0 {
		cl.PollInterval = 500 * time.Millisecond
	}
	if cl.MotionThreshold == 0 {
		cl.MotionThreshold = 50
	}
	if cl.MotionStride == 0 {
		cl.MotionStride = 8
	}
	if cl.MinInterval == 0 {
		cl.MinInterval = 5 * time.Second
	}
	if cl.StaticCooldown == 0 {
		cl.StaticCooldown = 8 * time.Second
	}
	if cl.ReplayInterval == 0 {
		cl.ReplayInterval = 3 * time.Second
	}
	if cl.ReadyTimeout == 0 {
		cl.ReadyTimeout = 15 * time.Second
	}
	if cl.UploadMaxDimension == 0 {
		cl.UploadMaxDimension = 320
	}
	if cl.UploadQuality == 0 {
		cl.UploadQuality = 30
	}
	if cl.FallbackDecrement == 0 {
		cl.FallbackDecrement = 0.2
	}
	if cl.FallbackFloor == 0 {
		cl.FallbackFloor = 0.5
	}
	if cl.DefaultRetryWait == 0 {
		cl.DefaultRetryWait = 15 * time.Second
	}
	if cl.ControlRatePerSecond == 0 {
		cl.ControlRatePerSecond = 2
	}
	if cl.ControlBurst == 0 {
		cl.ControlBurst = 5
	}
	if cl.RTCICEServers == nil {
		cl.RTCICEServers = []string{defaultSTUNServer}
	}
	if cl.RTCKeyframeInterval == 0 {
		cl.RTCKeyframeInterval = time.Second
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Backend.Provider) {
	case "ollama", "openai":
	default:
		return fmt.Errorf("backend.provider must be ollama or openai, got %q", c.Backend.Provider)
	}
	if strings.EqualFold(c.Backend.Provider, "openai") && c.Backend.APIKey == "" {
		return fmt.Errorf("backend.api_key is required for the openai provider")
	}
	if c.RateLimit.MaxPerWindow < 1 {
		return fmt.Errorf("rate_limit.max_per_window must be at least 1")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.MinSpacing < 0 {
		return fmt.Errorf("rate_limit durations must not be negative")
	}
	if c.Cache.TTL <= 0 || c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.ttl and cache.max_entries must be positive")
	}
	if c.Cache.SweepProbability < 0 || c.Cache.SweepProbability > 1 {
		return fmt.Errorf("cache.sweep_probability must be within [0, 1]")
	}
	if c.Queue.SaturationThreshold < 0 || c.Queue.Pacing < 0 || c.Queue.Timeout <= 0 {
		return fmt.Errorf("queue settings must not be negative")
	}
	if c.Client.FallbackFloor < 0 || c.Client.FallbackFloor > 1 {
		return fmt.Errorf("client.fallback_floor must be within [0, 1]")
	}
	if c.Client.RTCPortMin != 0 && c.Client.RTCPortMax <= c.Client.RTCPortMin {
		return fmt.Errorf("client.rtc_port_max must be greater than client.rtc_port_min")
	}
	if c.Client.UploadQuality < 1 || c.Client.UploadQuality > 100 {
		return fmt.Errorf("client.upload_jpeg_quality must be within [1, 100]")
	}
	return nil
}

const defaultSTUNServer = "stun:stun.l.google.com:19302"

// parseICEServers splits a comma separated list. "none" disables ICE servers entirely,
// leaving host candidates only.
func parseICEServers(value string) []string {
	if strings.EqualFold(strings.TrimSpace(value), "none") {
		return []string{}
	}
	var servers []string
	for _, url := range strings.Split(value, ",") {
		url = strings.TrimSpace(url)
		if url != "" {
			servers = append(servers, url)
		}
	}
	if len(servers) == 0 {
		return []string{defaultSTUNServer}
	}
	return servers
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
