package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerAddr != ":8080" || cfg.Client.ControlAddr != ":8090" {
		t.Errorf("addresses = %s, %s", cfg.ServerAddr, cfg.Client.ControlAddr)
	}
	if cfg.RateLimit.MaxPerWindow != 3 || cfg.RateLimit.Window != time.Minute || cfg.RateLimit.MinSpacing != 15*time.Second {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.Cache.TTL != 5*time.Minute || cfg.Cache.MaxEntries != 50 || cfg.Cache.SweepProbability != 0.1 {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Queue.SaturationThreshold != 5 || cfg.Queue.Pacing != 3*time.Second || cfg.Queue.Timeout != 30*time.Second {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.FingerprintPrefix != 100 {
		t.Errorf("fingerprint prefix = %d", cfg.FingerprintPrefix)
	}
	cl := cfg.Client
	if cl.PollInterval != 500*time.Millisecond || cl.MotionThreshold != 50 || cl.MotionStride != 8 {
		t.Errorf("motion = %+v", cl)
	}
	if cl.MinInterval != 5*time.Second || cl.StaticCooldown != 8*time.Second || cl.ReplayInterval != 3*time.Second {
		t.Errorf("cooldowns = %+v", cl)
	}
	if cl.UploadMaxDimension != 320 || cl.UploadQuality != 30 {
		t.Errorf("upload = %d, %d", cl.UploadMaxDimension, cl.UploadQuality)
	}
	if cl.FallbackDecrement != 0.2 || cl.FallbackFloor != 0.5 || cl.DefaultRetryWait != 15*time.Second {
		t.Errorf("fallback = %+v", cl)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("RATE_LIMIT_MAX_PER_WINDOW", "10")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("CACHE_SWEEP_PROBABILITY", "0.5")
	t.Setenv("AUTO_START", "true")
	t.Setenv("MOTION_THRESHOLD", "not-a-number")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimit.MaxPerWindow != 10 || cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.Cache.SweepProbability != 0.5 {
		t.Errorf("sweep probability = %v", cfg.Cache.SweepProbability)
	}
	if !cfg.Client.AutoStart {
		t.Error("auto start should be enabled")
	}
	if cfg.Client.MotionThreshold != 50 {
		t.Errorf("unparsable value should fall back to the default, got %v", cfg.Client.MotionThreshold)
	}
}

func TestLoadConfig_FileWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server_addr: ":9000"
backend:
  provider: ollama
  model: llava
rate_limit:
  max_per_window: 7
  min_spacing: 2s
client:
  gateway_url: http://gateway:9000
  static_cooldown: 12s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RATE_LIMIT_MAX_PER_WINDOW", "4")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerAddr != ":9000" || cfg.Backend.Model != "llava" {
		t.Errorf("file values not applied: %s %s", cfg.ServerAddr, cfg.Backend.Model)
	}
	if cfg.RateLimit.MaxPerWindow != 4 {
		t.Errorf("env should override the file, got %d", cfg.RateLimit.MaxPerWindow)
	}
	if cfg.RateLimit.MinSpacing != 2*time.Second {
		t.Errorf("min spacing = %v", cfg.RateLimit.MinSpacing)
	}
	if cfg.Client.GatewayURL != "http://gateway:9000" || cfg.Client.StaticCooldown != 12*time.Second {
		t.Errorf("client = %+v", cfg.Client)
	}
	if cfg.Cache.MaxEntries != 50 {
		t.Errorf("unset values should still get defaults, got %d", cfg.Cache.MaxEntries)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown provider",
			env:     map[string]string{"BACKEND": "gemini"},
			wantErr: "backend.provider",
		},
		{
			name:    "openai without key",
			env:     map[string]string{"BACKEND": "openai"},
			wantErr: "api_key",
		},
		{
			name:    "sweep probability out of range",
			env:     map[string]string{"CACHE_SWEEP_PROBABILITY": "1.5"},
			wantErr: "sweep_probability",
		},
		{
			name:    "upload quality out of range",
			env:     map[string]string{"UPLOAD_JPEG_QUALITY": "150"},
			wantErr: "upload_jpeg_quality",
		},
		{
			name:    "missing file",
			env:     map[string]string{"CONFIG_FILE": "/nonexistent/config.yaml"},
			wantErr: "read config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			t.Setenv("OPENAI_API_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug": "DEBUG",
		"WARN":  "WARN",
		"error": "ERROR",
		"":      "INFO",
		"noisy": "INFO",
	}
	for in, want := range tests {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseICEServers(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"stun:a.example.com, turn:b.example.com", []string{"stun:a.example.com", "turn:b.example.com"}},
		{" , ", []string{defaultSTUNServer}},
		{"none", []string{}},
	}
	for _, tt := range tests {
		got := parseICEServers(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("parseICEServers(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseICEServers(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestLoadConfig_RTCPortRange(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("RTC_PORT_MIN", "20000")
	t.Setenv("RTC_PORT_MAX", "10000")

	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "rtc_port_max") {
		t.Errorf("err = %v, want port range error", err)
	}
}
