package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/eleven-am/vision-guide/internal/analysis"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

var (
	ErrEmptyPayload = errors.New("no image payload provided")
	ErrEmptyContent = errors.New("backend returned no content")
	ErrNoAPIKey     = errors.New("api key not configured")
)

// StatusError is a non-2xx answer from the backend. Body holds a bounded prefix of the
// response so overload markers like rate_limit_exceeded survive into the error text.
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Backend, e.Code)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Backend, e.Code, e.Body)
}

type Backend interface {
	Analyze(ctx context.Context, req analysis.Request) (analysis.Result, error)
	IsAvailable(ctx context.Context) bool
	Name() string
}

type Config struct {
	Provider  string
	OllamaURL string
	OpenAIURL string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

func New(cfg Config) (Backend, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOllama:
		return NewOllama(cfg), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai backend: %w", ErrNoAPIKey)
		}
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// dataURL renders payload the way chat-completion APIs expect inline images.
func dataURL(payload []byte) string {
	mime := http.DetectContentType(payload)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + encode(payload)
}

func statusError(backend string, code int, body []byte) error {
	const maxBody = 256
	text := strings.TrimSpace(string(body))
	if len(text) > maxBody {
		text = text[:maxBody]
	}
	return &StatusError{Backend: backend, Code: code, Body: text}
}
