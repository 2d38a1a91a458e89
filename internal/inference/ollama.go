package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eleven-am/vision-guide/internal/analysis"
)

type Ollama struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

func NewOllama(cfg Config) *Ollama {
	baseURL := cfg.OllamaURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "qwen2.5vl"
	}
	return &Ollama{
		httpClient: newHTTPClient(cfg.Timeout),
		baseURL:    baseURL,
		model:      model,
	}
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images,omitempty"`
	Format  string         `json:"format,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *Ollama) Name() string { return ProviderOllama }

func (c *Ollama) Analyze(ctx context.Context, req analysis.Request) (analysis.Result, error) {
	if len(req.Payload) == 0 {
		return analysis.Result{}, ErrEmptyPayload
	}

	body, err := json.Marshal(ollamaRequest{
		Model:   c.model,
		Prompt:  Instruction,
		Images:  []string{encode(req.Payload)},
		Format:  "json",
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return analysis.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return analysis.Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return analysis.Result{}, statusError("ollama", resp.StatusCode, raw)
	}

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return analysis.Result{}, fmt.Errorf("decode response: %w", err)
	}
	if ollamaResp.Response == "" {
		return analysis.Result{}, ErrEmptyContent
	}

	return analysis.Parse([]byte(ollamaResp.Response))
}

func (c *Ollama) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func encode(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}
