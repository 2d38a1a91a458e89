package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eleven-am/vision-guide/internal/analysis"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
}

func NewOpenAI(cfg Config) *OpenAI {
	baseURL := strings.TrimRight(cfg.OpenAIURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 200
	}
	return &OpenAI{
		httpClient: newHTTPClient(cfg.Timeout),
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		maxTokens:  maxTokens,
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAI) Name() string { return ProviderOpenAI }

func (c *OpenAI) Analyze(ctx context.Context, req analysis.Request) (analysis.Result, error) {
	if len(req.Payload) == 0 {
		return analysis.Result{}, ErrEmptyPayload
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: Instruction},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL(req.Payload)}},
			},
		}},
		ResponseFormat: &responseFormat{Type: "json_object"},
		MaxTokens:      c.maxTokens,
		Temperature:    0,
	})
	if err != nil {
		return analysis.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return analysis.Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return analysis.Result{}, statusError("openai", resp.StatusCode, raw)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return analysis.Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return analysis.Result{}, ErrEmptyContent
	}

	content := bytes.TrimSpace(chatResp.Choices[0].Message.Content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) || bytes.Equal(content, []byte(`""`)) {
		return analysis.Result{}, ErrEmptyContent
	}

	// content is normally a JSON string holding the model text, but some compatible
	// servers return the object itself.
	if content[0] == '"' {
		var text string
		if err := json.Unmarshal(content, &text); err != nil {
			return analysis.Result{}, fmt.Errorf("decode content: %w", err)
		}
		return analysis.Parse([]byte(text))
	}
	return analysis.Parse(content)
}

func (c *OpenAI) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
