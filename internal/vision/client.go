package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eleven-am/vision-guide/internal/analysis"
	"github.com/eleven-am/vision-guide/internal/gateway"
)

const defaultGatewayURL = "http://localhost:8080"

// GatewayError is a non-2xx answer from the analysis gateway. The gateway only does that
// for malformed requests, so it usually means a client bug or a proxy in the way.
type GatewayError struct {
	Code int
	Body string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.Code, e.Body)
}

// GatewayClient posts frames to the analysis gateway's HTTP API.
type GatewayClient struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
}

func NewGatewayClient(cfg Config) *GatewayClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 45 * time.Second
	}
	baseURL := strings.TrimRight(cfg.GatewayURL, "/")
	if baseURL == "" {
		baseURL = defaultGatewayURL
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	return &GatewayClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		clientID:   clientID,
	}
}

func (c *GatewayClient) ClientID() string {
	return c.clientID
}

func (c *GatewayClient) Analyze(ctx context.Context, payload []byte) (analysis.Envelope, error) {
	if len(payload) == 0 {
		return analysis.Envelope{}, fmt.Errorf("no frame data provided")
	}

	body, err := json.Marshal(gateway.AnalyzeRequest{Image: payload})
	if err != nil {
		return analysis.Envelope{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return analysis.Envelope{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(gateway.HeaderClientID, c.clientID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return analysis.Envelope{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return analysis.Envelope{}, &GatewayError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var env analysis.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return analysis.Envelope{}, fmt.Errorf("decode response: %w", err)
	}
	env.Result = analysis.Normalize(env.Result)
	return env, nil
}

func (c *GatewayClient) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
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
