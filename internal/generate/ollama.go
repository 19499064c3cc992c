package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// OllamaGenerator calls a local Ollama server's /api/generate endpoint.
type OllamaGenerator struct {
	baseURL    string
	model      string
	httpClient *http.Client
	budget     *Budget
}

// NewOllamaGenerator creates a generator for model. budget may be nil.
func NewOllamaGenerator(baseURL, model string, timeout time.Duration, budget *Budget) *OllamaGenerator {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		budget: budget,
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, c Constraints) (string, error) {
	body := ollamaGenerateRequest{Model: g.model, Prompt: prompt}
	if c.MaxTokens > 0 {
		body.Options = map[string]any{"num_predict": c.MaxTokens}
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(msg))
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	text := strings.TrimSpace(result.Response)
	if text == "" {
		return "", ErrEmptyResponse
	}
	if g.budget != nil {
		text = g.budget.Truncate(text, c.MaxTokens)
	}
	return text, nil
}
