package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// OllamaBackend talks to an Ollama server's /api/generate endpoint
type OllamaBackend struct {
	endpoint string
	model    string
	timeout  time.Duration
	options  map[string]any
	client   *http.Client
	usageTracker
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// NewOllamaBackend creates a backend for the server at config.BaseURL
func NewOllamaBackend(config Config) *OllamaBackend {
	base := config.BaseURL
	if base == "" {
		base = DefaultOllamaURL
	}
	endpoint := strings.TrimRight(base, "/")
	if !strings.HasSuffix(endpoint, "/api/generate") {
		endpoint += "/api/generate"
	}

	options := map[string]any{}
	if config.Temperature != nil {
		options["temperature"] = *config.Temperature
	}
	if config.MaxTokens > 0 {
		options["num_predict"] = config.MaxTokens
	}

	return &OllamaBackend{
		endpoint: endpoint,
		model:    config.Model,
		timeout:  config.Timeout,
		options:  options,
		// a fresh request per call; the timeout lives on the context
		client: &http.Client{},
	}
}

func (b *OllamaBackend) Name() string {
	return fmt.Sprintf("%s:%s", BackendOllama, b.model)
}

// Endpoint returns the full generate URL
func (b *OllamaBackend) Endpoint() string {
	return b.endpoint
}

// Submit posts the prompt and returns the trimmed "response" field
func (b *OllamaBackend) Submit(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withCallTimeout(ctx, b.timeout)
	defer cancel()

	payload := generateRequest{
		Model:  b.model,
		Prompt: prompt,
		Stream: false,
	}
	if len(b.options) > 0 {
		payload.Options = b.options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", transportError(BackendOllama, "request", 0, callError(ctx, b.timeout, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(BackendOllama, "read", 0, callError(ctx, b.timeout, err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", transportError(BackendOllama, "request", resp.StatusCode,
			errors.New(truncate(strings.TrimSpace(string(data)), 500)))
	}

	if !gjson.ValidBytes(data) {
		return "", transportError(BackendOllama, "decode", 0,
			fmt.Errorf("malformed JSON response: %s", truncate(string(data), 200)))
	}

	fields := gjson.GetManyBytes(data, "response", "prompt_eval_count", "eval_count", "model")
	if !fields[0].Exists() {
		return "", transportError(BackendOllama, "decode", 0, errors.New(`response has no "response" field`))
	}

	model := fields[3].String()
	if model == "" {
		model = b.model
	}
	b.record(newTokenUsage(model, fields[1].Int(), fields[2].Int(), 0))

	text := strings.TrimSpace(fields[0].String())
	if text == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}
