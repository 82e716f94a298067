package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/noperator/vulnscan/pkg/logging"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIBackend talks to any OpenAI-compatible chat completion API
// (Ollama, llama.cpp server and vLLM all expose one)
type OpenAIBackend struct {
	client openai.Client
	config Config
	logger *slog.Logger
	usageTracker
}

// NewOpenAIBackend creates a new chat completion backend
func NewOpenAIBackend(config Config, logger *slog.Logger) *OpenAIBackend {
	if logger == nil {
		logger = logging.NewLoggerFromEnv()
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		// local servers ignore the key but the client always sends one
		apiKey = "local"
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}

	return &OpenAIBackend{
		client: openai.NewClient(opts...),
		config: config,
		logger: logger,
	}
}

func (b *OpenAIBackend) Name() string {
	return fmt.Sprintf("%s:%s", BackendOpenAI, b.config.Model)
}

// Submit sends the prompt as a single user message
func (b *OpenAIBackend) Submit(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withCallTimeout(ctx, b.config.Timeout)
	defer cancel()

	if os.Getenv("VULNSCAN_DEBUG_PROMPTS") == "1" {
		fmt.Fprintf(os.Stderr, "=== PROMPT DEBUG ===\n%s\n=== END PROMPT ===\n", prompt)
	}

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(b.config.Model),
	}
	if b.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(b.config.MaxTokens))
	}
	if b.config.Temperature != nil {
		params.Temperature = openai.Float(float64(*b.config.Temperature))
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", transportError(BackendOpenAI, "request", apiErr.StatusCode, err)
		}
		return "", transportError(BackendOpenAI, "request", 0, callError(ctx, b.config.Timeout, err))
	}

	b.record(newTokenUsage(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens))
	b.logger.Debug("token usage",
		"component", "llm",
		"backend", BackendOpenAI,
		"model", resp.Model,
		"response_id", resp.ID,
		"input_tokens", resp.Usage.PromptTokens,
		"output_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return "", ErrEmptyOutput
	}

	choice := resp.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		if choice.Message.Refusal != "" {
			return "", fmt.Errorf("%w (refusal: %s)", ErrEmptyOutput, choice.Message.Refusal)
		}
		return "", ErrEmptyOutput
	}

	return text, nil
}
