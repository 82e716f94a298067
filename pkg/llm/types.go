package llm

import (
	"sync"
	"time"
)

// Config holds the configuration for a model backend
type Config struct {
	Backend     string        `json:"backend"`     // ollama, openai or process
	Model       string        `json:"model"`       // Model name served by the backend (e.g., "gemma3:1b")
	BaseURL     string        `json:"base_url"`    // Server root for ollama, API base for openai
	APIKey      string        `json:"api_key"`     // Only sent by the openai backend
	Timeout     time.Duration `json:"timeout"`     // Per-call timeout
	Temperature *float32      `json:"temperature"` // nil leaves the backend default
	MaxTokens   int           `json:"max_tokens"`  // 0 leaves the backend default

	// Process backend
	Binary    string   `json:"binary"`     // Model runtime executable (default: llama-cli)
	ModelPath string   `json:"model_path"` // Model file passed with -m
	Args      []string `json:"args"`       // Replaces the generated argument list when set
}

// TokenUsage represents token usage reported for a single call
type TokenUsage struct {
	Timestamp        string `json:"timestamp"`
	Model            string `json:"model"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// TokenStats tracks cumulative token usage across all calls
type TokenStats struct {
	TotalPromptTokens     int64 `json:"total_prompt_tokens"`
	TotalCompletionTokens int64 `json:"total_completion_tokens"`
	TotalTokens           int64 `json:"total_tokens"`
	CallCount             int64 `json:"call_count"`
}

type usageTracker struct {
	mu    sync.Mutex
	stats TokenStats
}

func (u *usageTracker) record(usage TokenUsage) {
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	u.mu.Lock()
	u.stats.TotalPromptTokens += usage.PromptTokens
	u.stats.TotalCompletionTokens += usage.CompletionTokens
	u.stats.TotalTokens += usage.TotalTokens
	u.stats.CallCount++
	u.mu.Unlock()
}

// Usage returns current token usage statistics
func (u *usageTracker) Usage() TokenStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}

func newTokenUsage(model string, prompt, completion, total int64) TokenUsage {
	return TokenUsage{
		Timestamp:        time.Now().Format(time.RFC3339),
		Model:            model,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}
