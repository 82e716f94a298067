package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	BackendOllama  = "ollama"
	BackendOpenAI  = "openai"
	BackendProcess = "process"
)

const (
	DefaultModel       = "gemma3:1b"
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOpenAIURL   = "http://localhost:11434/v1/"
	DefaultLlamaBinary = "llama-cli"
	DefaultTimeout     = 2 * time.Minute
)

// Backend delivers a prompt to a model and returns its raw text answer.
// Failures come back as *TransportError or ErrEmptyOutput.
type Backend interface {
	Name() string
	Submit(ctx context.Context, prompt string) (string, error)
}

// UsageReporter is implemented by backends that learn token counts
type UsageReporter interface {
	Usage() TokenStats
}

// Backends lists the accepted backend names
func Backends() []string {
	return []string{BackendOllama, BackendOpenAI, BackendProcess}
}

// NewBackend creates the backend named by config.Backend, ollama when empty
func NewBackend(config Config, logger *slog.Logger) (Backend, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}

	switch strings.ToLower(config.Backend) {
	case "", BackendOllama:
		return NewOllamaBackend(config), nil
	case BackendOpenAI:
		return NewOpenAIBackend(config, logger), nil
	case BackendProcess:
		return NewProcessBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend %q (expected one of %s)", config.Backend, strings.Join(Backends(), ", "))
	}
}
