package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const defaultPredictTokens = 512

// ProcessBackend runs a local model runtime (llama.cpp's llama-cli by
// default) once per prompt, feeding the prompt on stdin.
type ProcessBackend struct {
	Binary  string
	Args    []string
	timeout time.Duration
}

// NewProcessBackend resolves the runtime binary and builds its arguments
func NewProcessBackend(config Config) (*ProcessBackend, error) {
	binary := config.Binary
	if binary == "" {
		binary = DefaultLlamaBinary
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("model runtime %q not found: %w", binary, err)
	}

	args := config.Args
	if len(args) == 0 {
		if config.ModelPath == "" {
			return nil, fmt.Errorf("process backend requires a model file (set --llama-model)")
		}
		args = buildRuntimeArgs(config)
	}

	return &ProcessBackend{
		Binary:  path,
		Args:    args,
		timeout: config.Timeout,
	}, nil
}

// buildRuntimeArgs maps the config onto llama-cli flags. The prompt is read
// from stdin through -f.
func buildRuntimeArgs(config Config) []string {
	predict := config.MaxTokens
	if predict <= 0 {
		predict = defaultPredictTokens
	}

	args := []string{
		"-m", config.ModelPath,
		"-n", strconv.Itoa(predict),
	}
	if config.Temperature != nil {
		args = append(args, "--temp", strconv.FormatFloat(float64(*config.Temperature), 'f', -1, 32))
	}
	return append(args, "-no-cnv", "--no-display-prompt", "-f", "/dev/stdin")
}

func (b *ProcessBackend) Name() string {
	return fmt.Sprintf("%s:%s", BackendProcess, b.Binary)
}

// Submit runs the runtime to completion and returns its trimmed stdout
func (b *ProcessBackend) Submit(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withCallTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.Binary, b.Args...)
	cmd.Stdin = strings.NewReader(prompt)
	// children that inherit stdout must not hold Wait open past cancellation
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", transportError(BackendProcess, "exec", 0, callError(ctx, b.timeout, err))
		}
		return "", transportError(BackendProcess, "exec", 0,
			fmt.Errorf("%w (stderr: %s)", err, truncate(strings.TrimSpace(stderr.String()), 500)))
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}
