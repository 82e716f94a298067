package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/noperator/vulnscan/pkg/llm"
	"github.com/noperator/vulnscan/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	goleak.VerifyTestMain(m)
}

var startLinePattern = regexp.MustCompile(`starts at line (\d+) of`)

// fakeBackend answers each prompt with a finding on the chunk's first line
// unless failures maps that start line to an error
type fakeBackend struct {
	mu       sync.Mutex
	prompts  []string
	failures map[int]error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Submit(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := startLineOf(prompt)
	if err := f.failures[start]; err != nil {
		return "", err
	}
	return fmt.Sprintf("Line %d: issue", start), nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func startLineOf(prompt string) int {
	m := startLinePattern.FindStringSubmatch(prompt)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func sourceLines(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "int v%d = %d;\n", i, i)
	}
	return b.String()
}

func newTestPipeline(backend llm.Backend, config PipelineConfig) (*Pipeline, *bytes.Buffer) {
	var out bytes.Buffer
	return NewPipeline(backend, nil, config, &out, logging.Discard()), &out
}

func chunkedConfig(t *testing.T) PipelineConfig {
	return PipelineConfig{
		MaxLines:   50,
		Threshold:  50,
		OutputPath: filepath.Join(t.TempDir(), "report.txt"),
		Format:     FormatText,
	}
}

func TestAnalyzeSmallFileIsSingleCall(t *testing.T) {
	backend := &fakeBackend{}
	config := chunkedConfig(t)
	p, out := newTestPipeline(backend, config)

	code := sourceLines(10)
	report, err := p.Analyze(context.Background(), "small.c", code)
	require.NoError(t, err)

	assert.Equal(t, ModeSingle, report.Mode)
	assert.Equal(t, 10, report.Lines)
	require.Equal(t, 1, backend.calls())
	assert.Contains(t, backend.prompts[0], strings.TrimSuffix(code, "\n"))
	assert.Contains(t, out.String(), "--- Vulnerability Analysis ---")
	assert.Contains(t, out.String(), "Line 1: issue")
	assert.NoFileExists(t, config.OutputPath)
}

func TestAnalyzeThresholdBoundary(t *testing.T) {
	tests := []struct {
		name   string
		lines  int
		mode   Mode
		starts []int
	}{
		{"at threshold", 50, ModeSingle, []int{1}},
		{"one over threshold", 51, ModeChunked, []int{1, 51}},
		{"three chunks", 120, ModeChunked, []int{1, 51, 101}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{}
			p, _ := newTestPipeline(backend, chunkedConfig(t))

			report, err := p.Analyze(context.Background(), "f.c", sourceLines(tt.lines))
			require.NoError(t, err)

			assert.Equal(t, tt.mode, report.Mode)
			var starts []int
			for _, r := range report.Results {
				starts = append(starts, r.StartLine)
			}
			assert.Equal(t, tt.starts, starts)
			assert.Equal(t, len(tt.starts), backend.calls())
		})
	}
}

func TestRunChunkedWritesReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.c")
	require.NoError(t, os.WriteFile(path, []byte(sourceLines(120)), 0644))

	backend := &fakeBackend{}
	config := chunkedConfig(t)
	p, out := newTestPipeline(backend, config)

	report, err := p.Run(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	saved, err := os.ReadFile(config.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "Line 1: issue\nLine 51: issue\nLine 101: issue", string(saved))
	assert.Contains(t, out.String(), "[+] Report saved to "+config.OutputPath)
	assert.NotEmpty(t, report.RunID)
}

func TestAnalyzeChunkFailureDoesNotStopOthers(t *testing.T) {
	backend := &fakeBackend{failures: map[int]error{
		51: &llm.TransportError{Backend: "fake", Op: "request", Err: errors.New("connection refused")},
	}}
	config := chunkedConfig(t)
	p, out := newTestPipeline(backend, config)

	report, err := p.Analyze(context.Background(), "f.c", sourceLines(120))
	require.NoError(t, err)

	assert.Equal(t, 3, backend.calls())
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 51, failed[0].StartLine)
	assert.Equal(t, "transport", ErrorKind(failed[0].Err))

	assert.Contains(t, out.String(), "[!] Chunk starting at line 51 failed")
	saved, err := os.ReadFile(config.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "Line 1: issue\nLine 101: issue", string(saved))
}

func TestAnalyzeEmptyOutputIsReportedDistinctly(t *testing.T) {
	backend := &fakeBackend{failures: map[int]error{101: llm.ErrEmptyOutput}}
	p, out := newTestPipeline(backend, chunkedConfig(t))

	report, err := p.Analyze(context.Background(), "f.c", sourceLines(120))
	require.NoError(t, err)

	require.Len(t, report.Failed(), 1)
	assert.Equal(t, "empty_output", ErrorKind(report.Failed()[0].Err))
	assert.Contains(t, out.String(), "Chunk starting at line 101: the model returned empty output")
	assert.NotContains(t, out.String(), "failed")
}

func TestAnalyzeSingleFailurePrintsError(t *testing.T) {
	backend := &fakeBackend{failures: map[int]error{1: llm.ErrEmptyOutput}}
	p, out := newTestPipeline(backend, chunkedConfig(t))

	report, err := p.Analyze(context.Background(), "f.c", sourceLines(5))
	require.NoError(t, err)
	assert.Len(t, report.Failed(), 1)
	assert.Contains(t, out.String(), "[!] The model returned empty output!")
}

func TestAnalyzeEmptyFile(t *testing.T) {
	for _, code := range []string{"", "\n\n", "   \t\n"} {
		t.Run(strconv.Quote(code), func(t *testing.T) {
			backend := &fakeBackend{}
			config := chunkedConfig(t)
			p, out := newTestPipeline(backend, config)

			report, err := p.Analyze(context.Background(), "empty.c", code)
			require.NoError(t, err)

			assert.Equal(t, ModeEmpty, report.Mode)
			assert.Empty(t, report.Results)
			assert.Zero(t, backend.calls())
			assert.Contains(t, out.String(), "Error: file empty.c is empty.")
			assert.NoFileExists(t, config.OutputPath)
		})
	}
}

func TestRunMissingFile(t *testing.T) {
	backend := &fakeBackend{}
	p, _ := newTestPipeline(backend, chunkedConfig(t))

	_, err := p.Run(context.Background(), filepath.Join(t.TempDir(), "missing.c"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Zero(t, backend.calls())
}

func TestAnalyzeJSONReport(t *testing.T) {
	backend := &fakeBackend{failures: map[int]error{51: errors.New("boom")}}
	config := chunkedConfig(t)
	config.Format = FormatJSON
	config.OutputPath = filepath.Join(t.TempDir(), "report.json")
	p, _ := newTestPipeline(backend, config)

	_, err := p.Analyze(context.Background(), "f.c", sourceLines(120))
	require.NoError(t, err)

	saved, err := os.ReadFile(config.OutputPath)
	require.NoError(t, err)

	var decoded struct {
		Mode    string `json:"mode"`
		Backend string `json:"backend"`
		Results []struct {
			StartLine int    `json:"start_line"`
			Text      string `json:"text"`
			Error     string `json:"error"`
			ErrorKind string `json:"error_kind"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(saved, &decoded))
	assert.Equal(t, "chunked", decoded.Mode)
	assert.Equal(t, "fake", decoded.Backend)
	require.Len(t, decoded.Results, 3)
	assert.Equal(t, "Line 1: issue", decoded.Results[0].Text)
	assert.Equal(t, "boom", decoded.Results[1].Error)
	assert.Equal(t, "error", decoded.Results[1].ErrorKind)
}

func TestAnalyzeConcurrentKeepsOrder(t *testing.T) {
	backend := &fakeBackend{}
	config := chunkedConfig(t)
	config.MaxLines = 10
	config.Threshold = 10
	config.Concurrency = 4
	p, _ := newTestPipeline(backend, config)

	report, err := p.Analyze(context.Background(), "f.c", sourceLines(100))
	require.NoError(t, err)
	require.Len(t, report.Results, 10)

	for i, r := range report.Results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, i*10+1, r.StartLine)
		assert.Equal(t, fmt.Sprintf("Line %d: issue", i*10+1), r.Text)
	}
}

func TestAnalyzeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := &fakeBackend{}
	p, _ := newTestPipeline(backend, chunkedConfig(t))

	report, err := p.Analyze(ctx, "f.c", sourceLines(120))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, backend.calls())
	require.Len(t, report.Results, 3)
	for _, r := range report.Results {
		assert.Equal(t, "canceled", ErrorKind(r.Err))
	}
}

func TestAnalyzeDeclarationStrategy(t *testing.T) {
	var b strings.Builder
	for f := 0; f < 3; f++ {
		fmt.Fprintf(&b, "int f%d(void) {\n", f)
		for i := 0; i < 18; i++ {
			fmt.Fprintf(&b, "    int x%d = %d;\n", i, i)
		}
		b.WriteString("}\n")
	}

	backend := &fakeBackend{}
	config := chunkedConfig(t)
	config.MaxLines = 30
	config.Threshold = 10
	config.Strategy = StrategyDeclarations
	p, _ := newTestPipeline(backend, config)

	report, err := p.Analyze(context.Background(), "funcs.c", b.String())
	require.NoError(t, err)

	var starts []int
	for _, r := range report.Results {
		starts = append(starts, r.StartLine)
	}
	assert.Equal(t, []int{1, 21, 41}, starts)
}

func TestAnalyzeNumberedPrompt(t *testing.T) {
	prompts, err := llm.NewPromptBuilder("", true)
	require.NoError(t, err)

	backend := &fakeBackend{}
	var out bytes.Buffer
	p := NewPipeline(backend, prompts, chunkedConfig(t), &out, logging.Discard())

	_, err = p.Analyze(context.Background(), "f.c", sourceLines(60))
	require.NoError(t, err)
	require.Equal(t, 2, backend.calls())

	second := backend.prompts[0]
	if startLineOf(second) != 51 {
		second = backend.prompts[1]
	}
	assert.Contains(t, second, "   51  int v51 = 51;")
}

func TestAnalyzeConsoleLayout(t *testing.T) {
	tests := []struct {
		name  string
		lines int
		want  string
	}{
		{"single", 10, "\n--- Vulnerability Analysis ---\n\nLine 1: issue\n"},
		{"chunked", 120, "\n--- Vulnerability Analysis ---\n\nLine 1: issue\nLine 51: issue\nLine 101: issue\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, out := newTestPipeline(&fakeBackend{}, chunkedConfig(t))

			_, err := p.Analyze(context.Background(), "f.c", sourceLines(tt.lines))
			require.NoError(t, err)
			assert.Contains(t, out.String(), tt.want)
			assert.NotContains(t, out.String(), "---\n\n\n")
		})
	}
}

func TestAnalyzeCanceledWhileRequestInFlight(t *testing.T) {
	tests := []struct {
		name  string
		lines int
		mode  Mode
	}{
		{"single", 10, ModeSingle},
		{"chunked", 120, ModeChunked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			started := make(chan struct{})
			var once sync.Once
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				once.Do(func() { close(started) })
				<-r.Context().Done()
			}))
			t.Cleanup(func() {
				server.Close()
				http.DefaultTransport.(*http.Transport).CloseIdleConnections()
			})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				<-started
				cancel()
			}()

			backend := llm.NewOllamaBackend(llm.Config{BaseURL: server.URL, Model: "m", Timeout: time.Minute})
			p, out := newTestPipeline(backend, chunkedConfig(t))

			report, err := p.Analyze(ctx, "f.c", sourceLines(tt.lines))
			require.Error(t, err)
			assert.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, tt.mode, report.Mode)

			require.NotEmpty(t, report.Results)
			for _, r := range report.Results {
				assert.Equal(t, "canceled", ErrorKind(r.Err), "chunk at line %d: %v", r.StartLine, r.Err)
				assert.ErrorIs(t, r.Err, context.Canceled)
			}
			assert.True(t, llm.IsTransportError(report.Results[0].Err), "the in-flight call keeps its backend context")
			assert.NotContains(t, out.String(), "timed out")
		})
	}
}
