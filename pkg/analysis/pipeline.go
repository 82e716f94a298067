package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/noperator/vulnscan/pkg/chunker"
	"github.com/noperator/vulnscan/pkg/llm"
	"github.com/noperator/vulnscan/pkg/logging"
	"github.com/noperator/vulnscan/pkg/parser"
	"github.com/schollz/progressbar/v3"
)

const (
	DefaultMaxLines   = 50
	DefaultThreshold  = 50
	DefaultOutputPath = "vulnerability_report.txt"

	StrategyLines        = "lines"
	StrategyDeclarations = "declarations"

	reportHeader = "\n--- Vulnerability Analysis ---"
)

var (
	errorColor = color.New(color.FgRed)
	warnColor  = color.New(color.FgYellow)
	okColor    = color.New(color.FgGreen)
)

// Strategies lists the accepted chunking strategies
func Strategies() []string {
	return []string{StrategyLines, StrategyDeclarations}
}

// PipelineConfig contains configuration for the processing pipeline
type PipelineConfig struct {
	MaxLines    int    // lines per chunk in chunked mode
	Threshold   int    // files with at most this many lines are analyzed in one call
	Concurrency int    // chunks in flight at once, 1 is sequential
	Strategy    string // lines or declarations
	OutputPath  string // chunked reports are written here, empty to skip
	Format      string // text or json

	// Progress receives a progress bar over chunks, nil disables it
	Progress io.Writer
}

// Pipeline reads a source file, splits it when it is large, and sends each
// piece to the model backend
type Pipeline struct {
	backend llm.Backend
	prompts *llm.PromptBuilder
	config  PipelineConfig
	out     io.Writer
	logger  *slog.Logger
}

// NewPipeline creates a pipeline. Console output goes to out; nil arguments
// fall back to the default prompt, stdout and the environment logger.
func NewPipeline(backend llm.Backend, prompts *llm.PromptBuilder, config PipelineConfig, out io.Writer, logger *slog.Logger) *Pipeline {
	if prompts == nil {
		prompts, _ = llm.NewPromptBuilder("", false)
	}
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = logging.NewLoggerFromEnv()
	}
	if config.MaxLines < 1 {
		config.MaxLines = DefaultMaxLines
	}
	if config.Threshold < 0 {
		config.Threshold = DefaultThreshold
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}

	return &Pipeline{
		backend: backend,
		prompts: prompts,
		config:  config,
		out:     out,
		logger:  logger,
	}
}

// Run analyzes the file at path
func (p *Pipeline) Run(ctx context.Context, path string) (*Report, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}
	return p.Analyze(ctx, path, string(content))
}

// Analyze runs the pipeline over in-memory source text. source names the
// file in messages and reports.
func (p *Pipeline) Analyze(ctx context.Context, source, code string) (*Report, error) {
	report := &Report{
		RunID:   uuid.NewString(),
		File:    source,
		Lines:   chunker.CountLines(code),
		Backend: p.backend.Name(),
		Results: []Result{},
	}
	logger := p.logger.With("run_id", report.RunID)

	if strings.TrimSpace(code) == "" {
		report.Mode = ModeEmpty
		errorColor.Fprintf(p.out, "Error: file %s is empty.\n", source)
		logger.Warn("source file is empty",
			"component", "pipeline",
			"file", source)
		return report, nil
	}

	var chunks []chunker.Chunk
	if report.Lines <= p.config.Threshold {
		report.Mode = ModeSingle
		chunks = slices.Collect(chunker.Split(code, report.Lines))
	} else {
		report.Mode = ModeChunked
		chunks = slices.Collect(p.split(source, code))
	}

	logger.Info("analyzing file",
		"component", "pipeline",
		"operation", "analyze",
		"file", source,
		"lines", report.Lines,
		"mode", report.Mode,
		"chunks", len(chunks),
		"backend", report.Backend)

	report.Results = p.analyzeChunks(ctx, chunks, report.Mode == ModeChunked)

	if report.Mode == ModeSingle {
		p.printSingle(report)
	} else {
		p.printChunked(report)
		if err := p.save(report); err != nil {
			return report, err
		}
	}

	p.logSummary(logger, report)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("analysis interrupted: %w", err)
	}
	return report, nil
}

func (p *Pipeline) split(source, code string) iter.Seq[chunker.Chunk] {
	if p.config.Strategy == StrategyDeclarations {
		outline, err := parser.ParseOutline(source, []byte(code))
		if err == nil {
			return chunker.SplitAligned(code, p.config.MaxLines, outline.DeclarationLines)
		}
		p.logger.Warn("failed to outline source, falling back to line chunks",
			"component", "pipeline",
			"file", source,
			"error", err)
	}
	return chunker.Split(code, p.config.MaxLines)
}

func (p *Pipeline) analyzeChunks(ctx context.Context, chunks []chunker.Chunk, showProgress bool) []Result {
	var bar *progressbar.ProgressBar
	if showProgress && p.config.Progress != nil {
		bar = progressbar.NewOptions(len(chunks),
			progressbar.OptionSetWriter(p.config.Progress),
			progressbar.OptionSetDescription("Analyzing chunks"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish())
		defer bar.Finish()
	}

	pool := newWorkerPool[chunker.Chunk, Result](p.config.Concurrency, p.logger)
	results, done := pool.run(ctx, chunks, func(ctx context.Context, chunk chunker.Chunk) Result {
		result := p.analyzeChunk(ctx, chunk)
		if bar != nil {
			_ = bar.Add(1)
		}
		return result
	}, "analyze_chunks")

	for i := range results {
		if done[i] {
			continue
		}
		results[i] = newResult(chunks[i])
		results[i].Err = ctx.Err()
		if results[i].Err == nil {
			results[i].Err = errors.New("chunk was not processed")
		}
	}
	return results
}

func (p *Pipeline) analyzeChunk(ctx context.Context, chunk chunker.Chunk) Result {
	result := newResult(chunk)
	start := time.Now()

	prompt, err := p.prompts.Build(chunk.Text, chunk.StartLine)
	if err != nil {
		result.Err = fmt.Errorf("failed to build prompt: %w", err)
		return result
	}

	text, err := p.backend.Submit(ctx, prompt)
	result.Duration = time.Since(start)
	if err != nil {
		result.Err = err
		p.logger.Warn("failed to analyze chunk",
			"component", "pipeline",
			"start_line", chunk.StartLine,
			"error_kind", ErrorKind(err),
			"error", err)
		return result
	}

	result.Text = text
	p.logger.Debug("chunk analyzed",
		"component", "pipeline",
		"start_line", chunk.StartLine,
		"end_line", chunk.EndLine,
		"duration", result.Duration)
	return result
}

func (p *Pipeline) printSingle(report *Report) {
	fmt.Fprintf(p.out, "%s\n\n", reportHeader)
	result := report.Results[0]
	if result.OK() {
		p.printReport(report)
		return
	}
	if errors.Is(result.Err, llm.ErrEmptyOutput) {
		warnColor.Fprintln(p.out, "[!] The model returned empty output!")
		return
	}
	errorColor.Fprintf(p.out, "[!] Analysis failed: %v\n", result.Err)
}

func (p *Pipeline) printChunked(report *Report) {
	for _, result := range report.Failed() {
		if errors.Is(result.Err, llm.ErrEmptyOutput) {
			warnColor.Fprintf(p.out, "[!] Chunk starting at line %d: the model returned empty output\n", result.StartLine)
			continue
		}
		errorColor.Fprintf(p.out, "[!] Chunk starting at line %d failed: %v\n", result.StartLine, result.Err)
	}

	fmt.Fprintf(p.out, "%s\n\n", reportHeader)
	if report.Text() == "" {
		warnColor.Fprintln(p.out, "[!] No chunk produced analysis output.")
		return
	}
	p.printReport(report)
}

func (p *Pipeline) printReport(report *Report) {
	if err := WriteReport(p.out, report, FormatText); err != nil {
		p.logger.Warn("failed to print report",
			"component", "pipeline",
			"error", err)
	}
}

func (p *Pipeline) save(report *Report) error {
	if p.config.OutputPath == "" {
		return nil
	}
	if err := WriteReportToFile(report, p.config.OutputPath, p.config.Format); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	okColor.Fprintf(p.out, "\n[+] Report saved to %s\n", p.config.OutputPath)
	return nil
}

func (p *Pipeline) logSummary(logger *slog.Logger, report *Report) {
	failed := len(report.Failed())
	logger.Info("analysis complete",
		"component", "pipeline",
		"chunks", len(report.Results),
		"succeeded", len(report.Results)-failed,
		"failed", failed)

	reporter, ok := p.backend.(llm.UsageReporter)
	if !ok {
		return
	}
	stats := reporter.Usage()
	logger.Info("token usage statistics",
		"component", "llm",
		"total_calls", stats.CallCount,
		"prompt_tokens", stats.TotalPromptTokens,
		"completion_tokens", stats.TotalCompletionTokens,
		"total_tokens", stats.TotalTokens)
}
