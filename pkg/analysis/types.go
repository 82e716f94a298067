package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/noperator/vulnscan/pkg/chunker"
	"github.com/noperator/vulnscan/pkg/llm"
)

// Mode records how a file was analyzed
type Mode string

const (
	ModeEmpty   Mode = "empty"
	ModeSingle  Mode = "single"
	ModeChunked Mode = "chunked"
)

// Result is the outcome of analyzing one chunk: either the model's raw text
// or an error, never both.
type Result struct {
	Index     int           `json:"index"`
	StartLine int           `json:"start_line"`
	EndLine   int           `json:"end_line"`
	Text      string        `json:"text,omitempty"`
	Err       error         `json:"-"`
	Duration  time.Duration `json:"-"`
}

func newResult(chunk chunker.Chunk) Result {
	return Result{
		Index:     chunk.Index,
		StartLine: chunk.StartLine,
		EndLine:   chunk.EndLine,
	}
}

// OK reports whether the chunk produced analysis text
func (r Result) OK() bool {
	return r.Err == nil
}

// MarshalJSON adds the error message and kind for failed chunks
func (r Result) MarshalJSON() ([]byte, error) {
	type Alias Result
	aux := struct {
		Alias
		DurationMS int64  `json:"duration_ms"`
		Error      string `json:"error,omitempty"`
		ErrorKind  string `json:"error_kind,omitempty"`
	}{
		Alias:      Alias(r),
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		aux.Error = r.Err.Error()
		aux.ErrorKind = ErrorKind(r.Err)
	}
	return json.Marshal(aux)
}

// ErrorKind classifies a chunk error for reports and logs
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, llm.ErrEmptyOutput):
		return "empty_output"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case llm.IsTransportError(err):
		return "transport"
	default:
		return "error"
	}
}

// Report is the outcome of one run over one file
type Report struct {
	RunID   string   `json:"run_id"`
	File    string   `json:"file"`
	Lines   int      `json:"lines"`
	Mode    Mode     `json:"mode"`
	Backend string   `json:"backend"`
	Results []Result `json:"results"`
}

// Text joins the successful results with newlines in chunk order
func (r *Report) Text() string {
	var parts []string
	for _, result := range r.Results {
		if result.OK() {
			parts = append(parts, result.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Failed returns the results that carry an error
func (r *Report) Failed() []Result {
	var failed []Result
	for _, result := range r.Results {
		if !result.OK() {
			failed = append(failed, result)
		}
	}
	return failed
}
