package llm

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"text/template"
)

const (
	// NoVulnerabilitiesFound is the exact reply requested when nothing is found
	NoVulnerabilitiesFound = "No vulnerabilities found."
	// FindingFormat is the one-line-per-finding reply format
	FindingFormat = "Line <line_number>: <Short description of the vulnerability>"
)

const defaultPromptTemplate = `Analyze the following C/C++ code for potential security vulnerabilities.

The code below is an excerpt that starts at line {{.StartLine}} of the original file: its first line is line {{.StartLine}}.
Count line numbers from {{.StartLine}}, not from 1, when reporting issues.

Your ONLY allowed reply must follow this format:

{{.Format}}

Rules:
- If there are no vulnerabilities, reply exactly: {{.NoVulnerabilities}}
- Otherwise, write one line per issue in the format:
{{.Format}}
- Do NOT include explanations, summaries, or example code.
- Do NOT write "Answer:" or any heading.
- Reply ONLY with the list of lines as instructed.

Here is the code to analyze:

{{.Code}}`

var defaultTemplate = template.Must(newPromptTemplate("default").Parse(defaultPromptTemplate))

// PromptData is the data available to prompt templates
type PromptData struct {
	Code              string
	StartLine         int
	EndLine           int
	Format            string
	NoVulnerabilities string
}

func newPromptData(code string, startLine int) PromptData {
	if startLine < 1 {
		startLine = 1
	}
	return PromptData{
		Code:              code,
		StartLine:         startLine,
		EndLine:           startLine + strings.Count(code, "\n"),
		Format:            FindingFormat,
		NoVulnerabilities: NoVulnerabilitiesFound,
	}
}

func newPromptTemplate(name string) *template.Template {
	return template.New(name).Funcs(template.FuncMap{
		"add": func(a, b int) int { return a + b },
	})
}

// BuildPrompt renders the default instructions around snippet. startLine is
// the 1-based line of the original file the snippet begins at.
func BuildPrompt(snippet string, startLine int) string {
	var b strings.Builder
	// the default template only reads PromptData fields and cannot fail
	_ = defaultTemplate.Execute(&b, newPromptData(snippet, startLine))
	return b.String()
}

// PromptBuilder renders prompts from the default or a custom template
type PromptBuilder struct {
	tmpl        *template.Template
	numberLines bool
	Metadata    *TemplateMetadata
}

// NewPromptBuilder loads templatePath when set, otherwise uses the default
// instructions. numberLines prefixes each code line with its file line number.
func NewPromptBuilder(templatePath string, numberLines bool) (*PromptBuilder, error) {
	builder := &PromptBuilder{
		tmpl:        defaultTemplate,
		numberLines: numberLines,
		Metadata:    defaultMetadata(),
	}
	if templatePath == "" {
		return builder, nil
	}

	content, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file %s: %w", templatePath, err)
	}

	tmpl, err := newPromptTemplate(templatePath).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	builder.tmpl = tmpl
	builder.Metadata = ParseTemplateMetadata(string(content))
	return builder, nil
}

// Build renders the prompt for a snippet starting at startLine
func (p *PromptBuilder) Build(snippet string, startLine int) (string, error) {
	data := newPromptData(snippet, startLine)
	if p.numberLines {
		data.Code = NumberLines(snippet, data.StartLine)
	}

	var b strings.Builder
	if err := p.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return b.String(), nil
}

// NumberLines adds right-aligned line numbers to each line of text
// Format: "NNNNN  CCC..." where N is the line number (5 wide, space-padded), followed by two spaces, followed by code
func NumberLines(text string, startLine int) string {
	lines := strings.Split(text, "\n")
	var result strings.Builder

	for i, line := range lines {
		fmt.Fprintf(&result, "%5d  %s", startLine+i, line)
		if i < len(lines)-1 {
			result.WriteString("\n")
		}
	}

	return result.String()
}

// TemplateMetadata holds per-template call settings
type TemplateMetadata struct {
	Timeout     int     `json:"timeout"`     // seconds, 0 when unset
	MaxTokens   int     `json:"max_tokens"`  // 0 when unset
	Temperature float32 `json:"temperature"` // negative when unset
}

func defaultMetadata() *TemplateMetadata {
	return &TemplateMetadata{Temperature: -1}
}

// ParseTemplateMetadata reads settings from comments in the first lines of a
// template:
//
//	{{/* timeout: 300 */}}
//	{{/* max_tokens: 1024 */}}
//	{{/* temperature: 0.2 */}}
func ParseTemplateMetadata(content string) *TemplateMetadata {
	metadata := defaultMetadata()

	lines := strings.Split(content, "\n")
	for i := 0; i < len(lines) && i < 15; i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{{/*") || !strings.HasSuffix(line, "*/}}") {
			continue
		}

		comment := strings.TrimSpace(line[4 : len(line)-4])
		colon := strings.Index(comment, ":")
		if colon <= 0 {
			continue
		}
		key := strings.TrimSpace(comment[:colon])
		value := strings.TrimSpace(comment[colon+1:])

		switch key {
		case "timeout":
			if v := parseInt(value); v > 0 {
				metadata.Timeout = v
			}
		case "max_tokens":
			if v := parseInt(value); v > 0 {
				metadata.MaxTokens = v
			}
		case "temperature":
			if v := parseFloat32(value); v >= 0 {
				metadata.Temperature = v
			}
		}
	}

	return metadata
}

// parseInt parses a whole decimal integer, 0 when s is not one
func parseInt(s string) int {
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return val
}

// parseFloat32 parses a finite decimal number, -1 when s is not one
func parseFloat32(s string) float32 {
	val, err := strconv.ParseFloat(s, 32)
	if err != nil || math.IsNaN(val) || math.IsInf(val, 0) {
		return -1
	}
	return float32(val)
}
