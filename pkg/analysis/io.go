package analysis

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Formats lists the accepted report formats
func Formats() []string {
	return []string{FormatText, FormatJSON}
}

// EncodeReport renders a report as plain text or indented JSON
func EncodeReport(report *Report, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		return []byte(report.Text()), nil
	case FormatJSON:
		output, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal report: %w", err)
		}
		return output, nil
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}

// WriteReportToFile writes the report to filename, replacing any previous content
func WriteReportToFile(report *Report, filename, format string) error {
	output, err := EncodeReport(report, format)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filename, output, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", filename, err)
	}

	return nil
}

// WriteReport writes the report to w
func WriteReport(w io.Writer, report *Report, format string) error {
	output, err := EncodeReport(report, format)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintln(w, string(output)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
