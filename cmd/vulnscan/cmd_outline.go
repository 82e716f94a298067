package main

import (
	"encoding/json"
	"fmt"

	"github.com/noperator/vulnscan/pkg/parser"
	"github.com/spf13/cobra"
)

func newOutlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outline <file>",
		Short: "Print the functions and top-level declarations of a C/C++ file",
		Long: `Parse a C/C++ source file with tree-sitter and print, as JSON, each function
definition with its line range and signature, plus the lines where top-level
declarations start. These lines are the cut points used by --strategy declarations.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outline, err := parser.ParseFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to outline file: %w", err)
			}

			output, err := json.MarshalIndent(outline, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal JSON: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(output))
			return nil
		},
	}
}
