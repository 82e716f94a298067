package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vulnscan <path>",
		Short: "LLM-assisted vulnerability scanner for C/C++ source files",
		Long: `vulnscan: LLM-assisted vulnerability scanner for C/C++ source files
Sends a source file to a local language model and prints the issues it reports,
one "Line <n>: <description>" entry per finding. Files longer than --threshold
lines are split into --max-lines chunks and analyzed chunk by chunk; the combined
report of a chunked run is also written to --output.`,
		Example: `  # Analyze a file with the local Ollama server
  vulnscan src/parser.c

  # Smaller chunks, cut at function boundaries, four requests at a time
  vulnscan --max-lines 30 --threshold 30 --strategy declarations --concurrency 4 big.c

  # Run llama.cpp directly instead of a server
  vulnscan --backend process --llama-model ~/models/gemma-3-1b.gguf main.c`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runAnalyze,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	addGlobalFlags(rootCmd)

	rootCmd.AddCommand(newOutlineCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
