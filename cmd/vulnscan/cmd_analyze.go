package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/noperator/vulnscan/pkg/analysis"
	"github.com/noperator/vulnscan/pkg/config"
	"github.com/noperator/vulnscan/pkg/llm"
	"github.com/noperator/vulnscan/pkg/logging"
	"github.com/spf13/cobra"
)

func addGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Config file (default ./vulnscan.yaml, then <user config dir>/vulnscan/config.yaml)")
	flags.BoolP("verbose", "v", false, "Enable debug logging on stderr")
	config.RegisterFlags(flags)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	return config.Load(cfgFile, cmd.Flags())
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := os.Getenv("VULNSCAN_LOG_LEVEL")
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	return logging.New(cmd.ErrOrStderr(), level, os.Getenv("VULNSCAN_LOG_FORMAT"))
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	prompts, err := llm.NewPromptBuilder(cfg.PromptTemplate, cfg.NumberLines)
	if err != nil {
		return err
	}
	cfg.ApplyTemplateMetadata(prompts.Metadata)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	backend, err := llm.NewBackend(cfg.BackendConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}

	logger.Debug("configuration loaded",
		"component", "cli",
		"config_file", cfg.File,
		"backend", backend.Name(),
		"max_lines", cfg.MaxLines,
		"threshold", cfg.Threshold,
		"timeout", cfg.LLM.Timeout)

	pipelineConfig := cfg.PipelineConfig()
	if isTerminal(cmd.ErrOrStderr()) {
		pipelineConfig.Progress = cmd.ErrOrStderr()
	}

	pipeline := analysis.NewPipeline(backend, prompts, pipelineConfig, cmd.OutOrStdout(), logger)
	_, err = pipeline.Run(cmd.Context(), args[0])
	return err
}
