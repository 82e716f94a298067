// Package config loads vulnscan settings from defaults, a YAML file,
// VULNSCAN_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/noperator/vulnscan/pkg/analysis"
	"github.com/noperator/vulnscan/pkg/llm"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "VULNSCAN"

type LLMConfig struct {
	Backend     string        `mapstructure:"backend" yaml:"backend"`
	Model       string        `mapstructure:"model" yaml:"model"`
	URL         string        `mapstructure:"url" yaml:"url"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Temperature *float32      `mapstructure:"temperature" yaml:"temperature,omitempty"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Binary      string        `mapstructure:"binary" yaml:"binary"`
	ModelPath   string        `mapstructure:"model_path" yaml:"model_path"`
}

type Config struct {
	MaxLines       int       `mapstructure:"max_lines" yaml:"max_lines"`
	Threshold      int       `mapstructure:"threshold" yaml:"threshold"`
	Concurrency    int       `mapstructure:"concurrency" yaml:"concurrency"`
	Strategy       string    `mapstructure:"strategy" yaml:"strategy"`
	NumberLines    bool      `mapstructure:"number_lines" yaml:"number_lines"`
	PromptTemplate string    `mapstructure:"prompt_template" yaml:"prompt_template"`
	Output         string    `mapstructure:"output" yaml:"output"`
	Format         string    `mapstructure:"format" yaml:"format"`
	LLM            LLMConfig `mapstructure:"llm" yaml:"llm"`

	// File is the config file that was read, empty when none was found
	File string `mapstructure:"-" yaml:"-"`
}

// flagKeys maps config keys to the flag that overrides them
var flagKeys = map[string]string{
	"max_lines":       "max-lines",
	"threshold":       "threshold",
	"concurrency":     "concurrency",
	"strategy":        "strategy",
	"number_lines":    "number-lines",
	"prompt_template": "prompt-template",
	"output":          "output",
	"format":          "format",
	"llm.backend":     "backend",
	"llm.model":       "model",
	"llm.url":         "url",
	"llm.timeout":     "timeout",
	"llm.temperature": "temperature",
	"llm.max_tokens":  "max-tokens",
	"llm.binary":      "llama-bin",
	"llm.model_path":  "llama-model",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_lines", analysis.DefaultMaxLines)
	v.SetDefault("threshold", analysis.DefaultThreshold)
	v.SetDefault("concurrency", 1)
	v.SetDefault("strategy", analysis.StrategyLines)
	v.SetDefault("number_lines", false)
	v.SetDefault("prompt_template", "")
	v.SetDefault("output", analysis.DefaultOutputPath)
	v.SetDefault("format", analysis.FormatText)
	v.SetDefault("llm.backend", llm.BackendOllama)
	v.SetDefault("llm.model", llm.DefaultModel)
	v.SetDefault("llm.url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", llm.DefaultTimeout)
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("llm.binary", llm.DefaultLlamaBinary)
	v.SetDefault("llm.model_path", "")
}

// RegisterFlags defines the flags Load knows how to bind
func RegisterFlags(flags *pflag.FlagSet) {
	flags.Int("max-lines", analysis.DefaultMaxLines, "Maximum lines per chunk")
	flags.Int("threshold", analysis.DefaultThreshold, "Files with at most this many lines are analyzed in a single call")
	flags.Int("concurrency", 1, "Number of chunks analyzed at once")
	flags.String("strategy", analysis.StrategyLines, "Chunking strategy: "+strings.Join(analysis.Strategies(), "|"))
	flags.Bool("number-lines", false, "Prefix each code line in the prompt with its line number")
	flags.String("prompt-template", "", "Custom prompt template file")
	flags.StringP("output", "o", analysis.DefaultOutputPath, "Report file written for chunked runs")
	flags.String("format", analysis.FormatText, "Report file format: "+strings.Join(analysis.Formats(), "|"))
	flags.StringP("backend", "b", llm.BackendOllama, "Model backend: "+strings.Join(llm.Backends(), "|"))
	flags.StringP("model", "m", llm.DefaultModel, "Model name")
	flags.String("url", "", "Backend base URL (default depends on backend)")
	flags.Duration("timeout", llm.DefaultTimeout, "Timeout for each model call")
	flags.Float32("temperature", 0, "Sampling temperature (unset uses the backend default)")
	flags.Int("max-tokens", 0, "Maximum tokens to generate (0 uses the backend default)")
	flags.String("llama-bin", llm.DefaultLlamaBinary, "Model runtime executable for the process backend")
	flags.String("llama-model", "", "Model file for the process backend")
}

// Load builds the effective configuration. cfgFile overrides the config file
// search; flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// no default, so the key needs an explicit env binding to be seen
	_ = v.BindEnv("llm.temperature")

	if flags != nil {
		for key, name := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	file := cfgFile
	if file == "" {
		file = findConfigFile()
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if !v.IsSet("llm.temperature") {
		// an unchanged --temperature flag still decodes as 0
		cfg.LLM.Temperature = nil
	}
	cfg.File = v.ConfigFileUsed()

	return &cfg, nil
}

// SearchPaths lists the config files tried when none is given, in order
func SearchPaths() []string {
	paths := []string{"vulnscan.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "vulnscan", "config.yaml"))
	}
	return paths
}

func findConfigFile() string {
	for _, path := range SearchPaths() {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error
	if c.MaxLines < 1 {
		errs = append(errs, fmt.Errorf("max_lines must be positive, got %d", c.MaxLines))
	}
	if c.Threshold < 0 {
		errs = append(errs, fmt.Errorf("threshold must not be negative, got %d", c.Threshold))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if !slices.Contains(analysis.Strategies(), c.Strategy) {
		errs = append(errs, fmt.Errorf("unknown strategy %q (expected one of %s)", c.Strategy, strings.Join(analysis.Strategies(), ", ")))
	}
	if !slices.Contains(analysis.Formats(), strings.ToLower(c.Format)) {
		errs = append(errs, fmt.Errorf("unknown format %q (expected one of %s)", c.Format, strings.Join(analysis.Formats(), ", ")))
	}
	if !slices.Contains(llm.Backends(), strings.ToLower(c.LLM.Backend)) {
		errs = append(errs, fmt.Errorf("unknown backend %q (expected one of %s)", c.LLM.Backend, strings.Join(llm.Backends(), ", ")))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %v", c.LLM.Timeout))
	}
	if t := c.LLM.Temperature; t != nil && *t < 0 {
		errs = append(errs, fmt.Errorf("temperature must not be negative, got %v", *t))
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max_tokens must not be negative, got %d", c.LLM.MaxTokens))
	}
	return errors.Join(errs...)
}

// BackendConfig returns the backend settings
func (c *Config) BackendConfig() llm.Config {
	return llm.Config{
		Backend:     strings.ToLower(c.LLM.Backend),
		Model:       c.LLM.Model,
		BaseURL:     c.LLM.URL,
		APIKey:      c.LLM.APIKey,
		Timeout:     c.LLM.Timeout,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
		Binary:      c.LLM.Binary,
		ModelPath:   c.LLM.ModelPath,
	}
}

// PipelineConfig returns the orchestration settings
func (c *Config) PipelineConfig() analysis.PipelineConfig {
	return analysis.PipelineConfig{
		MaxLines:    c.MaxLines,
		Threshold:   c.Threshold,
		Concurrency: c.Concurrency,
		Strategy:    c.Strategy,
		OutputPath:  c.Output,
		Format:      strings.ToLower(c.Format),
	}
}

// ApplyTemplateMetadata lets a prompt template's settings replace the
// configured ones
func (c *Config) ApplyTemplateMetadata(metadata *llm.TemplateMetadata) {
	if metadata == nil {
		return
	}
	if metadata.Timeout > 0 {
		c.LLM.Timeout = time.Duration(metadata.Timeout) * time.Second
	}
	if metadata.MaxTokens > 0 {
		c.LLM.MaxTokens = metadata.MaxTokens
	}
	if metadata.Temperature >= 0 {
		temperature := metadata.Temperature
		c.LLM.Temperature = &temperature
	}
}

// YAML renders the configuration with the API key masked
func (c *Config) YAML() ([]byte, error) {
	view := *c
	if view.LLM.APIKey != "" {
		view.LLM.APIKey = "********"
	}

	out, err := yaml.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}
