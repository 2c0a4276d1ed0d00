package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/chaptergest/internal/llm"
	"github.com/dgallion1/chaptergest/internal/parser"
	"github.com/dgallion1/chaptergest/internal/pipeline"
	"github.com/dgallion1/chaptergest/internal/prompt"
	"github.com/dgallion1/chaptergest/internal/sizer"
	"github.com/dgallion1/chaptergest/internal/summarize"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHAPTERGEST_"

type Config struct {
	Model  ModelConfig  `yaml:"model"`
	Sizing SizingConfig `yaml:"sizing"`
	Retry  RetryConfig  `yaml:"retry"`

	CallTimeout         time.Duration `yaml:"call_timeout"`
	Concurrency         int           `yaml:"concurrency"`
	DocumentConcurrency int           `yaml:"document_concurrency"`
	FailurePolicy       string        `yaml:"failure_policy"`
	ChunkFailurePolicy  string        `yaml:"chunk_failure_policy"`
	Language            string        `yaml:"language"`

	InputDir      string `yaml:"input_dir"`
	OutputPath    string `yaml:"output_path"`
	StripMarkdown bool   `yaml:"strip_markdown"`

	OCR    OCRConfig    `yaml:"ocr"`
	PDF    PDFConfig    `yaml:"pdf"`
	Server ServerConfig `yaml:"server"`
}

type ModelConfig struct {
	Backend       string  `yaml:"backend"`
	Name          string  `yaml:"name"`
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	ContextWindow int     `yaml:"context_window"`
}

type SizingConfig struct {
	CharsPerGB         float64 `yaml:"chars_per_gb"`
	MinChunkChars      int     `yaml:"min_chunk_chars"`
	MaxChunkChars      int     `yaml:"max_chunk_chars"`
	FallbackChunkChars int     `yaml:"fallback_chunk_chars"`
	MemoryBasis        string  `yaml:"memory_basis"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type OCRConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Languages string `yaml:"languages"`
	DPI       int    `yaml:"dpi"`
}

type PDFConfig struct {
	FallbackPdftotext bool `yaml:"fallback_pdftotext"`
}

type ServerConfig struct {
	Port      string        `yaml:"port"`
	APIKey    string        `yaml:"api_key"`
	MaxQueue  int           `yaml:"max_queue"`
	JobTTL    time.Duration `yaml:"job_ttl"`
	OutputDir string        `yaml:"output_dir"`

	UploadDir      string `yaml:"upload_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// ConfigurationError reports an invalid setting. It is fatal before any
// document is processed.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func Defaults() Config {
	limits := sizer.DefaultLimits()
	sum := summarize.DefaultOptions()
	return Config{
		Model: ModelConfig{
			Backend:     llm.OllamaName,
			Name:        "qwen2.5:14b",
			Temperature: 0.3,
			MaxTokens:   4096,
		},
		Sizing: SizingConfig{
			CharsPerGB:         limits.CharsPerGB,
			MinChunkChars:      limits.MinChunkChars,
			MaxChunkChars:      limits.MaxChunkChars,
			FallbackChunkChars: limits.FallbackChars,
			MemoryBasis:        string(limits.Basis),
		},
		Retry: RetryConfig{
			MaxAttempts: sum.MaxAttempts,
			BaseDelay:   sum.BaseDelay,
			MaxDelay:    sum.MaxDelay,
		},
		CallTimeout:         sum.CallTimeout,
		Concurrency:         sum.Concurrency,
		DocumentConcurrency: 1,
		FailurePolicy:       string(pipeline.SkipDocument),
		ChunkFailurePolicy:  string(pipeline.FailDocument),
		Language:            prompt.DefaultLanguage,
		InputDir:            "papers",
		OutputPath:          "output/chapter.txt",
		StripMarkdown:       true,
		OCR: OCRConfig{
			Enabled:   true,
			Languages: "eng+por",
			DPI:       300,
		},
		PDF: PDFConfig{FallbackPdftotext: true},
		Server: ServerConfig{
			Port:      "8090",
			MaxQueue:  10,
			JobTTL:    time.Hour,
			OutputDir: "output/runs",

			UploadDir:      "output/uploads",
			MaxUploadBytes: 52428800, // 50MB
		},
	}
}

// Load reads defaults, then the YAML file at path (if any), then
// CHAPTERGEST_* environment overrides. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Model.Backend = envOr("MODEL_BACKEND", c.Model.Backend)
	c.Model.Name = envOr("MODEL_NAME", c.Model.Name)
	c.Model.BaseURL = envOr("MODEL_BASE_URL", c.Model.BaseURL)
	c.Model.APIKey = envOr("MODEL_API_KEY", c.Model.APIKey)
	c.Model.Temperature = envFloat("MODEL_TEMPERATURE", c.Model.Temperature)
	c.Model.MaxTokens = envInt("MODEL_MAX_TOKENS", c.Model.MaxTokens)
	c.Model.ContextWindow = envInt("MODEL_CONTEXT_WINDOW", c.Model.ContextWindow)

	c.Sizing.CharsPerGB = envFloat("SIZING_CHARS_PER_GB", c.Sizing.CharsPerGB)
	c.Sizing.MinChunkChars = envInt("SIZING_MIN_CHUNK_CHARS", c.Sizing.MinChunkChars)
	c.Sizing.MaxChunkChars = envInt("SIZING_MAX_CHUNK_CHARS", c.Sizing.MaxChunkChars)
	c.Sizing.FallbackChunkChars = envInt("SIZING_FALLBACK_CHUNK_CHARS", c.Sizing.FallbackChunkChars)
	c.Sizing.MemoryBasis = envOr("SIZING_MEMORY_BASIS", c.Sizing.MemoryBasis)

	c.Retry.MaxAttempts = envInt("RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts)
	c.Retry.BaseDelay = envDuration("RETRY_BASE_DELAY", c.Retry.BaseDelay)
	c.Retry.MaxDelay = envDuration("RETRY_MAX_DELAY", c.Retry.MaxDelay)

	c.CallTimeout = envDuration("CALL_TIMEOUT", c.CallTimeout)
	c.Concurrency = envInt("CONCURRENCY", c.Concurrency)
	c.DocumentConcurrency = envInt("DOCUMENT_CONCURRENCY", c.DocumentConcurrency)
	c.FailurePolicy = envOr("FAILURE_POLICY", c.FailurePolicy)
	c.ChunkFailurePolicy = envOr("CHUNK_FAILURE_POLICY", c.ChunkFailurePolicy)
	c.Language = envOr("LANGUAGE", c.Language)

	c.InputDir = envOr("INPUT_DIR", c.InputDir)
	c.OutputPath = envOr("OUTPUT_PATH", c.OutputPath)
	c.StripMarkdown = envBool("STRIP_MARKDOWN", c.StripMarkdown)

	c.OCR.Enabled = envBool("OCR_ENABLED", c.OCR.Enabled)
	c.OCR.Languages = envOr("OCR_LANGUAGES", c.OCR.Languages)
	c.OCR.DPI = envInt("OCR_DPI", c.OCR.DPI)
	c.PDF.FallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", c.PDF.FallbackPdftotext)

	c.Server.Port = envOr("SERVER_PORT", c.Server.Port)
	c.Server.APIKey = envOr("SERVER_API_KEY", c.Server.APIKey)
	c.Server.MaxQueue = envInt("SERVER_MAX_QUEUE", c.Server.MaxQueue)
	c.Server.JobTTL = envDuration("SERVER_JOB_TTL", c.Server.JobTTL)
	c.Server.OutputDir = envOr("SERVER_OUTPUT_DIR", c.Server.OutputDir)
	c.Server.UploadDir = envOr("SERVER_UPLOAD_DIR", c.Server.UploadDir)
	c.Server.MaxUploadBytes = envInt64("SERVER_MAX_UPLOAD_BYTES", c.Server.MaxUploadBytes)
}

// ResolveAPIKey fills an empty model API key from the backend's conventional
// variable (ANTHROPIC_API_KEY, OPENAI_API_KEY). Call it once the backend is
// final, after any flag overrides.
func (c *Config) ResolveAPIKey() {
	if c.Model.APIKey != "" {
		return
	}
	switch strings.ToLower(c.Model.Backend) {
	case llm.AnthropicName:
		c.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case llm.OpenAIName:
		c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate checks every setting that would otherwise surface mid-run.
func (c Config) Validate() error {
	backend := strings.ToLower(c.Model.Backend)
	if !slices.Contains(llm.Backends, backend) {
		return &ConfigurationError{"model.backend", fmt.Sprintf("unknown backend %q (want one of %s)", c.Model.Backend, strings.Join(llm.Backends, ", "))}
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		return &ConfigurationError{"model.name", "must not be empty"}
	}
	if c.Model.BaseURL != "" {
		if err := checkURL(c.Model.BaseURL); err != nil {
			return &ConfigurationError{"model.base_url", err.Error()}
		}
	}
	switch backend {
	case llm.AnthropicName:
		if c.Model.APIKey == "" {
			return &ConfigurationError{"model.api_key", "required for the anthropic backend"}
		}
	case llm.OpenAIName:
		if c.Model.APIKey == "" && c.Model.BaseURL == "" {
			return &ConfigurationError{"model.api_key", "required for the openai backend unless base_url points at a compatible server"}
		}
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return &ConfigurationError{"model.temperature", "must be between 0 and 2"}
	}
	if c.Model.MaxTokens < 0 {
		return &ConfigurationError{"model.max_tokens", "must not be negative"}
	}

	s := c.Sizing
	if s.CharsPerGB <= 0 {
		return &ConfigurationError{"sizing.chars_per_gb", "must be positive"}
	}
	if s.MinChunkChars <= 0 {
		return &ConfigurationError{"sizing.min_chunk_chars", "must be positive"}
	}
	if s.MinChunkChars > s.MaxChunkChars {
		return &ConfigurationError{"sizing.max_chunk_chars", fmt.Sprintf("must be at least min_chunk_chars (%d)", s.MinChunkChars)}
	}
	if s.FallbackChunkChars < s.MinChunkChars || s.FallbackChunkChars > s.MaxChunkChars {
		return &ConfigurationError{"sizing.fallback_chunk_chars", fmt.Sprintf("must be within [%d, %d]", s.MinChunkChars, s.MaxChunkChars)}
	}
	if basis := sizer.MemoryBasis(s.MemoryBasis); basis != sizer.BasisFree && basis != sizer.BasisTotal {
		return &ConfigurationError{"sizing.memory_basis", fmt.Sprintf("unknown basis %q (want free or total)", s.MemoryBasis)}
	}

	if c.Retry.MaxAttempts < 1 {
		return &ConfigurationError{"retry.max_attempts", "must be at least 1"}
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return &ConfigurationError{"retry.base_delay", "delays must not be negative"}
	}
	if c.CallTimeout <= 0 {
		return &ConfigurationError{"call_timeout", "must be positive"}
	}
	if c.Concurrency < 1 {
		return &ConfigurationError{"concurrency", "must be at least 1"}
	}
	if c.DocumentConcurrency < 1 {
		return &ConfigurationError{"document_concurrency", "must be at least 1"}
	}
	switch pipeline.FailurePolicy(c.FailurePolicy) {
	case pipeline.SkipDocument, pipeline.AbortRun:
	default:
		return &ConfigurationError{"failure_policy", fmt.Sprintf("unknown policy %q (want skip or abort)", c.FailurePolicy)}
	}
	switch pipeline.ChunkFailurePolicy(c.ChunkFailurePolicy) {
	case pipeline.FailDocument, pipeline.PlaceholderChunks:
	default:
		return &ConfigurationError{"chunk_failure_policy", fmt.Sprintf("unknown policy %q (want fail-document or placeholder)", c.ChunkFailurePolicy)}
	}
	if strings.TrimSpace(c.Language) == "" {
		return &ConfigurationError{"language", "must not be empty"}
	}
	if c.OCR.DPI < 0 {
		return &ConfigurationError{"ocr.dpi", "must not be negative"}
	}
	return nil
}

// ValidateServer checks the settings only server mode needs.
func (c Config) ValidateServer() error {
	if c.Server.APIKey == "" {
		return &ConfigurationError{"server.api_key", "required in server mode"}
	}
	if c.Server.Port == "" {
		return &ConfigurationError{"server.port", "must not be empty"}
	}
	if c.Server.MaxQueue < 1 {
		return &ConfigurationError{"server.max_queue", "must be at least 1"}
	}
	if c.Server.MaxUploadBytes <= 0 {
		return &ConfigurationError{"server.max_upload_bytes", "must be positive"}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func (c Config) Limits() sizer.Limits {
	return sizer.Limits{
		CharsPerGB:    c.Sizing.CharsPerGB,
		MinChunkChars: c.Sizing.MinChunkChars,
		MaxChunkChars: c.Sizing.MaxChunkChars,
		FallbackChars: c.Sizing.FallbackChunkChars,
		Basis:         sizer.MemoryBasis(c.Sizing.MemoryBasis),
	}
}

func (c Config) LLMSettings() llm.Settings {
	return llm.Settings{
		Backend:       c.Model.Backend,
		Model:         c.Model.Name,
		BaseURL:       c.Model.BaseURL,
		APIKey:        c.Model.APIKey,
		MaxTokens:     c.Model.MaxTokens,
		ContextWindow: c.Model.ContextWindow,
	}
}

func (c Config) SummarizeOptions() summarize.Options {
	return summarize.Options{
		Language:    c.Language,
		Temperature: llm.Float(c.Model.Temperature),
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		CallTimeout: c.CallTimeout,
		Concurrency: c.Concurrency,
	}
}

func (c Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		FailurePolicy:       pipeline.FailurePolicy(c.FailurePolicy),
		ChunkFailurePolicy:  pipeline.ChunkFailurePolicy(c.ChunkFailurePolicy),
		DocumentConcurrency: c.DocumentConcurrency,
	}
}

func (c Config) ParserOptions() parser.Options {
	return parser.Options{
		FallbackPdftotext: c.PDF.FallbackPdftotext,
		OCR: parser.OCROptions{
			Enabled:   c.OCR.Enabled,
			Languages: c.OCR.Languages,
			DPI:       c.OCR.DPI,
		},
	}
}

func (c Config) SchedulerConfig() pipeline.SchedulerConfig {
	return pipeline.SchedulerConfig{
		MaxQueue:      c.Server.MaxQueue,
		JobTTL:        c.Server.JobTTL,
		OutputDir:     c.Server.OutputDir,
		StripMarkdown: c.StripMarkdown,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
