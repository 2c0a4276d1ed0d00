package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const OllamaName = "ollama"

// OllamaConfig configures a local Ollama server.
type OllamaConfig struct {
	ServerURL     string
	Model         string
	ContextWindow int // num_ctx; 0 leaves the model default.
	MaxTokens     int
	HTTPClient    *http.Client // Optional (tests).
}

// OllamaClient implements Completer on top of langchaingo's Ollama driver.
type OllamaClient struct {
	model     string
	maxTokens int
	llm       *ollama.LLM
}

func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.ServerURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
	}
	if cfg.ContextWindow > 0 {
		opts = append(opts, ollama.WithRunnerNumCtx(cfg.ContextWindow))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, ollama.WithHTTPClient(cfg.HTTPClient))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init ollama: %w", err)
	}
	return &OllamaClient{model: cfg.Model, maxTokens: cfg.MaxTokens, llm: llm}, nil
}

func (c *OllamaClient) Name() string  { return OllamaName }
func (c *OllamaClient) Model() string { return c.model }

func (c *OllamaClient) Complete(ctx context.Context, req Request) (string, error) {
	model := modelOr(req, c.model)

	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{llms.WithModel(model)}
	// langchaingo always sends options.temperature, 0 when unset.
	if req.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*req.Temperature))
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}

	resp, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", callError(OllamaName, model, true, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", callError(OllamaName, model, true, errors.New("empty response"))
	}
	return resp.Choices[0].Content, nil
}
