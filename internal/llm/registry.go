package llm

import (
	"fmt"
	"strings"
)

// Settings selects and configures a backend.
type Settings struct {
	Backend       string // ollama, openai, anthropic, scripted
	Model         string
	BaseURL       string
	APIKey        string
	MaxTokens     int
	ContextWindow int
}

// Backends lists the accepted backend names.
var Backends = []string{OllamaName, OpenAIName, AnthropicName, ScriptedName}

// New builds the Completer named by s.Backend.
func New(s Settings) (Completer, error) {
	switch strings.ToLower(s.Backend) {
	case OllamaName, "":
		return NewOllamaClient(OllamaConfig{
			ServerURL:     s.BaseURL,
			Model:         s.Model,
			ContextWindow: s.ContextWindow,
			MaxTokens:     s.MaxTokens,
		})
	case OpenAIName:
		if s.APIKey == "" && s.BaseURL == "" {
			return nil, fmt.Errorf("backend %s requires an API key or a base URL", OpenAIName)
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:    s.APIKey,
			Model:     s.Model,
			BaseURL:   s.BaseURL,
			MaxTokens: s.MaxTokens,
		}), nil
	case AnthropicName:
		if s.APIKey == "" {
			return nil, fmt.Errorf("backend %s requires an API key", AnthropicName)
		}
		return NewAnthropicClient(s.APIKey, s.Model, s.BaseURL, s.MaxTokens), nil
	case ScriptedName:
		c := NewScriptedClient()
		if s.Model != "" {
			c.ModelName = s.Model
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want one of %s)", s.Backend, strings.Join(Backends, ", "))
	}
}
