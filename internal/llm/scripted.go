package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

const ScriptedName = "scripted"

// ScriptedClient is a deterministic Completer for tests and dry runs. By
// default it echoes a short digest of the prompt; Respond overrides that.
type ScriptedClient struct {
	ModelName string

	// Respond, when set, produces the response for a request.
	Respond func(req Request) (string, error)

	mu       sync.Mutex
	prompts  []Request
	requests atomic.Int64
}

func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{ModelName: "scripted-1"}
}

func (c *ScriptedClient) Name() string  { return ScriptedName }
func (c *ScriptedClient) Model() string { return c.ModelName }

func (c *ScriptedClient) Complete(ctx context.Context, req Request) (string, error) {
	c.requests.Add(1)
	c.mu.Lock()
	c.prompts = append(c.prompts, req)
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.Respond != nil {
		return c.Respond(req)
	}
	return Digest(req.Prompt), nil
}

// Requests returns the number of Complete calls made.
func (c *ScriptedClient) Requests() int {
	return int(c.requests.Load())
}

// Prompts returns a copy of every request received, in arrival order.
func (c *ScriptedClient) Prompts() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.prompts))
	copy(out, c.prompts)
	return out
}

// Digest is the default scripted response: the first words of the prompt's
// last paragraph, so outputs stay traceable to their inputs.
func Digest(prompt string) string {
	parts := strings.Split(strings.TrimSpace(prompt), "\n\n")
	words := strings.Fields(parts[len(parts)-1])
	if len(words) > 12 {
		words = words[:12]
	}
	return fmt.Sprintf("summary: %s", strings.Join(words, " "))
}
