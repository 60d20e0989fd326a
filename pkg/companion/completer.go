package companion

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotcompanion/pkg/providers"
)

// providerCompleter adapts an LLMProvider to the single-prompt shape the
// reflection synthesizer uses.
type providerCompleter struct {
	provider providers.LLMProvider
	model    string
}

func newProviderCompleter(provider providers.LLMProvider, model string) *providerCompleter {
	return &providerCompleter{provider: provider, model: model}
}

func (c *providerCompleter) Complete(ctx context.Context, system, prompt string, maxTokens int, temperature float64) (string, error) {
	if c.provider == nil {
		return "", fmt.Errorf("no completion provider configured")
	}
	messages := []providers.Message{{Role: "user", Content: prompt}}
	if strings.TrimSpace(system) != "" {
		messages = append([]providers.Message{{Role: "system", Content: system}}, messages...)
	}
	resp, err := c.provider.Chat(ctx, messages, c.model, map[string]interface{}{
		"max_tokens":  maxTokens,
		"temperature": temperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
