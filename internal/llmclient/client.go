// Package llmclient is the LLM generator contract (§4.2 bullet 1, §9
// LayerGenerator): a single Complete call over a provider-selected
// backend. Generation semantics (prompt engineering) stay out of scope
// per spec.md §1; this package only owns the transport.
package llmclient

import (
	"context"
	"strings"

	"cortexmem/internal/config"
	"cortexmem/internal/cortexerr"
)

// Client is the capability handle every subsystem that needs LLM text
// generation depends on (layer manager, classifier, extractor).
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// New builds a Client for the configured provider. An empty key means
// "no LLM configured" and callers should fall back to their rule-based
// path per spec.md §4.2's "Selection" policy — New still returns a
// client in that case, but every call will fail, so callers should check
// cfg.Key before constructing one.
func New(cfg config.LLMConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "anthropic":
		return newAnthropicClient(cfg), nil
	case "openai":
		return newOpenAIClient(cfg), nil
	default:
		return nil, cortexerr.Input("unknown llm provider %q", cfg.Provider)
	}
}

// wrapLLMErr marks a backend failure as a cortexerr.ErrLLM, so callers
// in the layer manager and classifier can match it for fallback.
func wrapLLMErr(provider string, err error) error {
	return cortexerr.LLM(err, "%s completion failed", provider)
}
