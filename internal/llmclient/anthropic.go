package llmclient

import (
	"context"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"cortexmem/internal/config"
)

type anthropicClient struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
	temp      float64
}

func newAnthropicClient(cfg config.LLMConfig) *anthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.Key))}
	if base := strings.TrimSpace(cfg.Endpoint); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &anthropicClient{
		sdk:       anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		temp:      cfg.Temperature,
	}
}

func (c *anthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", wrapLLMErr("anthropic", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
