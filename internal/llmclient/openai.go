package llmclient

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"cortexmem/internal/config"
)

var errNoChoices = errors.New("no choices in completion response")

type openAIClient struct {
	sdk   openai.Client
	model string
	temp  float64
}

func newOpenAIClient(cfg config.LLMConfig) *openAIClient {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.Key))}
	if base := strings.TrimSpace(cfg.Endpoint); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &openAIClient{sdk: openai.NewClient(opts...), model: model, temp: cfg.Temperature}
}

func (c *openAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	resp, err := c.sdk.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		Temperature: openai.Float(c.temp),
	})
	if err != nil {
		return "", wrapLLMErr("openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", wrapLLMErr("openai", errNoChoices)
	}
	return resp.Choices[0].Message.Content, nil
}
