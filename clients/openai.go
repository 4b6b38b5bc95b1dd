package clients

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint,
// including Ollama's /v1.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
}

func NewOpenAI(h *HTTP, baseURL, apiKey, model string, temperature float64) *OpenAI {
	opts := []option.RequestOption{option.WithHTTPClient(h.c)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model, temperature: temperature}
}

func (o *OpenAI) params(msgs []Message) openai.ChatCompletionNewParams {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	p := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: out,
	}
	if o.temperature > 0 {
		p.Temperature = param.NewOpt(o.temperature)
	}
	return p
}

func (o *OpenAI) Stream(ctx context.Context, msgs []Message, fn func(string) error) error {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.params(msgs))
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if s := chunk.Choices[0].Delta.Content; s != "" {
			if err := fn(s); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai stream: %w", err)
	}
	return nil
}
