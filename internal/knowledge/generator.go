package knowledge

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultChatModel   = "gpt-4o-mini"
	DefaultTemperature = float32(0.1)
)

// Generator 根据系统指令与用户问题生成回答
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// OpenAIGenerator 使用OpenAI Chat Completion
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIGenerator 创建生成器
func NewOpenAIGenerator(opts OpenAIOptions, model string, temperature float32) (*OpenAIGenerator, error) {
	client, err := newOpenAIClient(opts)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultChatModel
	}
	return &OpenAIGenerator{
		client:      client,
		model:       model,
		temperature: temperature,
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: g.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
