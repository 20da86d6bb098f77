package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder 定义文本向量化接口
type Embedder interface {
	// EmbedBatch 一次调用向量化多段文本，返回顺序与输入一致
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions 返回模型输出维度，未知时为 0
	Dimensions() int
}

const (
	DefaultEmbeddingModel = "text-embedding-3-large"

	// maxEmbeddingInputs 每次 embeddings 请求最多携带的文本数，接口上限为 2048
	maxEmbeddingInputs = 512
)

var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIOptions OpenAI客户端参数
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

func newOpenAIClient(opts OpenAIOptions) (*openai.Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is empty")
	}
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return openai.NewClientWithConfig(cfg), nil
}

// OpenAIEmbedder 使用OpenAI Embedding API
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder 创建OpenAI嵌入向量生成器
func NewOpenAIEmbedder(opts OpenAIOptions, model string) (*OpenAIEmbedder, error) {
	client, err := newOpenAIClient(opts)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &OpenAIEmbedder{
		client:     client,
		model:      model,
		dimensions: embeddingDimensions[model],
	}, nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("text %d is empty", i)
		}
	}

	// 单次请求的输入条数有上限，超出时按顺序拆成多次请求
	vectors := make([][]float32, len(texts))
	for offset := 0; offset < len(texts); offset += maxEmbeddingInputs {
		end := offset + maxEmbeddingInputs
		if end > len(texts) {
			end = len(texts)
		}
		if err := e.embedRange(ctx, texts[offset:end], vectors[offset:end]); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) embedRange(ctx context.Context, texts []string, out [][]float32) error {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return err
	}
	if len(resp.Data) != len(texts) {
		return fmt.Errorf("embedding response has %d vectors, expected %d", len(resp.Data), len(texts))
	}

	// 按 Index 回填，接口不保证返回顺序
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) || out[item.Index] != nil {
			return fmt.Errorf("embedding response has invalid index %d", item.Index)
		}
		vec := make([]float32, len(item.Embedding))
		copy(vec, item.Embedding)
		out[item.Index] = vec
	}
	return nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}
