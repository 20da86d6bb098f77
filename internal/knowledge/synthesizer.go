package knowledge

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/aihub/rag-backend/internal/errors"
	"github.com/aihub/rag-backend/internal/logger"
)

// 固定回复
const (
	NoDocumentsMessage     = "No documents have been indexed yet. Please add some documents first."
	NoRelevantMessage      = "I couldn't find any relevant information in the indexed documents to answer your question."
	EmptyGenerationMessage = "I couldn't generate a response."
)

const systemDirective = "You are an AI assistant that answers questions based on the provided context from indexed documents. Only answer based on the available context."

// DefaultMaxContextChars 上下文中分块内容的总字符上限
const DefaultMaxContextChars = 12000

// Outcome 回答结果类型
type Outcome string

const (
	OutcomeNoDocuments     Outcome = "no_documents"
	OutcomeNoRelevant      Outcome = "no_relevant"
	OutcomeAnswered        Outcome = "answered"
	OutcomeEmptyGeneration Outcome = "empty_generation"
)

// Answer 问答结果
type Answer struct {
	Text    string       `json:"text"`
	Outcome Outcome      `json:"outcome"`
	Sources []ScoredUnit `json:"sources,omitempty"`
}

// SynthesizerOptions 合成器参数
type SynthesizerOptions struct {
	TopK            int
	MaxContextChars int
}

// Synthesizer 基于检索结果生成回答，只在有相关内容时调用生成模型
type Synthesizer struct {
	store     CollectionStore
	retriever Retriever
	generator Generator
	opts      SynthesizerOptions
}

// NewSynthesizer 创建合成器
func NewSynthesizer(store CollectionStore, retriever Retriever, generator Generator, opts SynthesizerOptions) *Synthesizer {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = DefaultMaxContextChars
	}
	return &Synthesizer{
		store:     store,
		retriever: retriever,
		generator: generator,
		opts:      opts,
	}
}

// Answer 回答问题
func (s *Synthesizer) Answer(ctx context.Context, query string) (Answer, error) {
	empty, err := s.storeEmpty(ctx)
	if err != nil {
		return Answer{}, apperrors.RetrievalFailed(err)
	}
	if empty {
		return Answer{Text: NoDocumentsMessage, Outcome: OutcomeNoDocuments}, nil
	}

	units, err := s.retriever.Retrieve(ctx, query, s.opts.TopK)
	if err != nil {
		return Answer{}, err
	}
	if len(units) == 0 {
		return Answer{Text: NoRelevantMessage, Outcome: OutcomeNoRelevant}, nil
	}

	system, err := buildSystemPrompt(units, s.opts.MaxContextChars)
	if err != nil {
		return Answer{}, apperrors.GenerationFailed(err)
	}

	text, err := s.generator.Generate(ctx, system, query)
	if err != nil {
		return Answer{}, apperrors.GenerationFailed(err)
	}
	if strings.TrimSpace(text) == "" {
		logger.Warn("generator returned empty text", zap.Int("context_units", len(units)))
		return Answer{Text: EmptyGenerationMessage, Outcome: OutcomeEmptyGeneration, Sources: units}, nil
	}

	return Answer{Text: text, Outcome: OutcomeAnswered, Sources: units}, nil
}

// storeEmpty 集合不存在或没有任何点
func (s *Synthesizer) storeEmpty(ctx context.Context) (bool, error) {
	state, err := State(ctx, s.store)
	if err != nil {
		return false, err
	}
	if state == CollectionAbsent {
		return true, nil
	}
	inv, err := s.store.Inventory(ctx, 1)
	if err != nil {
		return false, err
	}
	return inv.TotalPoints == 0, nil
}

type contextEntry struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	Type    string `json:"type"`
}

// buildSystemPrompt 按排名顺序放入分块，超出 maxChars 的部分被截断
func buildSystemPrompt(units []ScoredUnit, maxChars int) (string, error) {
	entries := make([]contextEntry, 0, len(units))
	remaining := maxChars
	for _, su := range units {
		if remaining <= 0 {
			break
		}
		content := []rune(su.Unit.Content)
		if len(content) > remaining {
			content = content[:remaining]
		}
		remaining -= len(content)
		entries = append(entries, contextEntry{
			Content: string(content),
			Source:  su.Unit.SourceID,
			Type:    string(su.Unit.SourceKind),
		})
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return systemDirective + "\n\nContext: " + string(raw), nil
}
