package knowledge

import (
	"context"
	"fmt"

	apperrors "github.com/aihub/rag-backend/internal/errors"
)

const DefaultTopK = 3

// Retriever 根据问题检索最相关的单元
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]ScoredUnit, error)
}

// VectorRetriever 向量化问题后在集合中做最近邻检索
type VectorRetriever struct {
	embedder Embedder
	store    CollectionStore
}

func NewVectorRetriever(embedder Embedder, store CollectionStore) *VectorRetriever {
	return &VectorRetriever{embedder: embedder, store: store}
}

func (r *VectorRetriever) Retrieve(ctx context.Context, query string, k int) ([]ScoredUnit, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperrors.RetrievalFailed(fmt.Errorf("embed query: %w", err))
	}

	results, err := r.store.Search(ctx, vector, k)
	if err != nil {
		return nil, apperrors.RetrievalFailed(err)
	}
	return results, nil
}
