package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/aihub/rag-backend/internal/errors"
	"github.com/aihub/rag-backend/internal/logger"
)

// Indexer 分块、向量化并写入集合
type Indexer struct {
	chunker  *Chunker
	embedder Embedder
	store    CollectionStore

	now   func() time.Time
	newID func() string
}

// NewIndexer 创建索引器
func NewIndexer(chunker *Chunker, embedder Embedder, store CollectionStore) *Indexer {
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	return &Indexer{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// Index 将一段内容作为一个批次写入集合，返回分块数
func (ix *Indexer) Index(ctx context.Context, content, sourceID string, kind SourceKind) (int, error) {
	if strings.TrimSpace(content) == "" {
		return 0, apperrors.IndexingFailed(sourceID, fmt.Errorf("content is empty"))
	}
	if !kind.Valid() {
		return 0, apperrors.IndexingFailed(sourceID, fmt.Errorf("unknown source kind %q", kind))
	}

	started := time.Now()
	chunks := ix.chunker.Split(content)

	indexedAt := ix.now().UTC()
	units := make([]Unit, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		units = append(units, Unit{
			ID:         ix.newID(),
			Content:    c.Text,
			SourceID:   sourceID,
			SourceKind: kind,
			IndexedAt:  indexedAt,
		})
		texts = append(texts, c.Text)
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, apperrors.IndexingFailed(sourceID, fmt.Errorf("embed chunks: %w", err))
	}
	if len(vectors) != len(units) {
		return 0, apperrors.IndexingFailed(sourceID,
			fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(units)))
	}
	dim := ix.embedder.Dimensions()
	for i := range units {
		if dim > 0 && len(vectors[i]) != dim {
			return 0, apperrors.IndexingFailed(sourceID, apperrors.DimensionMismatch(dim, len(vectors[i])))
		}
		units[i].Embedding = vectors[i]
	}

	if err := ix.store.EnsureAndUpsert(ctx, units); err != nil {
		return 0, apperrors.IndexingFailed(sourceID, err)
	}

	logger.Debug("source indexed",
		zap.String("source", sourceID),
		zap.String("kind", string(kind)),
		zap.Int("chunks", len(units)),
		zap.Duration("elapsed", time.Since(started)))

	return len(units), nil
}
