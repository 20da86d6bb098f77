package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/rag-backend/internal/errors"
)

func unit(id, content string, vec ...float32) Unit {
	return Unit{
		ID:         id,
		Content:    content,
		SourceID:   "src",
		SourceKind: SourceKindText,
		IndexedAt:  time.Unix(1700000000, 0).UTC(),
		Embedding:  vec,
	}
}

func TestMemoryStore_StateTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCollectionStore()

	state, err := State(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, CollectionAbsent, state)

	require.NoError(t, s.EnsureAndUpsert(ctx, []Unit{unit("a", "alpha", 1, 0, 0)}))
	state, _ = State(ctx, s)
	assert.Equal(t, CollectionPresent, state)

	require.NoError(t, s.EnsureAndUpsert(ctx, []Unit{unit("b", "beta", 0, 1, 0)}))
	assert.Equal(t, 2, s.Len())

	require.NoError(t, s.Purge(ctx))
	state, _ = State(ctx, s)
	assert.Equal(t, CollectionAbsent, state)

	// 再次删除为空操作
	require.NoError(t, s.Purge(ctx))
	state, _ = State(ctx, s)
	assert.Equal(t, CollectionAbsent, state)
}

func TestMemoryStore_SearchAbsentIsEmpty(t *testing.T) {
	results, err := NewMemoryCollectionStore().Search(context.Background(), []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryStore_SearchOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCollectionStore()
	require.NoError(t, s.EnsureAndUpsert(ctx, []Unit{
		unit("x", "x", 1, 0, 0),
		unit("y", "y", 0, 1, 0),
		unit("xy", "xy", 1, 1, 0),
	}))

	results, err := s.Search(ctx, []float32{1, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "x", results[0].Unit.ID)
	assert.Equal(t, "xy", results[1].Unit.ID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	assert.Nil(t, results[0].Unit.Embedding)
}

func TestMemoryStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCollectionStore()
	require.NoError(t, s.EnsureAndUpsert(ctx, []Unit{unit("a", "a", 1, 0, 0)}))

	err := s.EnsureAndUpsert(ctx, []Unit{unit("b", "b", 1, 0)})
	assert.True(t, errors.Is(err, apperrors.ErrDimensionMismatch))
	assert.Equal(t, 1, s.Len())

	// 批次内维度不一致也拒绝
	err = NewMemoryCollectionStore().EnsureAndUpsert(ctx, []Unit{unit("a", "a", 1, 0), unit("b", "b", 1, 0, 0)})
	assert.True(t, errors.Is(err, apperrors.ErrDimensionMismatch))

	_, err = s.Search(ctx, []float32{1, 0}, 3)
	assert.True(t, errors.Is(err, apperrors.ErrDimensionMismatch))
}

func TestMemoryStore_Inventory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCollectionStore()

	inv, err := s.Inventory(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, inv.TotalPoints)
	assert.Empty(t, inv.Units)

	require.NoError(t, s.EnsureAndUpsert(ctx, []Unit{
		unit("a", "a", 1, 0), unit("b", "b", 0, 1), unit("c", "c", 1, 1),
	}))

	inv, err = s.Inventory(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, inv.TotalPoints)
	require.Len(t, inv.Units, 2)
	assert.Equal(t, "a", inv.Units[0].ID)
	assert.Nil(t, inv.Units[0].Embedding)

	inv, err = s.Inventory(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, inv.Units, 3)
}
