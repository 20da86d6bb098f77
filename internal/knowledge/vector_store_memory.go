package knowledge

import (
	"context"
	"math"
	"sort"
	"sync"

	apperrors "github.com/aihub/rag-backend/internal/errors"
)

// MemoryCollectionStore 进程内集合存储，用于本地运行和测试
type MemoryCollectionStore struct {
	mu      sync.RWMutex
	present bool
	dim     int
	units   []Unit
	index   map[string]int
}

// NewMemoryCollectionStore 创建内存集合存储
func NewMemoryCollectionStore() *MemoryCollectionStore {
	return &MemoryCollectionStore{index: make(map[string]int)}
}

func (s *MemoryCollectionStore) Exists(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.present, nil
}

func (s *MemoryCollectionStore) EnsureAndUpsert(ctx context.Context, units []Unit) error {
	if len(units) == 0 {
		return nil
	}
	dim, err := batchDimension(units)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperrors.StoreUnavailable("upsert", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.present && s.dim != dim {
		return apperrors.DimensionMismatch(s.dim, dim)
	}
	if !s.present {
		s.present = true
		s.dim = dim
	}

	for _, u := range units {
		stored := u
		stored.Embedding = append([]float32(nil), u.Embedding...)
		if i, ok := s.index[u.ID]; ok {
			s.units[i] = stored
			continue
		}
		s.index[u.ID] = len(s.units)
		s.units = append(s.units, stored)
	}
	return nil
}

func (s *MemoryCollectionStore) Search(ctx context.Context, vector []float32, k int) ([]ScoredUnit, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.present {
		return nil, nil
	}
	if s.dim != len(vector) {
		return nil, apperrors.DimensionMismatch(s.dim, len(vector))
	}

	results := make([]ScoredUnit, 0, len(s.units))
	for _, u := range s.units {
		unit := u
		unit.Embedding = nil
		results = append(results, ScoredUnit{Unit: unit, Score: cosineSimilarity(vector, u.Embedding)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *MemoryCollectionStore) Purge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.present = false
	s.dim = 0
	s.units = nil
	s.index = make(map[string]int)
	return nil
}

func (s *MemoryCollectionStore) Inventory(ctx context.Context, limit int) (Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv := Inventory{TotalPoints: len(s.units)}
	n := len(s.units)
	if limit > 0 && limit < n {
		n = limit
	}
	inv.Units = make([]Unit, 0, n)
	for _, u := range s.units[:n] {
		unit := u
		unit.Embedding = nil
		inv.Units = append(inv.Units, unit)
	}
	return inv, nil
}

// Close 内存存储无需释放资源
func (s *MemoryCollectionStore) Close() error {
	return nil
}

// Len 返回已存储的单元数
func (s *MemoryCollectionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
