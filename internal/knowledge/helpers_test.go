package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/stretchr/testify/mock"
)

// hashEmbedder 基于词哈希的确定性向量，含相同词的文本相似度更高
type hashEmbedder struct {
	dim   int
	calls int
}

func newHashEmbedder(dim int) *hashEmbedder {
	return &hashEmbedder{dim: dim}
}

func (e *hashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		v[int(h.Sum32())%e.dim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / math.Sqrt(norm))
	}
	return v
}

func (e *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	return e.vector(text), nil
}

func (e *hashEmbedder) Dimensions() int { return e.dim }

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if v := args.Get(0); v != nil {
		return v.([][]float32), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if v := args.Get(0); v != nil {
		return v.([]float32), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockEmbedder) Dimensions() int { return 3 }

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

type stubRetriever struct {
	results []ScoredUnit
	err     error
}

func (r *stubRetriever) Retrieve(ctx context.Context, query string, k int) ([]ScoredUnit, error) {
	return r.results, r.err
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Exists(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) EnsureAndUpsert(ctx context.Context, units []Unit) error {
	return m.Called(ctx, units).Error(0)
}

func (m *mockStore) Search(ctx context.Context, vector []float32, k int) ([]ScoredUnit, error) {
	args := m.Called(ctx, vector, k)
	if v := args.Get(0); v != nil {
		return v.([]ScoredUnit), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) Purge(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Inventory(ctx context.Context, limit int) (Inventory, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).(Inventory), args.Error(1)
}

func (m *mockStore) Close() error { return nil }
