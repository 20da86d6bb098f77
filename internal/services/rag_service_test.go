package services

import (
	"context"
	"errors"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aihub/rag-backend/internal/config"
	apperrors "github.com/aihub/rag-backend/internal/errors"
	"github.com/aihub/rag-backend/internal/kafka"
	"github.com/aihub/rag-backend/internal/knowledge"
	"github.com/aihub/rag-backend/internal/metrics"
)

// wordEmbedder 按词哈希生成确定性向量
type wordEmbedder struct{ dim int }

func (e wordEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,?!")))
		v[h.Sum32()%uint32(e.dim)]++
	}
	v[0] += 0.01
	return v
}

func (e wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e wordEmbedder) Dimensions() int { return e.dim }

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Knowledge: config.KnowledgeConfig{
			ChunkSize:       1000,
			ChunkOverlap:    200,
			TopK:            3,
			Collection:      knowledge.DefaultCollectionName,
			MaxContextChars: 12000,
			MaxTextChars:    100000,
			MaxUploadBytes:  10 << 20,
			InventoryLimit:  5,
		},
		VectorStore: config.VectorStoreConfig{Provider: "memory"},
		AI: config.AIConfig{
			EmbeddingModel: knowledge.DefaultEmbeddingModel,
			ChatModel:      knowledge.DefaultChatModel,
			Temperature:    knowledge.DefaultTemperature,
			RequestTimeout: time.Second,
		},
	}
}

func newTestFactory(gen knowledge.Generator, publisher kafka.EventPublisher) (*Factory, *knowledge.MemoryCollectionStore) {
	store := knowledge.NewMemoryCollectionStore()
	f := NewFactory(testConfig(), metrics.NewCollector(), publisher,
		WithStoreFactory(func(ctx context.Context, creds Credentials) (knowledge.CollectionStore, error) {
			return store, nil
		}),
		WithEmbedderFactory(func(creds Credentials) (knowledge.Embedder, error) {
			return wordEmbedder{dim: 32}, nil
		}),
		WithGeneratorFactory(func(creds Credentials) (knowledge.Generator, error) {
			return gen, nil
		}),
	)
	return f, store
}

func TestRAGService_InventoryCountsChunksAndSources(t *testing.T) {
	ctx := context.Background()
	publisher := &recordingPublisher{}
	f, _ := newTestFactory(new(mockGenerator), publisher)
	svc := f.New(Credentials{OpenAIAPIKey: "sk-test"})
	defer svc.Close()

	n1, err := svc.IndexText(ctx, strings.Repeat("a", 2400), "")
	require.NoError(t, err)
	n2, err := svc.IndexWebsite(ctx, "Go is an open source programming language.", "https://go.dev")
	require.NoError(t, err)
	n3, err := svc.IndexText(ctx, "Another manually entered note.", "notes")
	require.NoError(t, err)

	summary, err := svc.Inventory(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, n1+n2+n3, summary.TotalChunks)
	assert.Equal(t, 5, summary.TotalChunks)
	assert.Equal(t, 3, summary.TotalDocuments)
	require.Len(t, summary.Sources, 3)

	chunks := make(map[string]int)
	for _, src := range summary.Sources {
		chunks[src.Source] = src.Chunks
	}
	assert.Equal(t, 3, chunks[DefaultTextSource])
	assert.Equal(t, 1, chunks["https://go.dev"])
	assert.Equal(t, 1, chunks["notes"])

	summary, err = svc.Inventory(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalDocuments)
	assert.Len(t, summary.Sources, 2)

	require.Len(t, publisher.events, 3)
	assert.Equal(t, kafka.EventIndexed, publisher.events[0].Type)
	assert.Equal(t, 3, publisher.events[0].Chunks)
}

func TestSummarize_OrdersByMostRecent(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	inv := knowledge.Inventory{
		TotalPoints: 4,
		Units: []knowledge.Unit{
			{ID: "1", SourceID: "old", SourceKind: knowledge.SourceKindText, IndexedAt: base},
			{ID: "2", SourceID: "new", SourceKind: knowledge.SourceKindFile, IndexedAt: base.Add(2 * time.Hour)},
			{ID: "3", SourceID: "mid", SourceKind: knowledge.SourceKindWebsite, IndexedAt: base.Add(time.Hour)},
			{ID: "4", SourceID: "old", SourceKind: knowledge.SourceKindText, IndexedAt: base.Add(3 * time.Hour)},
		},
	}

	summary := summarize(inv, 5)
	require.Len(t, summary.Sources, 3)
	assert.Equal(t, "old", summary.Sources[0].Source)
	assert.Equal(t, 2, summary.Sources[0].Chunks)
	assert.Equal(t, base.Add(3*time.Hour), summary.Sources[0].LastIndexedAt)
	assert.Equal(t, "new", summary.Sources[1].Source)
	assert.Equal(t, "mid", summary.Sources[2].Source)

	empty := summarize(knowledge.Inventory{}, 5)
	assert.Equal(t, 0, empty.TotalDocuments)
	assert.Empty(t, empty.Sources)
}

func TestRAGService_IndexFileAggregatesRows(t *testing.T) {
	ctx := context.Background()
	f, store := newTestFactory(new(mockGenerator), nil)
	svc := f.New(Credentials{OpenAIAPIKey: "sk-test"})

	path := filepath.Join(t.TempDir(), "upload")
	require.NoError(t, os.WriteFile(path, []byte("name,city\nAlice,Paris\nBob,Berlin\n,\n"), 0o600))

	n, err := svc.IndexFile(ctx, path, "people.csv", "text/csv")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, store.Len())

	summary, err := svc.Inventory(ctx, 0)
	require.NoError(t, err)
	names := []string{summary.Sources[0].Source, summary.Sources[1].Source}
	assert.ElementsMatch(t, []string{"people.csv:1", "people.csv:2"}, names)
	assert.Equal(t, "file", summary.Sources[0].Type)
}

func TestRAGService_QueryEmptyStoreSkipsGenerator(t *testing.T) {
	gen := new(mockGenerator)
	f, _ := newTestFactory(gen, nil)

	answer, err := f.New(Credentials{OpenAIAPIKey: "sk-test"}).Query(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, knowledge.NoDocumentsMessage, answer.Text)
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRAGService_QueryAndPurge(t *testing.T) {
	ctx := context.Background()
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, "What is the capital of France?").
		Return("The capital of France is Paris.", nil).Once()
	publisher := &recordingPublisher{}
	f, store := newTestFactory(gen, publisher)
	svc := f.New(Credentials{OpenAIAPIKey: "sk-test"})

	_, err := svc.IndexText(ctx, "The capital of France is Paris.", "")
	require.NoError(t, err)

	answer, err := svc.Query(ctx, "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, knowledge.OutcomeAnswered, answer.Outcome)
	assert.Contains(t, answer.Text, "Paris")

	require.NoError(t, svc.PurgeAll(ctx))
	require.NoError(t, svc.PurgeAll(ctx))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, kafka.EventPurged, publisher.events[len(publisher.events)-1].Type)

	answer, err = svc.Query(ctx, "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, knowledge.OutcomeNoDocuments, answer.Outcome)
	gen.AssertExpectations(t)
}

func TestFactory_MemoryProviderSharesStore(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(testConfig(), nil, nil,
		WithEmbedderFactory(func(creds Credentials) (knowledge.Embedder, error) {
			return wordEmbedder{dim: 16}, nil
		}))

	first := f.New(Credentials{OpenAIAPIKey: "sk-one"})
	_, err := first.IndexText(ctx, "shared between requests", "")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	summary, err := f.New(Credentials{}).Inventory(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalChunks)
}

func TestFactory_MissingAPIKey(t *testing.T) {
	f := NewFactory(testConfig(), nil, nil)

	_, err := f.New(Credentials{}).IndexText(context.Background(), "some text to index", "")
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, appErr.Code)
}

func TestFactory_StoreErrorsBecomeUnavailable(t *testing.T) {
	f := NewFactory(testConfig(), nil, nil,
		WithStoreFactory(func(ctx context.Context, creds Credentials) (knowledge.CollectionStore, error) {
			return nil, errors.New("dial tcp: connection refused")
		}))

	_, err := f.New(Credentials{}).Inventory(context.Background(), 0)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
}

func TestFactory_QdrantCredentialsOverrideConfig(t *testing.T) {
	cfg := testConfig()
	cfg.VectorStore.Provider = "qdrant"
	cfg.VectorStore.Qdrant.URL = "http://config-host:6333"

	var got Credentials
	f := NewFactory(cfg, nil, nil)
	f.newStore = func(ctx context.Context, creds Credentials) (knowledge.CollectionStore, error) {
		got = creds
		return f.defaultStore(ctx, creds)
	}

	svc := f.New(Credentials{QdrantURL: "http://request-host:6333", QdrantAPIKey: "secret"})
	store, err := svc.collection(context.Background())
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, "http://request-host:6333", got.QdrantURL)
	assert.Equal(t, "secret", got.QdrantAPIKey)
	require.NoError(t, svc.Close())
}

func TestRAGService_IndexURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(`<html><head><script>var x = 1;</script></head><body><p>Qdrant stores vectors.</p></body></html>`))
		case "/blank":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(`<html><body><script>only()</script></body></html>`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	publisher := &recordingPublisher{}
	f, store := newTestFactory(new(mockGenerator), publisher)
	WithWebLoader(knowledge.NewWebLoader(time.Second))(f)
	svc := f.New(Credentials{OpenAIAPIKey: "sk-test"})
	defer svc.Close()

	n, err := svc.IndexURL(ctx, srv.URL+"/article")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	inv, err := store.Inventory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, inv.Units, 1)
	assert.Equal(t, srv.URL+"/article", inv.Units[0].SourceID)
	assert.Equal(t, knowledge.SourceKindWebsite, inv.Units[0].SourceKind)
	assert.NotContains(t, inv.Units[0].Content, "var x")

	_, err = svc.IndexURL(ctx, srv.URL+"/blank")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.IndexURL(ctx, srv.URL+"/missing")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeExternalService, apperrors.GetAppError(err).Code)
}
