package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/rag-backend/internal/config"
	apperrors "github.com/aihub/rag-backend/internal/errors"
	"github.com/aihub/rag-backend/internal/kafka"
	"github.com/aihub/rag-backend/internal/knowledge"
	"github.com/aihub/rag-backend/internal/logger"
	"github.com/aihub/rag-backend/internal/metrics"
)

// DefaultTextSource 手动输入文本的来源标识
const DefaultTextSource = "manual-input"

// Credentials 单次请求携带的凭据，请求头中的Qdrant配置优先于全局配置
type Credentials struct {
	OpenAIAPIKey string
	QdrantURL    string
	QdrantAPIKey string
}

// StoreFactory 创建向量集合存储
type StoreFactory func(ctx context.Context, creds Credentials) (knowledge.CollectionStore, error)

// EmbedderFactory 创建嵌入模型客户端
type EmbedderFactory func(creds Credentials) (knowledge.Embedder, error)

// GeneratorFactory 创建生成模型客户端
type GeneratorFactory func(creds Credentials) (knowledge.Generator, error)

// FactoryOption 工厂选项
type FactoryOption func(*Factory)

// WithStoreFactory 替换集合存储的创建方式
func WithStoreFactory(fn StoreFactory) FactoryOption {
	return func(f *Factory) { f.newStore = fn }
}

// WithEmbedderFactory 替换嵌入模型的创建方式
func WithEmbedderFactory(fn EmbedderFactory) FactoryOption {
	return func(f *Factory) { f.newEmbedder = fn }
}

// WithGeneratorFactory 替换生成模型的创建方式
func WithGeneratorFactory(fn GeneratorFactory) FactoryOption {
	return func(f *Factory) { f.newGenerator = fn }
}

// WithWebLoader 替换网页加载器
func WithWebLoader(loader *knowledge.WebLoader) FactoryOption {
	return func(f *Factory) { f.loader = loader }
}

// Factory 按请求创建RAGService
type Factory struct {
	cfg       *config.Config
	metrics   *metrics.Collector
	publisher kafka.EventPublisher
	parsers   *knowledge.FileParserManager
	loader    *knowledge.WebLoader

	newStore     StoreFactory
	newEmbedder  EmbedderFactory
	newGenerator GeneratorFactory

	memOnce  sync.Once
	memStore *knowledge.MemoryCollectionStore

	breakers *breakerRegistry
}

// NewFactory 创建服务工厂
func NewFactory(cfg *config.Config, collector *metrics.Collector, publisher kafka.EventPublisher, opts ...FactoryOption) *Factory {
	if publisher == nil {
		publisher = kafka.NoopPublisher{}
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	bc := cfg.VectorStore.Breaker
	f := &Factory{
		cfg:       cfg,
		metrics:   collector,
		publisher: publisher,
		parsers:   knowledge.NewFileParserManager(),
		loader:    knowledge.NewWebLoader(cfg.AI.RequestTimeout),
		breakers:  newBreakerRegistry(bc.FailureThreshold, bc.SuccessThreshold, bc.Cooldown),
	}
	f.newStore = f.defaultStore
	f.newEmbedder = f.defaultEmbedder
	f.newGenerator = f.defaultGenerator

	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Parsers 返回文件解析器
func (f *Factory) Parsers() *knowledge.FileParserManager {
	return f.parsers
}

// BreakerStats 返回各存储端点的熔断器状态
func (f *Factory) BreakerStats() map[string]interface{} {
	return f.breakers.stats()
}

// storeKey 存储端点标识，用于区分熔断器
func (f *Factory) storeKey(creds Credentials) string {
	vs := f.cfg.VectorStore
	switch vs.Provider {
	case "memory":
		return "memory"
	case "milvus":
		return "milvus:" + vs.Milvus.Address
	default:
		if creds.QdrantURL != "" {
			return "qdrant:" + creds.QdrantURL
		}
		return "qdrant:" + vs.Qdrant.URL
	}
}

// New 创建请求级服务，存储和模型客户端在首次使用时才创建
func (f *Factory) New(creds Credentials) *RAGService {
	if strings.TrimSpace(creds.OpenAIAPIKey) == "" {
		creds.OpenAIAPIKey = f.cfg.AI.OpenAIAPIKey
	}
	return &RAGService{factory: f, creds: creds}
}

func (f *Factory) defaultStore(ctx context.Context, creds Credentials) (knowledge.CollectionStore, error) {
	vs := f.cfg.VectorStore
	switch vs.Provider {
	case "memory":
		f.memOnce.Do(func() { f.memStore = knowledge.NewMemoryCollectionStore() })
		return f.memStore, nil
	case "milvus":
		return knowledge.NewMilvusCollectionStore(ctx, knowledge.MilvusOptions{
			Address:    vs.Milvus.Address,
			Username:   vs.Milvus.Username,
			Password:   vs.Milvus.Password,
			Database:   vs.Milvus.Database,
			Collection: f.cfg.Knowledge.Collection,
			UseTLS:     vs.Milvus.TLS,
			Timeout:    f.cfg.AI.RequestTimeout,
		})
	default:
		endpoint := creds.QdrantURL
		apiKey := creds.QdrantAPIKey
		if endpoint == "" {
			endpoint = vs.Qdrant.URL
		}
		if apiKey == "" {
			apiKey = vs.Qdrant.APIKey
		}
		return knowledge.NewQdrantCollectionStore(knowledge.QdrantOptions{
			Endpoint:   endpoint,
			APIKey:     apiKey,
			Collection: f.cfg.Knowledge.Collection,
			Timeout:    vs.Qdrant.Timeout,
		})
	}
}

func (f *Factory) openAIOptions(creds Credentials) knowledge.OpenAIOptions {
	return knowledge.OpenAIOptions{
		APIKey:  creds.OpenAIAPIKey,
		BaseURL: f.cfg.AI.BaseURL,
		Timeout: f.cfg.AI.RequestTimeout,
	}
}

func (f *Factory) defaultEmbedder(creds Credentials) (knowledge.Embedder, error) {
	return knowledge.NewOpenAIEmbedder(f.openAIOptions(creds), f.cfg.AI.EmbeddingModel)
}

func (f *Factory) defaultGenerator(creds Credentials) (knowledge.Generator, error) {
	return knowledge.NewOpenAIGenerator(f.openAIOptions(creds), f.cfg.AI.ChatModel, f.cfg.AI.Temperature)
}

// RAGService 请求级检索增强服务，所有步骤在调用方goroutine中顺序执行
type RAGService struct {
	factory *Factory
	creds   Credentials

	store     knowledge.CollectionStore
	embedder  knowledge.Embedder
	generator knowledge.Generator
}

// SourceSummary 单个来源的统计
type SourceSummary struct {
	Source        string    `json:"name"`
	Type          string    `json:"type"`
	Chunks        int       `json:"chunks"`
	LastIndexedAt time.Time `json:"timestamp"`
}

// StoreSummary 知识库统计
type StoreSummary struct {
	TotalDocuments int             `json:"totalDocuments"`
	TotalChunks    int             `json:"totalChunks"`
	Sources        []SourceSummary `json:"sources"`
}

func (s *RAGService) collection(ctx context.Context) (knowledge.CollectionStore, error) {
	if s.store != nil {
		return s.store, nil
	}
	store, err := s.factory.newStore(ctx, s.creds)
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.StoreUnavailable("connect", err)
	}
	s.store = newBreakerStore(store, s.factory.breakers.get(s.factory.storeKey(s.creds)))
	return s.store, nil
}

func (s *RAGService) embedderClient() (knowledge.Embedder, error) {
	if s.embedder != nil {
		return s.embedder, nil
	}
	e, err := s.factory.newEmbedder(s.creds)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("apiKey", err.Error())
	}
	s.embedder = e
	return e, nil
}

func (s *RAGService) generatorClient() (knowledge.Generator, error) {
	if s.generator != nil {
		return s.generator, nil
	}
	g, err := s.factory.newGenerator(s.creds)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("apiKey", err.Error())
	}
	s.generator = g
	return g, nil
}

func (s *RAGService) indexer(ctx context.Context) (*knowledge.Indexer, error) {
	embedder, err := s.embedderClient()
	if err != nil {
		return nil, err
	}
	store, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	k := s.factory.cfg.Knowledge
	return knowledge.NewIndexer(knowledge.NewChunker(k.ChunkSize, k.ChunkOverlap), embedder, store), nil
}

func (s *RAGService) index(ctx context.Context, content, sourceID string, kind knowledge.SourceKind) (int, error) {
	ix, err := s.indexer(ctx)
	if err != nil {
		return 0, err
	}
	n, err := ix.Index(ctx, content, sourceID, kind)
	if err != nil {
		return 0, err
	}
	s.factory.metrics.RecordIndexed(string(kind), n)
	s.publish(ctx, kafka.Event{
		Type:       kafka.EventIndexed,
		SourceID:   sourceID,
		SourceKind: string(kind),
		Chunks:     n,
	})
	return n, nil
}

func (s *RAGService) publish(ctx context.Context, event kafka.Event) {
	if err := s.factory.publisher.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish knowledge event",
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

// IndexText 索引手动输入的文本
func (s *RAGService) IndexText(ctx context.Context, text, sourceID string) (n int, err error) {
	started := time.Now()
	defer func() { s.factory.metrics.ObserveOperation("index_text", started, err) }()

	if sourceID == "" {
		sourceID = DefaultTextSource
	}
	return s.index(ctx, text, sourceID, knowledge.SourceKindText)
}

// IndexWebsite 索引已抓取的网页正文，来源为页面URL
func (s *RAGService) IndexWebsite(ctx context.Context, content, url string) (int, error) {
	return s.index(ctx, content, url, knowledge.SourceKindWebsite)
}

// IndexURL 抓取网页正文并索引
func (s *RAGService) IndexURL(ctx context.Context, url string) (n int, err error) {
	started := time.Now()
	defer func() { s.factory.metrics.ObserveOperation("index_website", started, err) }()

	content, err := s.factory.loader.Load(ctx, url)
	if err != nil {
		return 0, apperrors.NewExternalError(apperrors.ErrCodeExternalService, "Failed to load website").WithCause(err)
	}
	if strings.TrimSpace(content) == "" {
		return 0, apperrors.NewValidationError("No content found at URL")
	}
	return s.IndexWebsite(ctx, content, url)
}

// IndexFile 解析文件并逐段索引，返回分块总数
func (s *RAGService) IndexFile(ctx context.Context, path, filename, mimeType string) (total int, err error) {
	started := time.Now()
	defer func() { s.factory.metrics.ObserveOperation("index_file", started, err) }()

	sections, err := s.factory.parsers.ParseFile(path, filename, mimeType)
	if err != nil {
		return 0, err
	}

	for _, section := range sections {
		if strings.TrimSpace(section.Content) == "" {
			continue
		}
		n, err := s.index(ctx, section.Content, section.SourceID, knowledge.SourceKindFile)
		if err != nil {
			return total, err
		}
		total += n
	}

	logger.Info("file indexed",
		zap.String("filename", filename),
		zap.Int("sections", len(sections)),
		zap.Int("chunks", total))
	return total, nil
}

// Query 基于已索引内容回答问题
func (s *RAGService) Query(ctx context.Context, question string) (answer knowledge.Answer, err error) {
	started := time.Now()
	defer func() { s.factory.metrics.ObserveOperation("query", started, err) }()

	store, err := s.collection(ctx)
	if err != nil {
		return knowledge.Answer{}, apperrors.RetrievalFailed(err)
	}
	embedder, err := s.embedderClient()
	if err != nil {
		return knowledge.Answer{}, err
	}
	generator, err := s.generatorClient()
	if err != nil {
		return knowledge.Answer{}, err
	}

	k := s.factory.cfg.Knowledge
	synth := knowledge.NewSynthesizer(store, knowledge.NewVectorRetriever(embedder, store), generator,
		knowledge.SynthesizerOptions{TopK: k.TopK, MaxContextChars: k.MaxContextChars})

	answer, err = synth.Answer(ctx, question)
	if err != nil {
		return knowledge.Answer{}, err
	}
	s.factory.metrics.RecordQuery(string(answer.Outcome))
	return answer, nil
}

// PurgeAll 删除整个集合，集合不存在时不报错
func (s *RAGService) PurgeAll(ctx context.Context) (err error) {
	started := time.Now()
	defer func() { s.factory.metrics.ObserveOperation("purge", started, err) }()

	store, err := s.collection(ctx)
	if err != nil {
		return err
	}
	if err = store.Purge(ctx); err != nil {
		return err
	}
	s.factory.metrics.RecordPurge()
	s.publish(ctx, kafka.Event{Type: kafka.EventPurged})
	logger.Info("collection purged", zap.String("collection", s.factory.cfg.Knowledge.Collection))
	return nil
}

// Inventory 统计集合内容，来源按最近索引时间排序并截断到limit
func (s *RAGService) Inventory(ctx context.Context, limit int) (StoreSummary, error) {
	if limit <= 0 {
		limit = s.factory.cfg.Knowledge.InventoryLimit
	}
	store, err := s.collection(ctx)
	if err != nil {
		return StoreSummary{}, err
	}
	inv, err := store.Inventory(ctx, 0)
	if err != nil {
		return StoreSummary{}, err
	}
	return summarize(inv, limit), nil
}

func summarize(inv knowledge.Inventory, limit int) StoreSummary {
	bySource := make(map[string]*SourceSummary)
	for _, u := range inv.Units {
		src, ok := bySource[u.SourceID]
		if !ok {
			src = &SourceSummary{Source: u.SourceID, Type: string(u.SourceKind)}
			bySource[u.SourceID] = src
		}
		src.Chunks++
		if u.IndexedAt.After(src.LastIndexedAt) {
			src.LastIndexedAt = u.IndexedAt
		}
	}

	sources := make([]SourceSummary, 0, len(bySource))
	for _, src := range bySource {
		sources = append(sources, *src)
	}
	sort.Slice(sources, func(i, j int) bool {
		if !sources[i].LastIndexedAt.Equal(sources[j].LastIndexedAt) {
			return sources[i].LastIndexedAt.After(sources[j].LastIndexedAt)
		}
		return sources[i].Source < sources[j].Source
	})

	summary := StoreSummary{
		TotalDocuments: len(sources),
		TotalChunks:    inv.TotalPoints,
	}
	if limit > 0 && len(sources) > limit {
		sources = sources[:limit]
	}
	summary.Sources = sources
	return summary
}

// Close 释放存储连接
func (s *RAGService) Close() error {
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	if err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
