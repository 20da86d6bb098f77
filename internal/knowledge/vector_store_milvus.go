package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	apperrors "github.com/aihub/rag-backend/internal/errors"
	"github.com/aihub/rag-backend/internal/logger"
)

const (
	milvusFieldID        = "id"
	milvusFieldVector    = "vector"
	milvusContentMaxLen  = 65535
	milvusMetaMaxLen     = 2048
	DefaultMilvusAddress = "localhost:19530"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Database   string
	Collection string
	UseTLS     bool
	Timeout    time.Duration
}

type milvusCollectionStore struct {
	milvusClient client.Client
	collection   string

	mu     sync.Mutex
	loaded bool
}

// NewMilvusCollectionStore 创建Milvus集合存储
func NewMilvusCollectionStore(ctx context.Context, opts MilvusOptions) (CollectionStore, error) {
	if opts.Address == "" {
		opts.Address = DefaultMilvusAddress
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollectionName
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	milvusClient, err := client.NewClient(dialCtx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, apperrors.StoreUnavailable("connect", err)
	}

	return &milvusCollectionStore{
		milvusClient: milvusClient,
		collection:   milvusCollectionName(opts.Collection),
	}, nil
}

// milvusCollectionName Milvus集合名只允许字母、数字和下划线
func milvusCollectionName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
}

func (s *milvusCollectionStore) Exists(ctx context.Context) (bool, error) {
	ok, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return false, apperrors.StoreUnavailable("has collection", err)
	}
	return ok, nil
}

func (s *milvusCollectionStore) dimension(ctx context.Context) (int, error) {
	coll, err := s.milvusClient.DescribeCollection(ctx, s.collection)
	if err != nil {
		return 0, apperrors.StoreUnavailable("describe collection", err)
	}
	if coll.Schema == nil {
		return 0, nil
	}
	for _, field := range coll.Schema.Fields {
		if field.Name == milvusFieldVector {
			dim, _ := strconv.Atoi(field.TypeParams["dim"])
			return dim, nil
		}
	}
	return 0, nil
}

func (s *milvusCollectionStore) createCollection(ctx context.Context, dim int) error {
	schema := &entity.Schema{
		CollectionName: s.collection,
		Description:    "knowledge units",
		Fields: []*entity.Field{
			{
				Name:       milvusFieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       payloadContent,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": strconv.Itoa(milvusContentMaxLen)},
			},
			{
				Name:       payloadSource,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": strconv.Itoa(milvusMetaMaxLen)},
			},
			{
				Name:       payloadType,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "32"},
			},
			{
				Name:     payloadIndexedAt,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       milvusFieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return apperrors.StoreUnavailable("create collection", err)
	}

	index, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
	if err != nil {
		return fmt.Errorf("build hnsw index: %w", err)
	}
	if err := s.milvusClient.CreateIndex(ctx, s.collection, milvusFieldVector, index, false); err != nil {
		return apperrors.StoreUnavailable("create index", err)
	}

	logger.Info("milvus collection created", zap.String("collection", s.collection), zap.Int("dimension", dim))
	return nil
}

func (s *milvusCollectionStore) ensureLoaded(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		return apperrors.StoreUnavailable("load collection", err)
	}
	s.loaded = true
	return nil
}

func (s *milvusCollectionStore) EnsureAndUpsert(ctx context.Context, units []Unit) error {
	if len(units) == 0 {
		return nil
	}
	dim, err := batchDimension(units)
	if err != nil {
		return err
	}

	exists, err := s.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.createCollection(ctx, dim); err != nil {
			return err
		}
	} else {
		existingDim, err := s.dimension(ctx)
		if err != nil {
			return err
		}
		if existingDim != 0 && existingDim != dim {
			return apperrors.DimensionMismatch(existingDim, dim)
		}
	}

	written := make([]Unit, 0, len(units))
	for _, page := range pages(len(units), upsertPageSize) {
		batch := units[page[0]:page[1]]
		if err := s.insert(ctx, batch, dim); err != nil {
			s.rollback(written)
			return apperrors.StoreUnavailable("insert", err)
		}
		written = append(written, batch...)
	}

	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		s.rollback(written)
		return apperrors.StoreUnavailable("flush", err)
	}
	return s.ensureLoaded(ctx)
}

func (s *milvusCollectionStore) insert(ctx context.Context, batch []Unit, dim int) error {
	ids := make([]string, len(batch))
	contents := make([]string, len(batch))
	sources := make([]string, len(batch))
	kinds := make([]string, len(batch))
	indexedAt := make([]int64, len(batch))
	vectors := make([][]float32, len(batch))
	for i, u := range batch {
		ids[i] = u.ID
		contents[i] = u.Content
		sources[i] = u.SourceID
		kinds[i] = string(u.SourceKind)
		indexedAt[i] = u.IndexedAt.UnixMilli()
		vectors[i] = u.Embedding
	}

	_, err := s.milvusClient.Insert(ctx, s.collection, "",
		entity.NewColumnVarChar(milvusFieldID, ids),
		entity.NewColumnVarChar(payloadContent, contents),
		entity.NewColumnVarChar(payloadSource, sources),
		entity.NewColumnVarChar(payloadType, kinds),
		entity.NewColumnInt64(payloadIndexedAt, indexedAt),
		entity.NewColumnFloatVector(milvusFieldVector, dim, vectors),
	)
	return err
}

func (s *milvusCollectionStore) rollback(written []Unit) {
	if len(written) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.milvusClient.Delete(ctx, s.collection, "", idInExpr(unitIDs(written))); err != nil {
		logger.Error("milvus rollback failed",
			zap.String("collection", s.collection),
			zap.Int("points", len(written)),
			zap.Error(err))
	}
}

func idInExpr(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return fmt.Sprintf("%s in [%s]", milvusFieldID, strings.Join(quoted, ","))
}

var milvusOutputFields = []string{milvusFieldID, payloadContent, payloadSource, payloadType, payloadIndexedAt}

func (s *milvusCollectionStore) Search(ctx context.Context, vector []float32, k int) ([]ScoredUnit, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}
	exists, err := s.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	dim, err := s.dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim != 0 && dim != len(vector) {
		return nil, apperrors.DimensionMismatch(dim, len(vector))
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	searchResults, err := s.milvusClient.Search(
		ctx,
		s.collection,
		[]string{},
		"",
		milvusOutputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		milvusFieldVector,
		entity.COSINE,
		k,
		sp,
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, apperrors.StoreUnavailable("search", err)
	}
	if len(searchResults) == 0 {
		return nil, nil
	}

	result := searchResults[0]
	if result.Err != nil {
		return nil, apperrors.StoreUnavailable("search", result.Err)
	}

	units := unitsFromColumns(result.Fields, result.ResultCount)
	out := make([]ScoredUnit, 0, len(units))
	for i, u := range units {
		score := float64(0)
		if i < len(result.Scores) {
			score = float64(result.Scores[i])
		}
		out = append(out, ScoredUnit{Unit: u, Score: score})
	}
	return out, nil
}

func (s *milvusCollectionStore) Purge(ctx context.Context) error {
	exists, err := s.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := s.milvusClient.DropCollection(ctx, s.collection); err != nil {
		return apperrors.StoreUnavailable("drop collection", err)
	}

	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	return nil
}

func (s *milvusCollectionStore) Inventory(ctx context.Context, limit int) (Inventory, error) {
	exists, err := s.Exists(ctx)
	if err != nil || !exists {
		return Inventory{}, err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return Inventory{}, err
	}

	countSet, err := s.milvusClient.Query(ctx, s.collection, nil, "", []string{"count(*)"},
		client.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return Inventory{}, apperrors.StoreUnavailable("count", err)
	}
	inv := Inventory{}
	if col, ok := countSet.GetColumn("count(*)").(*entity.ColumnInt64); ok && col.Len() > 0 {
		inv.TotalPoints = int(col.Data()[0])
	}

	// 按主键迭代，避开 offset+limit 的上限
	batch := scrollPageSize
	if limit > 0 && limit < batch {
		batch = limit
	}
	itr, err := s.milvusClient.QueryIterator(ctx, client.NewQueryIteratorOption(s.collection).
		WithExpr(milvusFieldID+` != ""`).
		WithOutputFields(milvusOutputFields...).
		WithBatchSize(batch))
	if err != nil {
		return Inventory{}, apperrors.StoreUnavailable("query iterator", err)
	}

	inv.Units, err = drainPages(ctx, itr.Next, limit)
	if err != nil {
		return Inventory{}, apperrors.StoreUnavailable("query", err)
	}
	return inv, nil
}

// drainPages 逐页读取直到 io.EOF，limit>0 时最多返回 limit 个单元
func drainPages(ctx context.Context, next func(context.Context) (client.ResultSet, error), limit int) ([]Unit, error) {
	var units []Unit
	for limit <= 0 || len(units) < limit {
		rs, err := next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		page := unitsFromColumns(rs, -1)
		if len(page) == 0 {
			break
		}
		if limit > 0 && len(units)+len(page) > limit {
			page = page[:limit-len(units)]
		}
		units = append(units, page...)
	}
	return units, nil
}

func (s *milvusCollectionStore) Close() error {
	return s.milvusClient.Close()
}

// unitsFromColumns 将列式结果转换为单元，n<0 时以列长度为准
func unitsFromColumns(columns client.ResultSet, n int) []Unit {
	var (
		ids, contents, sources, kinds []string
		indexedAt                     []int64
	)
	for _, col := range columns {
		switch c := col.(type) {
		case *entity.ColumnVarChar:
			switch c.Name() {
			case milvusFieldID:
				ids = c.Data()
			case payloadContent:
				contents = c.Data()
			case payloadSource:
				sources = c.Data()
			case payloadType:
				kinds = c.Data()
			}
		case *entity.ColumnInt64:
			if c.Name() == payloadIndexedAt {
				indexedAt = c.Data()
			}
		}
	}
	if n < 0 {
		n = len(ids)
	}

	units := make([]Unit, 0, n)
	for i := 0; i < n; i++ {
		u := Unit{}
		if i < len(ids) {
			u.ID = ids[i]
		}
		if i < len(contents) {
			u.Content = contents[i]
		}
		if i < len(sources) {
			u.SourceID = sources[i]
		}
		if i < len(kinds) {
			u.SourceKind = SourceKind(kinds[i])
		}
		if i < len(indexedAt) {
			u.IndexedAt = time.UnixMilli(indexedAt[i]).UTC()
		}
		units = append(units, u)
	}
	return units
}
