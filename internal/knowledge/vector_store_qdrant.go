package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/aihub/rag-backend/internal/errors"
	"github.com/aihub/rag-backend/internal/logger"
	"go.uber.org/zap"
)

const DefaultQdrantURL = "http://localhost:6333"

// QdrantOptions Qdrant客户端配置
type QdrantOptions struct {
	Endpoint   string
	APIKey     string
	Collection string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type qdrantCollectionStore struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	collection string
}

// NewQdrantCollectionStore 创建基于Qdrant REST接口的集合存储
func NewQdrantCollectionStore(opts QdrantOptions) (CollectionStore, error) {
	if opts.Collection == "" {
		opts.Collection = DefaultCollectionName
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	endpoint := normalizeEndpoint(opts.Endpoint, DefaultQdrantURL)
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid qdrant endpoint %q: %w", opts.Endpoint, err)
	}

	return &qdrantCollectionStore{
		client:     client,
		endpoint:   endpoint,
		apiKey:     opts.APIKey,
		collection: opts.Collection,
	}, nil
}

func (s *qdrantCollectionStore) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.collection) + suffix
}

// describe 返回集合是否存在以及向量维度（无法解析时为0）
func (s *qdrantCollectionStore) describe(ctx context.Context) (bool, int, error) {
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors json.RawMessage `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}

	status, err := s.call(ctx, http.MethodGet, s.collectionPath(""), nil, &info)
	if err != nil {
		if status == http.StatusNotFound {
			return false, 0, nil
		}
		return false, 0, apperrors.StoreUnavailable("describe collection", err)
	}

	var vectors struct {
		Size int `json:"size"`
	}
	if len(info.Result.Config.Params.Vectors) > 0 {
		_ = json.Unmarshal(info.Result.Config.Params.Vectors, &vectors)
	}
	return true, vectors.Size, nil
}

func (s *qdrantCollectionStore) Exists(ctx context.Context) (bool, error) {
	ok, _, err := s.describe(ctx)
	return ok, err
}

func (s *qdrantCollectionStore) createCollection(ctx context.Context, dim int) error {
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	status, err := s.call(ctx, http.MethodPut, s.collectionPath(""), body, nil)
	if err == nil {
		logger.Info("qdrant collection created", zap.String("collection", s.collection), zap.Int("dimension", dim))
		return nil
	}
	// 并发创建时以对方创建的集合为准
	if status == http.StatusConflict {
		return nil
	}
	return apperrors.StoreUnavailable("create collection", err)
}

func (s *qdrantCollectionStore) EnsureAndUpsert(ctx context.Context, units []Unit) error {
	if len(units) == 0 {
		return nil
	}
	dim, err := batchDimension(units)
	if err != nil {
		return err
	}

	exists, existingDim, err := s.describe(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.createCollection(ctx, dim); err != nil {
			return err
		}
		if _, existingDim, err = s.describe(ctx); err != nil {
			return err
		}
	}
	if existingDim != 0 && existingDim != dim {
		return apperrors.DimensionMismatch(existingDim, dim)
	}

	written := make([]Unit, 0, len(units))
	for _, page := range pages(len(units), upsertPageSize) {
		batch := units[page[0]:page[1]]
		points := make([]map[string]interface{}, 0, len(batch))
		for _, u := range batch {
			points = append(points, map[string]interface{}{
				"id":      u.ID,
				"vector":  u.Embedding,
				"payload": unitPayload(u),
			})
		}

		if _, err := s.call(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]interface{}{"points": points}, nil); err != nil {
			s.rollback(written)
			return apperrors.StoreUnavailable("upsert", err)
		}
		written = append(written, batch...)
	}
	return nil
}

// rollback 删除批次中已写入的点，使失败的批次不留下部分数据
func (s *qdrantCollectionStore) rollback(written []Unit) {
	if len(written) == 0 {
		return
	}
	// 原请求可能已被取消，回滚使用独立的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	body := map[string]interface{}{"points": unitIDs(written)}
	if _, err := s.call(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), body, nil); err != nil {
		logger.Error("qdrant rollback failed",
			zap.String("collection", s.collection),
			zap.Int("points", len(written)),
			zap.Error(err))
	}
}

func (s *qdrantCollectionStore) Search(ctx context.Context, vector []float32, k int) ([]ScoredUnit, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}
	exists, dim, err := s.describe(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	if dim != 0 && dim != len(vector) {
		return nil, apperrors.DimensionMismatch(dim, len(vector))
	}

	body := map[string]interface{}{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  false,
	}
	var resp struct {
		Result []struct {
			ID      interface{}            `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	status, err := s.call(ctx, http.MethodPost, s.collectionPath("/points/search"), body, &resp)
	if err != nil {
		// 集合在两次请求之间被删除
		if status == http.StatusNotFound {
			return nil, nil
		}
		return nil, apperrors.StoreUnavailable("search", err)
	}

	results := make([]ScoredUnit, 0, len(resp.Result))
	for _, item := range resp.Result {
		results = append(results, ScoredUnit{
			Unit:  unitFromPayload(formatPointID(item.ID), item.Payload),
			Score: item.Score,
		})
	}
	return results, nil
}

func (s *qdrantCollectionStore) Purge(ctx context.Context) error {
	status, err := s.call(ctx, http.MethodDelete, s.collectionPath(""), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return apperrors.StoreUnavailable("delete collection", err)
	}
	return nil
}

func (s *qdrantCollectionStore) count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if _, err := s.call(ctx, http.MethodPost, s.collectionPath("/points/count"), map[string]interface{}{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (s *qdrantCollectionStore) Inventory(ctx context.Context, limit int) (Inventory, error) {
	exists, _, err := s.describe(ctx)
	if err != nil {
		return Inventory{}, err
	}
	if !exists {
		return Inventory{}, nil
	}

	total, err := s.count(ctx)
	if err != nil {
		return Inventory{}, apperrors.StoreUnavailable("count", err)
	}

	inv := Inventory{TotalPoints: total}
	seen := make(map[string]struct{})
	var offset interface{}

	for {
		pageLimit := scrollPageSize
		if limit > 0 && limit-len(inv.Units) < pageLimit {
			pageLimit = limit - len(inv.Units)
		}
		body := map[string]interface{}{
			"limit":        pageLimit,
			"with_payload": true,
			"with_vector":  false,
		}
		if offset != nil {
			body["offset"] = offset
		}

		var resp struct {
			Result struct {
				Points []struct {
					ID      interface{}            `json:"id"`
					Payload map[string]interface{} `json:"payload"`
				} `json:"points"`
				NextPageOffset interface{} `json:"next_page_offset"`
			} `json:"result"`
		}
		if _, err := s.call(ctx, http.MethodPost, s.collectionPath("/points/scroll"), body, &resp); err != nil {
			return Inventory{}, apperrors.StoreUnavailable("scroll", err)
		}

		for _, p := range resp.Result.Points {
			id := formatPointID(p.ID)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			inv.Units = append(inv.Units, unitFromPayload(id, p.Payload))
		}

		offset = resp.Result.NextPageOffset
		if offset == nil || len(resp.Result.Points) == 0 {
			break
		}
		if limit > 0 && len(inv.Units) >= limit {
			break
		}
	}
	return inv, nil
}

func (s *qdrantCollectionStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func formatPointID(id interface{}) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

// call 发送请求并解码响应，返回HTTP状态码（请求未发出时为0）
func (s *qdrantCollectionStore) call(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	resp, err := s.doRequest(ctx, method, path, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s: %s %s", method, path, resp.Status, string(raw))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode qdrant response: %w", err)
	}
	return resp.StatusCode, nil
}

func (s *qdrantCollectionStore) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	return s.client.Do(req)
}
