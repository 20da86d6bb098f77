package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/aihub/rag-backend/internal/errors"
)

// 每次写入的点数，批次按页顺序写入
const upsertPageSize = 64

// scroll 单页大小
const scrollPageSize = 256

// CollectionStore 单一向量集合的存储抽象，集合只有 Absent/Present 两种状态
type CollectionStore interface {
	Exists(ctx context.Context) (bool, error)
	// EnsureAndUpsert 集合不存在时按向量维度创建，然后追加写入；批次要么全部写入要么全部不保留
	EnsureAndUpsert(ctx context.Context, units []Unit) error
	// Search 按相似度降序返回最多 k 个结果，集合不存在或为空时返回空结果
	Search(ctx context.Context, vector []float32, k int) ([]ScoredUnit, error)
	// Purge 删除整个集合，集合不存在时为空操作
	Purge(ctx context.Context) error
	// Inventory 返回点总数和最多 limit 个单元（limit<=0 返回全部），不含向量
	Inventory(ctx context.Context, limit int) (Inventory, error)
	Close() error
}

// State 查询集合当前状态
func State(ctx context.Context, store CollectionStore) (CollectionState, error) {
	ok, err := store.Exists(ctx)
	if err != nil {
		return CollectionAbsent, err
	}
	if ok {
		return CollectionPresent, nil
	}
	return CollectionAbsent, nil
}

// batchDimension 校验批次内向量维度一致且非空，返回维度
func batchDimension(units []Unit) (int, error) {
	if len(units) == 0 {
		return 0, nil
	}
	dim := len(units[0].Embedding)
	if dim == 0 {
		return 0, fmt.Errorf("unit %s has empty embedding", units[0].ID)
	}
	for _, u := range units[1:] {
		if len(u.Embedding) != dim {
			return 0, apperrors.DimensionMismatch(dim, len(u.Embedding))
		}
	}
	return dim, nil
}

func pages(n, size int) [][2]int {
	out := make([][2]int, 0, n/size+1)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func unitPayload(u Unit) map[string]interface{} {
	return map[string]interface{}{
		payloadContent:   u.Content,
		payloadSource:    u.SourceID,
		payloadType:      string(u.SourceKind),
		payloadIndexedAt: u.IndexedAt.UTC().Format(time.RFC3339Nano),
	}
}

func unitFromPayload(id string, payload map[string]interface{}) Unit {
	u := Unit{ID: id}
	if v, ok := payload[payloadContent].(string); ok {
		u.Content = v
	}
	if v, ok := payload[payloadSource].(string); ok {
		u.SourceID = v
	}
	if v, ok := payload[payloadType].(string); ok {
		u.SourceKind = SourceKind(v)
	}
	if v, ok := payload[payloadIndexedAt].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			u.IndexedAt = ts
		}
	}
	return u
}

func unitIDs(units []Unit) []string {
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	return ids
}

func normalizeEndpoint(endpoint, fallback string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = fallback
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}
	return strings.TrimSuffix(endpoint, "/")
}
