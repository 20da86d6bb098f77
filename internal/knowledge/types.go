package knowledge

import "time"

// SourceKind 知识来源类型
type SourceKind string

const (
	SourceKindText    SourceKind = "text"
	SourceKindWebsite SourceKind = "website"
	SourceKindFile    SourceKind = "file"
)

// Valid 检查来源类型是否合法
func (k SourceKind) Valid() bool {
	switch k {
	case SourceKindText, SourceKindWebsite, SourceKindFile:
		return true
	default:
		return false
	}
}

// DefaultCollectionName 默认集合名称（单租户，全局唯一集合）
const DefaultCollectionName = "rag-documents"

// Unit 最小检索单元（一个分块及其向量和来源信息）
type Unit struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	SourceID   string     `json:"source"`
	SourceKind SourceKind `json:"type"`
	IndexedAt  time.Time  `json:"indexed_at"`
	Embedding  []float32  `json:"-"`
}

// ScoredUnit 检索结果
type ScoredUnit struct {
	Unit  Unit    `json:"unit"`
	Score float64 `json:"score"`
}

// CollectionState 集合状态
type CollectionState int

const (
	CollectionAbsent CollectionState = iota
	CollectionPresent
)

func (s CollectionState) String() string {
	if s == CollectionPresent {
		return "present"
	}
	return "absent"
}

// Inventory 集合盘点结果
type Inventory struct {
	TotalPoints int
	Units       []Unit
}

// payload 字段名，所有后端共用
const (
	payloadContent   = "content"
	payloadSource    = "source"
	payloadType      = "type"
	payloadIndexedAt = "indexed_at"
)
