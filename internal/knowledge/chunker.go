package knowledge

import (
	"unicode"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunk 表示分块后的文本结构，Start/End 为原文中的字符(rune)偏移
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Chunker 递归分块器：优先在段落、行、句子、单词边界切分，找不到边界时按长度硬切
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// boundary 判断能否在 runes[p-1] 与 runes[p] 之间切分
type boundary func(runes []rune, p int) bool

// 按优先级从大到小排列
var boundaries = []boundary{
	paragraphBoundary,
	lineBoundary,
	sentenceBoundary,
	wordBoundary,
}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
	}
}

// Size 返回分块大小
func (c *Chunker) Size() int { return c.chunkSize }

// Overlap 返回重叠长度
func (c *Chunker) Overlap() int { return c.chunkOverlap }

// Split 将文本切分为多个chunk，结果保持原文顺序且可通过去除重叠还原原文。
// 连续空白并入相邻的块，不会产生只含空白的块，因此块长度可能超出 size 的部分只有空白。
func (c *Chunker) Split(text string) []Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	total := len(runes)
	chunks := make([]Chunk, 0, total/(c.chunkSize-c.chunkOverlap)+1)

	start := 0
	for start < total {
		// 窗口从第一个非空白字符算起，前导空白归入本块
		from := skipSpace(runes, start)
		if from == total {
			if n := len(chunks); n > 0 {
				chunks[n-1] = newChunk(runes, n-1, chunks[n-1].Start, total)
			}
			break
		}

		end := from + c.chunkSize
		if end >= total {
			chunks = append(chunks, newChunk(runes, len(chunks), start, total))
			break
		}

		cut := c.findBreak(runes, from, end)
		chunks = append(chunks, newChunk(runes, len(chunks), start, cut))
		start = c.nextStart(runes, from, cut)
	}

	return chunks
}

func skipSpace(runes []rune, p int) int {
	for p < len(runes) && unicode.IsSpace(runes[p]) {
		p++
	}
	return p
}

func newChunk(runes []rune, index, start, end int) Chunk {
	return Chunk{
		Index: index,
		Text:  string(runes[start:end]),
		Start: start,
		End:   end,
	}
}

// findBreak 在 (minBreak, end] 内从后向前寻找优先级最高的边界
func (c *Chunker) findBreak(runes []rune, start, end int) int {
	// 切点必须保证下一块的起点前进，并且避免产生过碎的块
	minBreak := start + c.chunkOverlap + 1
	if half := start + c.chunkSize/2; half > minBreak {
		minBreak = half
	}
	if minBreak > end {
		return end
	}

	for _, isBoundary := range boundaries {
		for p := end; p >= minBreak; p-- {
			if isBoundary(runes, p) {
				return p
			}
		}
	}
	return end
}

// nextStart 计算下一块起点：回退 overlap 个字符，并尽量对齐到单词开头
func (c *Chunker) nextStart(runes []rune, start, cut int) int {
	if c.chunkOverlap == 0 {
		return cut
	}

	next := cut - c.chunkOverlap
	if next <= start {
		next = start + 1
	}
	if unicode.IsSpace(runes[next-1]) {
		return next
	}
	for p := next + 1; p < cut; p++ {
		if unicode.IsSpace(runes[p-1]) {
			return p
		}
	}
	return next
}

func paragraphBoundary(runes []rune, p int) bool {
	return p >= 2 && runes[p-1] == '\n' && runes[p-2] == '\n'
}

func lineBoundary(runes []rune, p int) bool {
	return p >= 1 && runes[p-1] == '\n'
}

func sentenceBoundary(runes []rune, p int) bool {
	if p < 1 {
		return false
	}
	switch runes[p-1] {
	case '。', '！', '？':
		return true
	}
	if p < 2 || !unicode.IsSpace(runes[p-1]) {
		return false
	}
	switch runes[p-2] {
	case '.', '!', '?':
		return true
	}
	return false
}

func wordBoundary(runes []rune, p int) bool {
	return p >= 1 && unicode.IsSpace(runes[p-1])
}
