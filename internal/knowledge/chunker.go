package knowledge

import (
	"strings"

	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxChunkIterations 分块迭代上限，防止病态参数组合导致死循环
const maxChunkIterations = 100000

// DocumentChunk 表示分块后的文本结构。偏移量为源文本的rune下标。
type DocumentChunk struct {
	ID        string
	Index     int
	Content   string
	StartChar int
	EndChar   int
	Metadata  map[string]interface{}
}

// Chunker 文本分块器，滑动窗口带重叠
type Chunker struct {
	chunkSize int
	overlap   int
}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Chunker{
		chunkSize: chunkSize,
		overlap:   overlap,
	}
}

// Split 将文本切分为多个chunk。
// 窗口为 [start, start+chunkSize)，下一个起点为 end-overlap。
// 起点不再前进时立即终止，而不是重复切分同一区域。
func (c *Chunker) Split(text string) []DocumentChunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []DocumentChunk
	start := 0
	iterations := 0

	for start < len(runes) {
		iterations++
		if iterations > maxChunkIterations {
			logger.Warn("chunking iteration cap reached, returning partial result",
				zap.Int("chunk_size", c.chunkSize),
				zap.Int("overlap", c.overlap),
				zap.Int("chunks", len(chunks)))
			break
		}

		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, DocumentChunk{
			ID:        uuid.NewString(),
			Index:     len(chunks),
			Content:   strings.TrimSpace(string(runes[start:end])),
			StartChar: start,
			EndChar:   end,
		})

		if end == len(runes) {
			break
		}

		next := end - c.overlap
		if next <= start {
			// overlap >= chunkSize 会让窗口停在原地，直接终止
			break
		}
		start = next
	}

	return chunks
}

// ChunkSize 返回配置的窗口大小
func (c *Chunker) ChunkSize() int {
	return c.chunkSize
}

// Overlap 返回配置的重叠大小
func (c *Chunker) Overlap() int {
	return c.overlap
}
