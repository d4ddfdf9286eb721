package frames

import (
	"fmt"

	"audio-frames/internal/types"
)

// ChunkSpan 一个数据块覆盖的帧区间
type ChunkSpan struct {
	Index      int `json:"chunk_index"`
	StartFrame int `json:"start_frame"`
	FrameCount int `json:"frame_count_in_chunk"`
}

// EndFrame 块内最后一帧之后的帧号（不含）
func (s ChunkSpan) EndFrame() int {
	return s.StartFrame + s.FrameCount
}

// ByteLen 该块应有的字节数
func (s ChunkSpan) ByteLen(bytesPerFrame int) int {
	return s.FrameCount * bytesPerFrame
}

// TotalChunks ceil(frameCount / chunkSize)
func TotalChunks(frameCount, chunkSize int) int {
	if frameCount <= 0 || chunkSize <= 0 {
		return 0
	}
	return (frameCount + chunkSize - 1) / chunkSize
}

// PlanChunks 计算分块边界：除最后一块外每块恰好 chunkSize 帧
func PlanChunks(frameCount, chunkSize int) ([]ChunkSpan, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("%w: chunk_size_frames 必须 >= 1, got %d", types.ErrValidation, chunkSize)
	}
	if frameCount < 0 {
		return nil, fmt.Errorf("%w: frame_count 不能为负数, got %d", types.ErrValidation, frameCount)
	}

	total := TotalChunks(frameCount, chunkSize)
	spans := make([]ChunkSpan, total)
	for i := range spans {
		spans[i], _ = SpanOf(i, frameCount, chunkSize)
	}
	return spans, nil
}

// SpanOf 不展开整个计划，直接算出第 index 块的区间
func SpanOf(index, frameCount, chunkSize int) (ChunkSpan, bool) {
	if index < 0 || index >= TotalChunks(frameCount, chunkSize) {
		return ChunkSpan{}, false
	}
	start := index * chunkSize
	return ChunkSpan{
		Index:      index,
		StartFrame: start,
		FrameCount: min(chunkSize, frameCount-start),
	}, true
}

// ChunkFor 帧号所属的块号，O(1) 算术
func ChunkFor(frame, chunkSize int) int {
	return frame / chunkSize
}

// ChunkSpanOf 清单中第 index 块的区间
func ChunkSpanOf(m *types.Manifest, index int) (ChunkSpan, bool) {
	return SpanOf(index, m.FrameCount, m.ChunkSizeFrames)
}
