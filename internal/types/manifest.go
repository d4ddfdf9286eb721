package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// 清单默认值
const (
	DefaultManifestVersion = "1.0"
	DefaultAnalyzerVersion = "1.0.0"
	DefaultSampleRate      = 44100
	DefaultChunkSizeFrames = 1000
)

// Manifest 一次分析运行的不可变描述：时间轴、频带布局与指纹
type Manifest struct {
	ID               uuid.UUID       `json:"id"`
	AnalysisID       uuid.UUID       `json:"analysis_id"`
	Version          string          `json:"version"`
	HopMs            int             `json:"hop_ms"`
	FrameCount       int             `json:"frame_count"`
	DurationMs       int             `json:"duration_ms"`
	SampleRate       int             `json:"sample_rate"`
	Bands            []BandDef       `json:"bands"`
	BytesPerFrame    int             `json:"bytes_per_frame"`
	Fingerprint      string          `json:"fingerprint"`
	AudioContentHash string          `json:"audio_content_hash"`
	AnalyzerVersion  string          `json:"analyzer_version"`
	AnalysisParams   json.RawMessage `json:"analysis_params"`
	ChunkSizeFrames  int             `json:"chunk_size_frames"`
	TotalChunks      int             `json:"total_chunks"`
	Complete         bool            `json:"complete"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ManifestInput 创建清单的输入。BytesPerFrame 与 Fingerprint 可由调用方提供，
// 提供时必须与重新计算的结果一致。
type ManifestInput struct {
	AnalysisID       uuid.UUID       `json:"analysis_id"`
	Version          string          `json:"version,omitempty"`
	HopMs            int             `json:"hop_ms"`
	FrameCount       int             `json:"frame_count"`
	DurationMs       int             `json:"duration_ms"`
	SampleRate       int             `json:"sample_rate,omitempty"`
	Bands            []BandDef       `json:"bands"`
	BytesPerFrame    int             `json:"bytes_per_frame,omitempty"`
	Fingerprint      string          `json:"fingerprint,omitempty"`
	AudioContentHash string          `json:"audio_content_hash"`
	AnalyzerVersion  string          `json:"analyzer_version,omitempty"`
	AnalysisParams   json.RawMessage `json:"analysis_params,omitempty"`
	ChunkSizeFrames  int             `json:"chunk_size_frames,omitempty"`
}

// FrameChunk 一组连续帧的不可变二进制块
type FrameChunk struct {
	ManifestID  uuid.UUID `json:"manifest_id"`
	ChunkIndex  int       `json:"chunk_index"`
	StartFrame  int       `json:"start_frame"`
	FrameCount  int       `json:"frame_count_in_chunk"`
	StartTimeMs int       `json:"start_time_ms"`
	EndTimeMs   int       `json:"end_time_ms"`
	Data        []byte    `json:"-"`
}

// Frame 解码后的一帧，携带绝对帧号与覆盖的时间区间 [StartMs, EndMs)。
// 区间总在帧网格上，最后一帧的 EndMs 可能超过 duration_ms；结果的实际范围见 actual_range。
type Frame struct {
	Index   int                  `json:"index"`
	StartMs int                  `json:"start_ms"`
	EndMs   int                  `json:"end_ms"`
	Bands   map[string][]float64 `json:"bands"`
}
