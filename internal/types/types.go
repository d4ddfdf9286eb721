package types

import (
	"time"

	"github.com/google/uuid"
)

// AnalyzerConfig 分析器配置
type AnalyzerConfig struct {
	HopMs           int       // 帧间隔 (ms)
	ChunkSizeFrames int       // 每块帧数
	FFTSize         int       // FFT 窗口大小
	SpectrumBands   int       // 频谱分带数量
	AnalyzerVersion string    // 分析器版本
	AnalysisID      uuid.UUID // 指定分析ID，为空时按内容哈希派生
	Concurrency     int       // 并发数
	Quiet           bool      // 静默模式
	JSONOutput      bool      // JSON输出格式
}

// AudioMetadata 音频元数据
type AudioMetadata struct {
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Year     string `json:"year,omitempty"`
	Genre    string `json:"genre,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// 分析结果状态
const (
	StatusPublished = "PUBLISHED"
	StatusCached    = "CACHED"
	StatusError     = "ERROR"
)

// AnalysisResult 单个文件的分析发布结果
type AnalysisResult struct {
	FilePath    string        `json:"filePath"`
	Format      string        `json:"format"`
	Metadata    AudioMetadata `json:"metadata"`
	Status      string        `json:"status"` // "PUBLISHED", "CACHED", "ERROR"
	AnalysisID  string        `json:"analysisId,omitempty"`
	ManifestID  string        `json:"manifestId,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	FrameCount  int           `json:"frameCount,omitempty"`
	TotalChunks int           `json:"totalChunks,omitempty"`
	EventCount  int           `json:"eventCount,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// AudioFile 音频文件接口
type AudioFile interface {
	GetFormat() string
	GetSampleRate() int
	GetBitDepth() int
	GetChannels() int
	GetDuration() time.Duration
	GetTotalSamples() int // 每声道采样数，文件头未给出时为 0
	GetSamples() ([]float64, error)
	GetMetadata() AudioMetadata
	Close() error
}
