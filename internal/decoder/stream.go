package decoder

import (
	"os"
	"time"

	"audio-frames/internal/types"
)

// streamInfo 从文件头读出的流信息，WAV 与 FLAC 共用
type streamInfo struct {
	format       string
	file         *os.File
	sampleRate   int
	bitDepth     int
	channels     int
	totalSamples int // 每声道采样数
	metadata     types.AudioMetadata
	samples      []float64
}

func (s *streamInfo) GetFormat() string { return s.format }
func (s *streamInfo) GetSampleRate() int { return s.sampleRate }
func (s *streamInfo) GetBitDepth() int { return s.bitDepth }
func (s *streamInfo) GetChannels() int { return s.channels }
func (s *streamInfo) GetTotalSamples() int { return s.totalSamples }
func (s *streamInfo) GetMetadata() types.AudioMetadata { return s.metadata }

// GetDuration 由每声道采样数和采样率得出
func (s *streamInfo) GetDuration() time.Duration {
	if s.sampleRate == 0 {
		return 0
	}
	return time.Duration(s.totalSamples) * time.Second / time.Duration(s.sampleRate)
}

// Close 关闭文件
func (s *streamInfo) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// fullScale 整数采样归一化到 [-1, 1) 的除数
func (s *streamInfo) fullScale() float64 {
	return float64(int64(1) << uint(s.bitDepth-1))
}
