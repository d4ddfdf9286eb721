package decoder

import (
	"fmt"
	"os"

	"audio-frames/internal/types"

	"github.com/go-audio/wav"
)

// WAVDecoder WAV格式解码器
type WAVDecoder struct{}

// WAVFile 已定位到 data 块的 WAV 文件，采样在首次读取时解码并缓存
type WAVFile struct {
	streamInfo
	decoder *wav.Decoder
}

// SupportedFormats 返回支持的格式
func (d *WAVDecoder) SupportedFormats() []string {
	return []string{"wav"}
}

// Decode 读取 fmt 块并前进到 data 块，采样数由 data 块大小得出
func (d *WAVDecoder) Decode(filePath string) (types.AudioFile, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("打开WAV文件失败: %w", err)
	}

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("无效的WAV文件: %s", filePath)
	}
	if err := dec.FwdToPCM(); err != nil {
		file.Close()
		return nil, fmt.Errorf("定位WAV数据块失败: %w", err)
	}
	if dec.SampleRate == 0 || dec.NumChans == 0 || dec.BitDepth == 0 {
		file.Close()
		return nil, fmt.Errorf("WAV格式信息不完整: %s", filePath)
	}

	blockAlign := int(dec.NumChans) * int(dec.BitDepth) / 8
	w := &WAVFile{
		streamInfo: streamInfo{
			format:       "WAV",
			file:         file,
			sampleRate:   int(dec.SampleRate),
			bitDepth:     int(dec.BitDepth),
			channels:     int(dec.NumChans),
			totalSamples: dec.PCMSize / max(blockAlign, 1),
		},
		decoder: dec,
	}
	w.metadata.Duration = w.GetDuration().String()
	return w, nil
}

// GetSamples 返回交错排列、归一化到 [-1, 1) 的采样
func (w *WAVFile) GetSamples() ([]float64, error) {
	if w.samples != nil {
		return w.samples, nil
	}

	buf, err := w.decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("读取WAV采样失败: %w", err)
	}

	scale := w.fullScale()
	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float64(v) / scale
	}

	w.samples = samples
	return samples, nil
}
