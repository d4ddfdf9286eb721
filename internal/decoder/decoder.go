package decoder

import (
	"fmt"
	"path/filepath"
	"strings"

	"audio-frames/internal/types"
)

// AudioDecoder 音频解码器接口
type AudioDecoder interface {
	Decode(filePath string) (types.AudioFile, error)
	SupportedFormats() []string
}

// DecoderRegistry 按扩展名选择解码器
type DecoderRegistry struct {
	decoders map[string]AudioDecoder
}

// NewDecoderRegistry 创建注册表，内置 WAV 与 FLAC
func NewDecoderRegistry() *DecoderRegistry {
	registry := &DecoderRegistry{
		decoders: make(map[string]AudioDecoder),
	}
	registry.Register(&WAVDecoder{})
	registry.Register(&FLACDecoder{})
	return registry
}

// Register 注册解码器
func (r *DecoderRegistry) Register(decoder AudioDecoder) {
	for _, format := range decoder.SupportedFormats() {
		r.decoders[strings.ToLower(format)] = decoder
	}
}

// Supports 是否有解码器能处理该文件
func (r *DecoderRegistry) Supports(filePath string) bool {
	_, err := r.GetDecoder(filePath)
	return err == nil
}

// GetDecoder 根据文件扩展名获取解码器
func (r *DecoderRegistry) GetDecoder(filePath string) (AudioDecoder, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == "" {
		return nil, fmt.Errorf("无法确定文件格式: %s", filePath)
	}

	decoder, exists := r.decoders[ext[1:]]
	if !exists {
		return nil, fmt.Errorf("不支持的音频格式: %s", ext[1:])
	}
	return decoder, nil
}

// DecodeFile 解码音频文件
func (r *DecoderRegistry) DecodeFile(filePath string) (types.AudioFile, error) {
	decoder, err := r.GetDecoder(filePath)
	if err != nil {
		return nil, err
	}
	return decoder.Decode(filePath)
}

// Mono 把交错的多声道采样平均为单声道
func Mono(samples []float64, channels int) []float64 {
	if channels <= 1 {
		return samples
	}
	out := make([]float64, len(samples)/channels)
	for i := range out {
		sum := 0.0
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float64(channels)
	}
	return out
}
