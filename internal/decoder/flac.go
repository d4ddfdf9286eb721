package decoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"audio-frames/internal/types"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/meta"
)

// FLACDecoder FLAC格式解码器
type FLACDecoder struct{}

// FLACFile 已解析元数据块的 FLAC 流
type FLACFile struct {
	streamInfo
	stream *flac.Stream
}

// SupportedFormats 返回支持的格式
func (d *FLACDecoder) SupportedFormats() []string {
	return []string{"flac"}
}

// Decode 解析 STREAMINFO 与 Vorbis 注释，不解码音频帧
func (d *FLACDecoder) Decode(filePath string) (types.AudioFile, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("打开FLAC文件失败: %w", err)
	}

	stream, err := flac.Parse(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("解析FLAC文件失败: %w", err)
	}
	info := stream.Info
	if info == nil || info.SampleRate == 0 || info.NChannels == 0 {
		file.Close()
		return nil, fmt.Errorf("无法读取FLAC信息: %s", filePath)
	}

	f := &FLACFile{
		streamInfo: streamInfo{
			format:       "FLAC",
			file:         file,
			sampleRate:   int(info.SampleRate),
			bitDepth:     int(info.BitsPerSample),
			channels:     int(info.NChannels),
			totalSamples: int(info.NSamples),
		},
		stream: stream,
	}
	f.metadata = vorbisMetadata(stream.Blocks)
	f.metadata.Duration = f.GetDuration().String()
	return f, nil
}

// vorbisMetadata 从元数据块中取常用标签
func vorbisMetadata(blocks []*meta.Block) types.AudioMetadata {
	var md types.AudioMetadata
	for _, block := range blocks {
		comment, ok := block.Body.(*meta.VorbisComment)
		if !ok {
			continue
		}
		md.Title = getVorbisTag(comment, "TITLE")
		md.Artist = getVorbisTag(comment, "ARTIST")
		md.Album = getVorbisTag(comment, "ALBUM")
		md.Year = getVorbisTag(comment, "DATE")
		md.Genre = getVorbisTag(comment, "GENRE")
	}
	return md
}

// getVorbisTag 标签名不区分大小写
func getVorbisTag(comment *meta.VorbisComment, tag string) string {
	for _, field := range comment.Tags {
		if strings.EqualFold(field[0], tag) {
			return field[1]
		}
	}
	return ""
}

// GetSamples 逐帧解码，返回交错排列、归一化的采样
func (f *FLACFile) GetSamples() ([]float64, error) {
	if f.samples != nil {
		return f.samples, nil
	}

	scale := f.fullScale()
	samples := make([]float64, 0, f.totalSamples*f.channels)
	for {
		frame, err := f.stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解码FLAC帧失败: %w", err)
		}

		n := len(frame.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			for ch := 0; ch < f.channels; ch++ {
				samples = append(samples, float64(frame.Subframes[ch].Samples[i])/scale)
			}
		}
	}

	if f.totalSamples == 0 {
		f.totalSamples = len(samples) / f.channels
	}
	f.samples = samples
	return samples, nil
}
