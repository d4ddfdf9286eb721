package frames

import (
	"fmt"

	"audio-frames/internal/types"

	"github.com/google/uuid"
)

// PrepareManifest 校验创建输入、补全默认值并重新计算布局、指纹与分块数。
// 调用方提供的 BytesPerFrame / Fingerprint 与重新计算结果不一致时返回 ErrValidation。
// 返回的清单尚未分配 ID。
func PrepareManifest(in types.ManifestInput) (*types.Manifest, *Layout, error) {
	if in.AnalysisID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: analysis_id 不能为空", types.ErrValidation)
	}
	if in.HopMs <= 0 {
		return nil, nil, fmt.Errorf("%w: hop_ms 必须大于 0", types.ErrValidation)
	}
	if in.DurationMs <= 0 {
		return nil, nil, fmt.Errorf("%w: duration_ms 必须大于 0", types.ErrValidation)
	}
	if in.FrameCount < 1 {
		return nil, nil, fmt.Errorf("%w: frame_count 必须 >= 1", types.ErrValidation)
	}
	if maxFrames := (in.DurationMs + in.HopMs - 1) / in.HopMs; in.FrameCount > maxFrames {
		return nil, nil, fmt.Errorf("%w: frame_count %d 超出时长 %d ms 可容纳的 %d 帧",
			types.ErrValidation, in.FrameCount, in.DurationMs, maxFrames)
	}
	if in.SampleRate < 0 {
		return nil, nil, fmt.Errorf("%w: sample_rate 不能为负数", types.ErrValidation)
	}
	if in.ChunkSizeFrames < 0 {
		return nil, nil, fmt.Errorf("%w: chunk_size_frames 必须 >= 1", types.ErrValidation)
	}
	if in.AudioContentHash == "" {
		return nil, nil, fmt.Errorf("%w: audio_content_hash 不能为空", types.ErrValidation)
	}

	layout, err := NewLayout(in.Bands)
	if err != nil {
		return nil, nil, err
	}
	if in.BytesPerFrame != 0 && in.BytesPerFrame != layout.BytesPerFrame {
		return nil, nil, fmt.Errorf("%w: bytes_per_frame %d 与重新计算的 %d 不符",
			types.ErrValidation, in.BytesPerFrame, layout.BytesPerFrame)
	}

	m := &types.Manifest{
		AnalysisID:       in.AnalysisID,
		Version:          orDefault(in.Version, types.DefaultManifestVersion),
		HopMs:            in.HopMs,
		FrameCount:       in.FrameCount,
		DurationMs:       in.DurationMs,
		SampleRate:       in.SampleRate,
		Bands:            layout.Bands,
		BytesPerFrame:    layout.BytesPerFrame,
		AudioContentHash: in.AudioContentHash,
		AnalyzerVersion:  orDefault(in.AnalyzerVersion, types.DefaultAnalyzerVersion),
		ChunkSizeFrames:  in.ChunkSizeFrames,
	}
	if m.SampleRate == 0 {
		m.SampleRate = types.DefaultSampleRate
	}
	if m.ChunkSizeFrames == 0 {
		m.ChunkSizeFrames = types.DefaultChunkSizeFrames
	}
	m.TotalChunks = TotalChunks(m.FrameCount, m.ChunkSizeFrames)

	params, err := CanonicalJSON(in.AnalysisParams)
	if err != nil {
		return nil, nil, err
	}
	m.AnalysisParams = params

	fp, err := Fingerprint(m.AudioContentHash, m.AnalyzerVersion, m.AnalysisParams, layout)
	if err != nil {
		return nil, nil, err
	}
	if in.Fingerprint != "" && in.Fingerprint != fp {
		return nil, nil, fmt.Errorf("%w: fingerprint 与重新计算的结果不符", types.ErrValidation)
	}
	m.Fingerprint = fp

	return m, layout, nil
}

// VerifyManifest 读取方重新计算布局，与存储的 bytes_per_frame / total_chunks 不一致
// 说明数据损坏，返回 ErrDataIntegrity
func VerifyManifest(m *types.Manifest) (*Layout, error) {
	layout, err := NewLayout(m.Bands)
	if err != nil {
		return nil, fmt.Errorf("%w: 清单 %s 频带无效: %v", types.ErrDataIntegrity, m.ID, err)
	}
	if layout.BytesPerFrame != m.BytesPerFrame {
		return nil, fmt.Errorf("%w: 清单 %s bytes_per_frame 存储值 %d, 重新计算 %d",
			types.ErrDataIntegrity, m.ID, m.BytesPerFrame, layout.BytesPerFrame)
	}
	if m.HopMs <= 0 || m.ChunkSizeFrames <= 0 {
		return nil, fmt.Errorf("%w: 清单 %s hop_ms/chunk_size_frames 无效", types.ErrDataIntegrity, m.ID)
	}
	if want := TotalChunks(m.FrameCount, m.ChunkSizeFrames); want != m.TotalChunks {
		return nil, fmt.Errorf("%w: 清单 %s total_chunks 存储值 %d, 重新计算 %d",
			types.ErrDataIntegrity, m.ID, m.TotalChunks, want)
	}
	return layout, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
