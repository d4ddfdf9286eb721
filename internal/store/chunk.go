package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"audio-frames/internal/frames"
	"audio-frames/internal/types"

	"github.com/google/uuid"
)

// PutChunk 写入一个数据块。块号必须在 [0, total_chunks) 内，
// 字节数必须等于 frame_count_in_chunk * bytes_per_frame，同一块只能写一次。
func (s *Store) PutChunk(ctx context.Context, manifestID uuid.UUID, index int, data []byte) (*types.FrameChunk, error) {
	m, err := s.GetManifest(ctx, manifestID)
	if err != nil {
		return nil, err
	}
	if m.Complete {
		return nil, fmt.Errorf("%w: 清单 %s 已完成，不能再写入数据块", types.ErrAlreadyExists, manifestID)
	}

	chunk, err := buildChunk(m, index, data)
	if err != nil {
		return nil, err
	}
	if err := insertChunk(ctx, s.db, chunk, s.now().UnixNano()); err != nil {
		return nil, err
	}

	slog.Debug("Chunk stored", "manifest_id", manifestID, "chunk_index", index, "bytes", len(data))
	return chunk, nil
}

// buildChunk 按分块计划校验数据并补全块元数据
func buildChunk(m *types.Manifest, index int, data []byte) (*types.FrameChunk, error) {
	span, ok := frames.ChunkSpanOf(m, index)
	if !ok {
		return nil, fmt.Errorf("%w: chunk_index %d 超出范围 [0, %d)", types.ErrValidation, index, m.TotalChunks)
	}
	if want := span.ByteLen(m.BytesPerFrame); len(data) != want {
		return nil, fmt.Errorf("%w: 数据块 %d 长度 %d, 应为 %d (%d 帧 x %d 字节)",
			types.ErrValidation, index, len(data), want, span.FrameCount, m.BytesPerFrame)
	}
	startMs, endMs := frames.ChunkTimeRange(span, m.HopMs, m.DurationMs)
	return &types.FrameChunk{
		ManifestID:  m.ID,
		ChunkIndex:  index,
		StartFrame:  span.StartFrame,
		FrameCount:  span.FrameCount,
		StartTimeMs: startMs,
		EndTimeMs:   endMs,
		Data:        data,
	}, nil
}

func insertChunk(ctx context.Context, q queryer, c *types.FrameChunk, createdAt int64) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO analysis_frame_data (
			manifest_id, chunk_index, start_frame, frame_count, start_time_ms, end_time_ms, frame_data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (manifest_id, chunk_index) DO NOTHING`,
		c.ManifestID.String(), c.ChunkIndex, c.StartFrame, c.FrameCount, c.StartTimeMs, c.EndTimeMs, c.Data, createdAt,
	)
	if err != nil {
		return fmt.Errorf("写入数据块失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("写入数据块失败: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: 清单 %s 数据块 %d", types.ErrAlreadyExists, c.ManifestID, c.ChunkIndex)
	}
	return nil
}

// GetChunk 读取一个数据块，不存在时返回 ErrNotFound
func (s *Store) GetChunk(ctx context.Context, manifestID uuid.UUID, index int) (*types.FrameChunk, error) {
	c := types.FrameChunk{ManifestID: manifestID}
	err := s.db.QueryRowContext(ctx, `
		SELECT chunk_index, start_frame, frame_count, start_time_ms, end_time_ms, frame_data
		FROM analysis_frame_data WHERE manifest_id = ? AND chunk_index = ?`,
		manifestID.String(), index,
	).Scan(&c.ChunkIndex, &c.StartFrame, &c.FrameCount, &c.StartTimeMs, &c.EndTimeMs, &c.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: 清单 %s 数据块 %d", types.ErrNotFound, manifestID, index)
	}
	if err != nil {
		return nil, fmt.Errorf("读取数据块失败: %w", err)
	}
	return &c, nil
}

// CountChunks 已写入的数据块数
func (s *Store) CountChunks(ctx context.Context, manifestID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analysis_frame_data WHERE manifest_id = ?`, manifestID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("统计数据块失败: %w", err)
	}
	return n, nil
}
