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

// PublishInput 一次性发布的完整分析结果
type PublishInput struct {
	Manifest types.ManifestInput `json:"manifest"`
	Chunks   [][]byte            `json:"chunks"`
	Events   []types.Event       `json:"events,omitempty"`
}

// Publish 在一个事务里写入清单、全部数据块和事件，并直接标记完成。
// 同指纹的已完成清单存在时不写入，返回已有清单且 published 为 false；
// 同指纹的未完成清单（中断的写入）会被替换。
func (s *Store) Publish(ctx context.Context, in PublishInput) (*types.Manifest, bool, error) {
	m, layout, err := frames.PrepareManifest(in.Manifest)
	if err != nil {
		return nil, false, err
	}
	if len(in.Chunks) != m.TotalChunks {
		return nil, false, fmt.Errorf("%w: 需要 %d 个数据块, 提供了 %d 个",
			types.ErrValidation, m.TotalChunks, len(in.Chunks))
	}
	for i := range in.Events {
		if in.Events[i].AnalysisID == uuid.Nil {
			in.Events[i].AnalysisID = m.AnalysisID
		}
		if in.Events[i].AnalysisID != m.AnalysisID {
			return nil, false, fmt.Errorf("%w: 事件 %d 属于其他 analysis", types.ErrValidation, i)
		}
		if err := ValidateEvent(&in.Events[i]); err != nil {
			return nil, false, fmt.Errorf("事件 %d: %w", i, err)
		}
	}

	m.ID = uuid.New()
	now := s.now().UTC()
	m.CreatedAt = now
	m.Complete = true

	chunks := make([]*types.FrameChunk, len(in.Chunks))
	for i, data := range in.Chunks {
		if chunks[i], err = buildChunk(m, i, data); err != nil {
			return nil, false, err
		}
	}

	var existing *types.Manifest
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		prev, err := findByFingerprint(ctx, tx, m.AnalysisID, m.Fingerprint)
		switch {
		case err == nil && prev.Complete:
			existing = prev
			return nil
		case err == nil:
			slog.Warn("Replacing incomplete manifest", "manifest_id", prev.ID, "fingerprint", prev.Fingerprint)
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM analysis_frame_manifests WHERE id = ?`, prev.ID.String()); err != nil {
				return fmt.Errorf("删除未完成清单失败: %w", err)
			}
		case !errors.Is(err, types.ErrNotFound):
			return err
		}

		inserted, err := insertManifest(ctx, tx, m, layout)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("%w: analysis %s 指纹 %s", types.ErrAlreadyExists, m.AnalysisID, m.Fingerprint)
		}
		for _, c := range chunks {
			if err := insertChunk(ctx, tx, c, now.UnixNano()); err != nil {
				return err
			}
		}
		return insertEvents(ctx, tx, in.Events, now)
	})
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		slog.Info("Analysis already published", "manifest_id", existing.ID, "fingerprint", existing.Fingerprint)
		return existing, false, nil
	}

	slog.Info("Analysis published",
		"manifest_id", m.ID, "analysis_id", m.AnalysisID,
		"frames", m.FrameCount, "chunks", m.TotalChunks, "events", len(in.Events))
	return m, true, nil
}
