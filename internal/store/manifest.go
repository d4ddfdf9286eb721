package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"audio-frames/internal/frames"
	"audio-frames/internal/types"

	"github.com/google/uuid"
)

const manifestColumns = `id, analysis_id, manifest_version, hop_ms, frame_count, duration_ms, sample_rate,
	bands, bytes_per_frame, fingerprint, audio_content_hash, analyzer_version, analysis_params,
	chunk_size_frames, total_chunks, complete, created_at`

// CreateManifest 校验并保存一份新清单（complete = 0）。
// 同一 analysis 下指纹已存在时不新建，返回已有清单且 created 为 false。
func (s *Store) CreateManifest(ctx context.Context, in types.ManifestInput) (*types.Manifest, bool, error) {
	m, layout, err := frames.PrepareManifest(in)
	if err != nil {
		return nil, false, err
	}
	m.ID = uuid.New()
	m.CreatedAt = s.now().UTC()

	inserted, err := insertManifest(ctx, s.db, m, layout)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		existing, err := s.FindByFingerprint(ctx, m.AnalysisID, m.Fingerprint)
		if err != nil {
			return nil, false, err
		}
		slog.Debug("Manifest already exists", "analysis_id", m.AnalysisID, "manifest_id", existing.ID)
		return existing, false, nil
	}

	slog.Info("Manifest created",
		"manifest_id", m.ID, "analysis_id", m.AnalysisID,
		"frames", m.FrameCount, "chunks", m.TotalChunks, "bytes_per_frame", m.BytesPerFrame)
	return m, true, nil
}

// insertManifest 插入清单，指纹冲突时返回 false
func insertManifest(ctx context.Context, q queryer, m *types.Manifest, layout *frames.Layout) (bool, error) {
	bands, err := json.Marshal(m.Bands)
	if err != nil {
		return false, fmt.Errorf("序列化频带失败: %w", err)
	}
	entries, err := json.Marshal(layout.Entries)
	if err != nil {
		return false, fmt.Errorf("序列化帧布局失败: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO analysis_frame_manifests (
			id, analysis_id, manifest_version, hop_ms, frame_count, duration_ms, sample_rate,
			bands, bytes_per_frame, frame_layout, fingerprint, audio_content_hash, analyzer_version,
			analysis_params, chunk_size_frames, total_chunks, complete, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (analysis_id, fingerprint) DO NOTHING`,
		m.ID.String(), m.AnalysisID.String(), m.Version, m.HopMs, m.FrameCount, m.DurationMs, m.SampleRate,
		string(bands), m.BytesPerFrame, string(entries), m.Fingerprint, m.AudioContentHash, m.AnalyzerVersion,
		string(m.AnalysisParams), m.ChunkSizeFrames, m.TotalChunks, boolInt(m.Complete), m.CreatedAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("写入清单失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("写入清单失败: %w", err)
	}
	return n == 1, nil
}

// GetManifest 按 ID 读取清单
func (s *Store) GetManifest(ctx context.Context, id uuid.UUID) (*types.Manifest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+manifestColumns+` FROM analysis_frame_manifests WHERE id = ?`, id.String())
	m, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: 清单 %s", types.ErrNotFound, id)
	}
	return m, err
}

// LatestManifest analysis 下最新的已完成清单
func (s *Store) LatestManifest(ctx context.Context, analysisID uuid.UUID) (*types.Manifest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+manifestColumns+` FROM analysis_frame_manifests
		WHERE analysis_id = ? AND complete = 1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, analysisID.String())
	m, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: analysis %s 没有已完成的清单", types.ErrNotFound, analysisID)
	}
	return m, err
}

// ListManifests analysis 下的全部清单，新的在前，包含未完成的
func (s *Store) ListManifests(ctx context.Context, analysisID uuid.UUID) ([]*types.Manifest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+manifestColumns+` FROM analysis_frame_manifests
		WHERE analysis_id = ?
		ORDER BY created_at DESC, id DESC`, analysisID.String())
	if err != nil {
		return nil, fmt.Errorf("查询清单失败: %w", err)
	}
	defer rows.Close()

	var out []*types.Manifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("查询清单失败: %w", err)
	}
	return out, nil
}

// FindByFingerprint 按 (analysis, fingerprint) 查找清单
func (s *Store) FindByFingerprint(ctx context.Context, analysisID uuid.UUID, fingerprint string) (*types.Manifest, error) {
	return findByFingerprint(ctx, s.db, analysisID, fingerprint)
}

func findByFingerprint(ctx context.Context, q queryer, analysisID uuid.UUID, fingerprint string) (*types.Manifest, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+manifestColumns+` FROM analysis_frame_manifests
		WHERE analysis_id = ? AND fingerprint = ?`, analysisID.String(), fingerprint)
	m, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: analysis %s 指纹 %s", types.ErrNotFound, analysisID, fingerprint)
	}
	return m, err
}

// DeleteManifest 删除清单及其全部数据块
func (s *Store) DeleteManifest(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_frame_manifests WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("删除清单失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("删除清单失败: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: 清单 %s", types.ErrNotFound, id)
	}
	slog.Info("Manifest deleted", "manifest_id", id)
	return nil
}

// Seal 确认全部数据块已写入且长度正确后把清单标记为完成。
// 已完成的清单再次 Seal 直接返回。
func (s *Store) Seal(ctx context.Context, id uuid.UUID) (*types.Manifest, error) {
	var sealed *types.Manifest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := scanManifest(tx.QueryRowContext(ctx,
			`SELECT `+manifestColumns+` FROM analysis_frame_manifests WHERE id = ?`, id.String()))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: 清单 %s", types.ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if m.Complete {
			sealed = m
			return nil
		}

		if err := checkChunksPresent(ctx, tx, m); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE analysis_frame_manifests SET complete = 1 WHERE id = ?`, id.String()); err != nil {
			return fmt.Errorf("标记清单完成失败: %w", err)
		}
		m.Complete = true
		sealed = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Manifest sealed", "manifest_id", id, "chunks", sealed.TotalChunks)
	return sealed, nil
}

// checkChunksPresent 逐块核对行数与字节长度
func checkChunksPresent(ctx context.Context, q queryer, m *types.Manifest) error {
	rows, err := q.QueryContext(ctx, `
		SELECT chunk_index, frame_count, length(frame_data) FROM analysis_frame_data
		WHERE manifest_id = ? ORDER BY chunk_index`, m.ID.String())
	if err != nil {
		return fmt.Errorf("查询数据块失败: %w", err)
	}
	defer rows.Close()

	next := 0
	for rows.Next() {
		var idx, count, size int
		if err := rows.Scan(&idx, &count, &size); err != nil {
			return fmt.Errorf("读取数据块失败: %w", err)
		}
		if idx != next {
			return fmt.Errorf("%w: 清单 %s 缺少数据块 %d", types.ErrValidation, m.ID, next)
		}
		span, ok := frames.ChunkSpanOf(m, idx)
		if !ok || count != span.FrameCount || size != span.ByteLen(m.BytesPerFrame) {
			return fmt.Errorf("%w: 清单 %s 数据块 %d 长度不符", types.ErrDataIntegrity, m.ID, idx)
		}
		next++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("查询数据块失败: %w", err)
	}
	if next != m.TotalChunks {
		return fmt.Errorf("%w: 清单 %s 只有 %d/%d 个数据块", types.ErrValidation, m.ID, next, m.TotalChunks)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanManifest(row rowScanner) (*types.Manifest, error) {
	var (
		m              types.Manifest
		id, analysisID string
		bands, params  string
		complete       int
		createdAt      int64
	)
	err := row.Scan(&id, &analysisID, &m.Version, &m.HopMs, &m.FrameCount, &m.DurationMs, &m.SampleRate,
		&bands, &m.BytesPerFrame, &m.Fingerprint, &m.AudioContentHash, &m.AnalyzerVersion, &params,
		&m.ChunkSizeFrames, &m.TotalChunks, &complete, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("读取清单失败: %w", err)
	}

	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: 清单 id %q: %v", types.ErrDataIntegrity, id, err)
	}
	if m.AnalysisID, err = uuid.Parse(analysisID); err != nil {
		return nil, fmt.Errorf("%w: 清单 %s analysis_id %q: %v", types.ErrDataIntegrity, id, analysisID, err)
	}
	if err := json.Unmarshal([]byte(bands), &m.Bands); err != nil {
		return nil, fmt.Errorf("%w: 清单 %s 频带 JSON 无效: %v", types.ErrDataIntegrity, id, err)
	}
	m.AnalysisParams = json.RawMessage(params)
	m.Complete = complete == 1
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	return &m, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
