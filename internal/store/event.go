package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"audio-frames/internal/types"

	"github.com/google/uuid"
)

// ValidateEvent 检查事件字段
func ValidateEvent(e *types.Event) error {
	if e.AnalysisID == uuid.Nil {
		return fmt.Errorf("%w: analysis_id 不能为空", types.ErrValidation)
	}
	if e.TimeMs < 0 {
		return fmt.Errorf("%w: time_ms 不能为负数", types.ErrValidation)
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("%w: 未知事件类型 %q", types.ErrValidation, e.EventType)
	}
	if e.DurationMs != nil && *e.DurationMs < 0 {
		return fmt.Errorf("%w: duration_ms 不能为负数", types.ErrValidation)
	}
	if e.Confidence != nil && (*e.Confidence < 0 || *e.Confidence > 1) {
		return fmt.Errorf("%w: confidence 必须在 [0, 1] 内", types.ErrValidation)
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return fmt.Errorf("%w: payload 不是合法 JSON", types.ErrValidation)
	}
	return nil
}

// AppendEvent 追加一个事件，返回带 ID 的事件
func (s *Store) AppendEvent(ctx context.Context, e types.Event) (*types.Event, error) {
	out, err := s.AppendEvents(ctx, []types.Event{e})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// AppendEvents 在一个事务中追加一批事件，任一校验失败则全部不写
func (s *Store) AppendEvents(ctx context.Context, events []types.Event) ([]types.Event, error) {
	for i := range events {
		if err := ValidateEvent(&events[i]); err != nil {
			return nil, fmt.Errorf("事件 %d: %w", i, err)
		}
	}

	out := make([]types.Event, len(events))
	copy(out, events)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return insertEvents(ctx, tx, out, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		slog.Debug("Events appended", "analysis_id", out[0].AnalysisID, "count", len(out))
	}
	return out, nil
}

func insertEvents(ctx context.Context, q queryer, events []types.Event, now time.Time) error {
	for i := range events {
		e := &events[i]
		e.CreatedAt = now

		var payload any
		if len(e.Payload) > 0 {
			payload = string(e.Payload)
		}
		res, err := q.ExecContext(ctx, `
			INSERT INTO analysis_events (analysis_id, time_ms, duration_ms, event_type, confidence, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.AnalysisID.String(), e.TimeMs, e.DurationMs, string(e.EventType), e.Confidence, payload, now.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("写入事件失败: %w", err)
		}
		if e.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("写入事件失败: %w", err)
		}
	}
	return nil
}

// QueryEvents 返回 [FromMs, ToMs) 内的事件，按 time_ms、event_type、id 排序
func (s *Store) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	if q.EventType != "" && !q.EventType.Valid() {
		return nil, fmt.Errorf("%w: 未知事件类型 %q", types.ErrValidation, q.EventType)
	}
	if q.FromMs >= q.ToMs {
		return []types.Event{}, nil
	}

	query := `
		SELECT id, time_ms, duration_ms, event_type, confidence, payload, created_at
		FROM analysis_events
		WHERE analysis_id = ? AND time_ms >= ? AND time_ms < ?`
	args := []any{q.AnalysisID.String(), q.FromMs, q.ToMs}
	if q.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(q.EventType))
	}
	query += ` ORDER BY time_ms, event_type, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询事件失败: %w", err)
	}
	defer rows.Close()

	events := []types.Event{}
	for rows.Next() {
		e := types.Event{AnalysisID: q.AnalysisID}
		var (
			duration   sql.NullInt64
			confidence sql.NullFloat64
			payload    sql.NullString
			eventType  string
			createdAt  int64
		)
		if err := rows.Scan(&e.ID, &e.TimeMs, &duration, &eventType, &confidence, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("读取事件失败: %w", err)
		}
		e.EventType = types.EventType(eventType)
		if duration.Valid {
			d := int(duration.Int64)
			e.DurationMs = &d
		}
		if confidence.Valid {
			c := confidence.Float64
			e.Confidence = &c
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("查询事件失败: %w", err)
	}
	return events, nil
}
