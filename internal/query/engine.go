// Package query 按时间区间读取帧：只取覆盖区间的数据块，并发拉取、整块解码后再裁剪。
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"audio-frames/internal/frames"
	"audio-frames/internal/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency 单次查询同时拉取的数据块数
const DefaultConcurrency = 4

// ChunkSource 数据块来源
type ChunkSource interface {
	GetChunk(ctx context.Context, manifestID uuid.UUID, index int) (*types.FrameChunk, error)
}

// Engine 区间查询引擎，无状态，可被任意多个请求并发使用
type Engine struct {
	src         ChunkSource
	concurrency int
}

// New 创建查询引擎，concurrency <= 0 时使用默认值
func New(src ChunkSource, concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Engine{src: src, concurrency: concurrency}
}

// Range 一个时间区间，[FromMs, ToMs)
type Range struct {
	FromMs int `json:"from_ms"`
	ToMs   int `json:"to_ms"`
}

// Result 区间查询结果
type Result struct {
	Requested  Range               `json:"requested_range"`
	Actual     Range               `json:"actual_range"`
	StartFrame int                 `json:"start_frame"`
	EndFrame   int                 `json:"end_frame"`
	Frames     []types.Frame       `json:"frames"`
	Chunks     []*types.FrameChunk `json:"-"`
}

// TotalFrames 结果帧数
func (r *Result) TotalFrames() int {
	if len(r.Frames) > 0 {
		return len(r.Frames)
	}
	if r.EndFrame < r.StartFrame {
		return 0
	}
	return r.EndFrame - r.StartFrame + 1
}

// QueryFrames 返回 [fromMs, toMs) 内按时间升序的解码帧。
// 越界时间被夹到 [0, duration_ms]，空区间返回空结果而不是错误。
// bands 为空表示全部频带。
func (e *Engine) QueryFrames(ctx context.Context, m *types.Manifest, fromMs, toMs int, bands []string) (*Result, error) {
	layout, err := frames.VerifyManifest(m)
	if err != nil {
		logIntegrity(m, -1, err)
		return nil, err
	}
	selected, err := layout.Select(bands)
	if err != nil {
		return nil, err
	}

	res, chunks, err := e.fetchRange(ctx, m, fromMs, toMs)
	if err != nil || len(chunks) == 0 {
		return res, err
	}

	res.Frames = make([]types.Frame, 0, res.EndFrame-res.StartFrame+1)
	for _, c := range chunks {
		decoded, err := layout.DecodeFrames(c.Data, selected)
		if err != nil {
			err = fmt.Errorf("%w: 清单 %s 数据块 %d 解码失败: %v", types.ErrDataIntegrity, m.ID, c.ChunkIndex, err)
			logIntegrity(m, c.ChunkIndex, err)
			return nil, err
		}
		for i, values := range decoded {
			idx := c.StartFrame + i
			if idx < res.StartFrame || idx > res.EndFrame {
				continue
			}
			res.Frames = append(res.Frames, types.Frame{
				Index:   idx,
				StartMs: frames.FrameToTimeMs(idx, m.HopMs),
				EndMs:   frames.FrameToTimeMs(idx+1, m.HopMs),
				Bands:   values,
			})
		}
	}
	return res, nil
}

// QueryChunks 返回覆盖 [fromMs, toMs) 的原始数据块，不解码不裁剪
func (e *Engine) QueryChunks(ctx context.Context, m *types.Manifest, fromMs, toMs int) (*Result, error) {
	if _, err := frames.VerifyManifest(m); err != nil {
		logIntegrity(m, -1, err)
		return nil, err
	}
	res, chunks, err := e.fetchRange(ctx, m, fromMs, toMs)
	if err != nil {
		return nil, err
	}
	res.Chunks = chunks
	return res, nil
}

// ChunkRaw 直接返回第 index 块的原始字节，块号越界返回 ErrNotFound
func (e *Engine) ChunkRaw(ctx context.Context, m *types.Manifest, index int) (*types.FrameChunk, error) {
	span, ok := frames.ChunkSpanOf(m, index)
	if !ok {
		return nil, fmt.Errorf("%w: 清单 %s 没有数据块 %d (共 %d 块)", types.ErrNotFound, m.ID, index, m.TotalChunks)
	}
	return e.fetchChunk(ctx, m, span)
}

// fetchRange 计算帧区间并并发拉取涉及的数据块，结果按块号排序
func (e *Engine) fetchRange(ctx context.Context, m *types.Manifest, fromMs, toMs int) (*Result, []*types.FrameChunk, error) {
	res := &Result{
		Requested: Range{FromMs: fromMs, ToMs: toMs},
		Frames:    []types.Frame{},
		EndFrame:  -1,
	}

	start, end, ok := frames.FrameRange(fromMs, toMs, m.HopMs, m.FrameCount, m.DurationMs)
	if !ok {
		from, _ := frames.ClampRange(fromMs, toMs, m.DurationMs)
		res.Actual = Range{FromMs: from, ToMs: from}
		return res, nil, nil
	}
	res.StartFrame, res.EndFrame = start, end
	res.Actual = Range{
		FromMs: frames.FrameToTimeMs(start, m.HopMs),
		ToMs:   min(frames.FrameToTimeMs(end+1, m.HopMs), m.DurationMs),
	}

	first := frames.ChunkFor(start, m.ChunkSizeFrames)
	last := frames.ChunkFor(end, m.ChunkSizeFrames)
	chunks := make([]*types.FrameChunk, last-first+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for idx := first; idx <= last; idx++ {
		span, ok := frames.ChunkSpanOf(m, idx)
		if !ok {
			return nil, nil, fmt.Errorf("%w: 清单 %s 分块计划缺少块 %d", types.ErrDataIntegrity, m.ID, idx)
		}
		g.Go(func() error {
			c, err := e.fetchChunk(gctx, m, span)
			if err != nil {
				return err
			}
			chunks[idx-first] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	slog.Debug("Range fetched",
		"manifest_id", m.ID, "from_ms", fromMs, "to_ms", toMs,
		"start_frame", start, "end_frame", end, "chunks", len(chunks))
	return res, chunks, nil
}

// fetchChunk 读取一块并核对长度。清单存在而块缺失或长度不符都是数据完整性错误
func (e *Engine) fetchChunk(ctx context.Context, m *types.Manifest, span frames.ChunkSpan) (*types.FrameChunk, error) {
	c, err := e.src.GetChunk(ctx, m.ID, span.Index)
	if errors.Is(err, types.ErrNotFound) {
		err = fmt.Errorf("%w: 清单 %s 缺少数据块 %d", types.ErrDataIntegrity, m.ID, span.Index)
		logIntegrity(m, span.Index, err)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if want := span.ByteLen(m.BytesPerFrame); len(c.Data) != want {
		err = fmt.Errorf("%w: 清单 %s 数据块 %d 长度 %d, 应为 %d",
			types.ErrDataIntegrity, m.ID, span.Index, len(c.Data), want)
		slog.Error("Frame data integrity violation",
			"manifest_id", m.ID, "chunk_index", span.Index,
			"expected_bytes", want, "actual_bytes", len(c.Data))
		return nil, err
	}
	if c.StartFrame != span.StartFrame || c.FrameCount != span.FrameCount {
		err = fmt.Errorf("%w: 清单 %s 数据块 %d 帧区间 [%d,+%d), 应为 [%d,+%d)",
			types.ErrDataIntegrity, m.ID, span.Index, c.StartFrame, c.FrameCount, span.StartFrame, span.FrameCount)
		logIntegrity(m, span.Index, err)
		return nil, err
	}
	return c, nil
}

func logIntegrity(m *types.Manifest, chunkIndex int, err error) {
	slog.Error("Frame data integrity violation",
		"manifest_id", m.ID, "chunk_index", chunkIndex, "error", err)
}
