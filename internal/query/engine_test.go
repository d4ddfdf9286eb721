package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"

	"audio-frames/internal/frames"
	"audio-frames/internal/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource 内存数据块来源，记录被拉取的块号
type memSource struct {
	mu      sync.Mutex
	chunks  map[int]*types.FrameChunk
	fetched []int
}

func (s *memSource) GetChunk(ctx context.Context, manifestID uuid.UUID, index int) (*types.FrameChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, index)
	c, ok := s.chunks[index]
	if !ok {
		return nil, fmt.Errorf("%w: chunk %d", types.ErrNotFound, index)
	}
	return c, nil
}

func (s *memSource) fetchedSorted() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]int(nil), s.fetched...)
	sort.Ints(out)
	return out
}

func frameValues(i int) map[string][]float64 {
	mfcc := make([]float64, 13)
	for j := range mfcc {
		mfcc[j] = float64(i)*0.5 + float64(j)
	}
	return map[string][]float64{
		"loudness": {float64(-i)},
		"mfcc":     mfcc,
	}
}

// fixture 100 帧, hop 10 ms, 每块 30 帧
func fixture(t *testing.T) (*types.Manifest, *memSource) {
	t.Helper()
	m, layout, err := frames.PrepareManifest(types.ManifestInput{
		AnalysisID: uuid.New(),
		HopMs:      10,
		FrameCount: 100,
		DurationMs: 1000,
		Bands: []types.BandDef{
			{Name: "loudness", DataType: types.Float32, ElementCount: 1, ElementByteWidth: 4},
			{Name: "mfcc", DataType: types.Float32, ElementCount: 13, ElementByteWidth: 4},
		},
		AudioContentHash: "sha256:abc",
		AnalysisParams:   json.RawMessage(`{}`),
		ChunkSizeFrames:  30,
	})
	require.NoError(t, err)
	m.ID = uuid.New()
	m.Complete = true

	spans, err := frames.PlanChunks(m.FrameCount, m.ChunkSizeFrames)
	require.NoError(t, err)

	src := &memSource{chunks: map[int]*types.FrameChunk{}}
	for _, span := range spans {
		values := make([]map[string][]float64, span.FrameCount)
		for i := range values {
			values[i] = frameValues(span.StartFrame + i)
		}
		data, err := layout.EncodeFrames(values)
		require.NoError(t, err)
		src.chunks[span.Index] = &types.FrameChunk{
			ManifestID: m.ID,
			ChunkIndex: span.Index,
			StartFrame: span.StartFrame,
			FrameCount: span.FrameCount,
			Data:       data,
		}
	}
	return m, src
}

func frameIndexes(fs []types.Frame) []int {
	out := make([]int, len(fs))
	for i, f := range fs {
		out[i] = f.Index
	}
	return out
}

func TestQueryWholeTimeline(t *testing.T) {
	m, src := fixture(t)
	res, err := New(src, 2).QueryFrames(context.Background(), m, 0, m.DurationMs, nil)
	require.NoError(t, err)

	require.Len(t, res.Frames, m.FrameCount)
	for i, f := range res.Frames {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, i*10, f.StartMs)
		assert.Equal(t, i*10+10, f.EndMs)
		assert.InDelta(t, float64(-i), f.Bands["loudness"][0], 1e-6)
		assert.InDeltaSlice(t, frameValues(i)["mfcc"], f.Bands["mfcc"], 1e-5)
	}
	assert.Equal(t, []int{0, 1, 2, 3}, src.fetchedSorted())
	assert.Equal(t, Range{FromMs: 0, ToMs: 1000}, res.Actual)
	assert.Equal(t, 100, res.TotalFrames())
}

func TestQueryLastFrameStaysOnGrid(t *testing.T) {
	m, src := fixture(t)
	m.DurationMs = 995

	res, err := New(src, 2).QueryFrames(context.Background(), m, 980, 2000, nil)
	require.NoError(t, err)
	require.Len(t, res.Frames, 2)
	last := res.Frames[1]
	assert.Equal(t, 99, last.Index)
	assert.Equal(t, 990, last.StartMs)
	assert.Equal(t, 1000, last.EndMs)
	assert.Equal(t, Range{FromMs: 980, ToMs: 995}, res.Actual)
}

func TestQueryMidWindow(t *testing.T) {
	m, src := fixture(t)
	res, err := New(src, 0).QueryFrames(context.Background(), m, 205, 265, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{20, 21, 22, 23, 24, 25, 26}, frameIndexes(res.Frames))
	assert.Equal(t, []int{0}, src.fetchedSorted())
	assert.Equal(t, Range{FromMs: 205, ToMs: 265}, res.Requested)
	assert.Equal(t, Range{FromMs: 200, ToMs: 270}, res.Actual)
}

func TestQueryAcrossChunkBoundary(t *testing.T) {
	m, src := fixture(t)
	res, err := New(src, 0).QueryFrames(context.Background(), m, 255, 365, nil)
	require.NoError(t, err)

	want := make([]int, 0, 12)
	for i := 25; i <= 36; i++ {
		want = append(want, i)
	}
	assert.Equal(t, want, frameIndexes(res.Frames))
	assert.Equal(t, []int{0, 1}, src.fetchedSorted())
}

func TestQueryEmptyAndClamped(t *testing.T) {
	m, src := fixture(t)
	e := New(src, 0)

	res, err := e.QueryFrames(context.Background(), m, 900, 50, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Frames)
	assert.NotNil(t, res.Frames)
	assert.Zero(t, res.TotalFrames())

	res, err = e.QueryFrames(context.Background(), m, 5000, 9000, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Frames)
	assert.Empty(t, src.fetchedSorted())

	res, err = e.QueryFrames(context.Background(), m, 950, 99999, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{95, 96, 97, 98, 99}, frameIndexes(res.Frames))
	assert.Equal(t, []int{3}, src.fetchedSorted())
}

func TestQueryBandSelection(t *testing.T) {
	m, src := fixture(t)
	e := New(src, 0)

	res, err := e.QueryFrames(context.Background(), m, 0, 30, []string{"loudness"})
	require.NoError(t, err)
	require.Len(t, res.Frames, 3)
	for _, f := range res.Frames {
		assert.Len(t, f.Bands, 1)
		assert.Contains(t, f.Bands, "loudness")
	}

	_, err = e.QueryFrames(context.Background(), m, 0, 30, []string{"chroma"})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestQueryMissingChunkIsIntegrityError(t *testing.T) {
	m, src := fixture(t)
	delete(src.chunks, 1)

	_, err := New(src, 0).QueryFrames(context.Background(), m, 0, 1000, nil)
	assert.ErrorIs(t, err, types.ErrDataIntegrity)
	assert.NotErrorIs(t, err, types.ErrNotFound)
}

func TestQueryShortChunkIsIntegrityError(t *testing.T) {
	m, src := fixture(t)
	src.chunks[3].Data = src.chunks[3].Data[:559]

	_, err := New(src, 0).QueryFrames(context.Background(), m, 900, 1000, nil)
	assert.ErrorIs(t, err, types.ErrDataIntegrity)
}

func TestQueryCorruptManifestIsIntegrityError(t *testing.T) {
	m, src := fixture(t)
	m.BytesPerFrame = 60

	_, err := New(src, 0).QueryFrames(context.Background(), m, 0, 100, nil)
	assert.ErrorIs(t, err, types.ErrDataIntegrity)
}

func TestQueryCancelled(t *testing.T) {
	m, src := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(src, 0).QueryFrames(ctx, m, 0, 1000, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueryChunks(t *testing.T) {
	m, src := fixture(t)
	res, err := New(src, 0).QueryChunks(context.Background(), m, 255, 365)
	require.NoError(t, err)

	require.Len(t, res.Chunks, 2)
	assert.Equal(t, 0, res.Chunks[0].ChunkIndex)
	assert.Equal(t, 1, res.Chunks[1].ChunkIndex)
	assert.Equal(t, 12, res.TotalFrames())
}

func TestChunkRaw(t *testing.T) {
	m, src := fixture(t)
	e := New(src, 0)

	c, err := e.ChunkRaw(context.Background(), m, 3)
	require.NoError(t, err)
	assert.Len(t, c.Data, 560)
	assert.Equal(t, 90, c.StartFrame)

	_, err = e.ChunkRaw(context.Background(), m, 4)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = e.ChunkRaw(context.Background(), m, -1)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestConcurrentQueries(t *testing.T) {
	m, src := fixture(t)
	e := New(src, 3)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(from int) {
			defer wg.Done()
			res, err := e.QueryFrames(context.Background(), m, from, from+300, nil)
			assert.NoError(t, err)
			assert.Len(t, res.Frames, 30)
		}(i * 10)
	}
	wg.Wait()
}
