package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"audio-frames/internal/frames"
	"audio-frames/internal/query"
	"audio-frames/internal/store"
	"audio-frames/internal/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store  *store.Store
	server *httptest.Server
}

func newEnv(t *testing.T, src query.ChunkSource, maxQueryMs int) *testEnv {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "frames.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if src == nil {
		src = st
	}
	srv := httptest.NewServer(NewServer(st, query.New(src, 2), maxQueryMs).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{store: st, server: srv}
}

func bands() []types.BandDef {
	return []types.BandDef{
		{Name: "loudness", DataType: types.Float32, ElementCount: 1, ElementByteWidth: 4, Unit: "dBFS"},
		{Name: "mfcc", DataType: types.Float32, ElementCount: 13, ElementByteWidth: 4},
	}
}

// publishBody 100 帧, hop 10 ms, 每块 25 帧 = 1400 字节
func publishBody(t *testing.T) store.PublishInput {
	t.Helper()
	layout, err := frames.NewLayout(bands())
	require.NoError(t, err)

	var chunks [][]byte
	for c := 0; c < 4; c++ {
		values := make([]map[string][]float64, 25)
		for i := range values {
			idx := c*25 + i
			values[i] = map[string][]float64{
				"loudness": {float64(-idx)},
				"mfcc":     make([]float64, 13),
			}
		}
		data, err := layout.EncodeFrames(values)
		require.NoError(t, err)
		chunks = append(chunks, data)
	}

	return store.PublishInput{
		Manifest: types.ManifestInput{
			HopMs:            10,
			FrameCount:       100,
			DurationMs:       1000,
			Bands:            bands(),
			AudioContentHash: "sha256:feed",
			AnalysisParams:   json.RawMessage(`{"hop_ms":10}`),
			ChunkSizeFrames:  25,
		},
		Chunks: chunks,
		Events: []types.Event{
			{TimeMs: 300, EventType: types.EventBeat},
			{TimeMs: 120, EventType: types.EventTransient},
		},
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (e *testEnv) publish(t *testing.T, analysisID uuid.UUID) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, fmt.Sprintf("/api/analyses/%s/publish", analysisID), publishBody(t))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
}

func assertErrorCode(t *testing.T, body []byte, code string) {
	t.Helper()
	var e errorBody
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, code, e.Error)
	assert.NotEmpty(t, e.Message)
}

func TestHealth(t *testing.T) {
	env := newEnv(t, nil, 0)
	resp, _ := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPublishAndGetManifest(t *testing.T) {
	env := newEnv(t, nil, 0)
	analysisID := uuid.New()

	resp, body := env.do(t, http.MethodPost, fmt.Sprintf("/api/analyses/%s/publish", analysisID), publishBody(t))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var first publishResponse
	require.NoError(t, json.Unmarshal(body, &first))
	assert.True(t, first.Published)

	resp, body = env.do(t, http.MethodPost, fmt.Sprintf("/api/analyses/%s/publish", analysisID), publishBody(t))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var second publishResponse
	require.NoError(t, json.Unmarshal(body, &second))
	assert.False(t, second.Published)
	assert.Equal(t, first.Manifest.ID, second.Manifest.ID)

	resp, body = env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%s/manifest", analysisID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var m struct {
		ID            uuid.UUID           `json:"id"`
		HopMs         int                 `json:"hop_ms"`
		FrameCount    int                 `json:"frame_count"`
		BytesPerFrame int                 `json:"bytes_per_frame"`
		TotalChunks   int                 `json:"total_chunks"`
		Fingerprint   string              `json:"fingerprint"`
		Bands         []types.BandDef     `json:"bands"`
		FrameLayout   []types.LayoutEntry `json:"frame_layout"`
	}
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, first.Manifest.ID, m.ID)
	assert.Equal(t, 56, m.BytesPerFrame)
	assert.Equal(t, 4, m.TotalChunks)
	assert.Len(t, m.Fingerprint, 64)
	require.Len(t, m.FrameLayout, 2)
	assert.Equal(t, types.LayoutEntry{Band: "loudness", Offset: 0, Width: 4}, m.FrameLayout[0])
	assert.Equal(t, types.LayoutEntry{Band: "mfcc", Offset: 4, Width: 52}, m.FrameLayout[1])
	assert.Equal(t, "dBFS", m.Bands[0].Unit)

	resp, _ = env.do(t, http.MethodGet, fmt.Sprintf("/api/manifests/%s", m.ID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%s/manifests", analysisID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"count":1`)
}

func TestPublishRejectsBadChunk(t *testing.T) {
	env := newEnv(t, nil, 0)
	in := publishBody(t)
	in.Chunks[3] = in.Chunks[3][:1399]

	resp, body := env.do(t, http.MethodPost, fmt.Sprintf("/api/analyses/%s/publish", uuid.New()), in)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assertErrorCode(t, body, "validation_error")
}

func TestFramesJSON(t *testing.T) {
	env := newEnv(t, nil, 0)
	analysisID := uuid.New()
	env.publish(t, analysisID)

	resp, body := env.do(t, http.MethodGet,
		fmt.Sprintf("/api/analyses/%s/frames?from_ms=205&to_ms=265&bands=loudness", analysisID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out struct {
		RequestedRange query.Range   `json:"requested_range"`
		ActualRange    query.Range   `json:"actual_range"`
		TotalFrames    int           `json:"total_frames"`
		Frames         []types.Frame `json:"frames"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, query.Range{FromMs: 205, ToMs: 265}, out.RequestedRange)
	assert.Equal(t, query.Range{FromMs: 200, ToMs: 270}, out.ActualRange)
	assert.Equal(t, 7, out.TotalFrames)
	require.Len(t, out.Frames, 7)
	for i, f := range out.Frames {
		assert.Equal(t, 20+i, f.Index)
		assert.Equal(t, []float64{float64(-(20 + i))}, f.Bands["loudness"])
		assert.NotContains(t, f.Bands, "mfcc")
	}
}

func TestFramesEmptyAndClamped(t *testing.T) {
	env := newEnv(t, nil, 0)
	analysisID := uuid.New()
	env.publish(t, analysisID)

	resp, body := env.do(t, http.MethodGet,
		fmt.Sprintf("/api/analyses/%s/frames?from_ms=900&to_ms=50", analysisID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"frames":[]`)
	assert.Contains(t, string(body), `"total_frames":0`)

	resp, body = env.do(t, http.MethodGet,
		fmt.Sprintf("/api/analyses/%s/frames?from_ms=-100", analysisID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"total_frames":100`)
}

func TestFramesChunkEncoding(t *testing.T) {
	env := newEnv(t, nil, 0)
	analysisID := uuid.New()
	env.publish(t, analysisID)

	resp, body := env.do(t, http.MethodGet,
		fmt.Sprintf("/api/analyses/%s/frames?from_ms=240&to_ms=260&encoding=chunks", analysisID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out struct {
		Chunks      []chunkView `json:"chunks"`
		TotalBytes  int         `json:"total_bytes"`
		TotalFrames int         `json:"total_frames"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Chunks, 2)
	assert.Equal(t, 0, out.Chunks[0].ChunkIndex)
	assert.Equal(t, 24, out.Chunks[0].EndFrame)
	assert.Equal(t, 1, out.Chunks[1].ChunkIndex)
	assert.Equal(t, 2800, out.TotalBytes)
	assert.Equal(t, 2, out.TotalFrames)
}

func TestChunkBase64Overhead(t *testing.T) {
	env := newEnv(t, nil, 0)
	analysisID := uuid.New()
	env.publish(t, analysisID)

	resp, body := env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%s/chunks/1", analysisID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var c chunkView
	require.NoError(t, json.Unmarshal(body, &c))
	assert.Equal(t, 1, c.ChunkIndex)
	assert.Equal(t, 25, c.StartFrame)
	assert.Equal(t, 25, c.FrameCount)
	assert.Equal(t, 250, c.StartTimeMs)
	assert.Equal(t, 500, c.EndTimeMs)

	raw, err := base64.StdEncoding.DecodeString(c.DataBase64)
	require.NoError(t, err)
	require.Len(t, raw, 1400)
	assert.Len(t, c.DataBase64, 1868)
	assert.Less(t, float64(len(c.DataBase64))/float64(len(raw)), 1.4)
	assert.Equal(t, publishBody(t).Chunks[1], raw)
}

func TestChunkNotFound(t *testing.T) {
	env := newEnv(t, nil, 0)
	analysisID := uuid.New()
	env.publish(t, analysisID)

	resp, body := env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%s/chunks/4", analysisID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assertErrorCode(t, body, "not_found")

	resp, body = env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%s/chunks/x", analysisID), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assertErrorCode(t, body, "validation_error")
}

func TestValidationErrors(t *testing.T) {
	env := newEnv(t, nil, 0)
	analysisID := uuid.New()
	env.publish(t, analysisID)

	tests := []struct {
		name string
		path string
	}{
		{"non numeric from", fmt.Sprintf("/api/analyses/%s/frames?from_ms=abc", analysisID)},
		{"non numeric to", fmt.Sprintf("/api/analyses/%s/frames?to_ms=1.5", analysisID)},
		{"unknown band", fmt.Sprintf("/api/analyses/%s/frames?bands=chroma", analysisID)},
		{"bad encoding", fmt.Sprintf("/api/analyses/%s/frames?encoding=xml", analysisID)},
		{"bad analysis id", "/api/analyses/not-a-uuid/frames"},
		{"bad manifest id", "/api/manifests/42"},
		{"bad event type", fmt.Sprintf("/api/analyses/%s/events?event_type=drop", analysisID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			assertErrorCode(t, body, "validation_error")
		})
	}
}

func TestUnknownAnalysis(t *testing.T) {
	env := newEnv(t, nil, 0)
	resp, body := env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%s/frames", uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assertErrorCode(t, body, "not_found")
}

func TestMaxQuerySpan(t *testing.T) {
	env := newEnv(t, nil, 100)
	analysisID := uuid.New()
	env.publish(t, analysisID)

	resp, body := env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%s/frames?from_ms=0&to_ms=1000", analysisID), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assertErrorCode(t, body, "validation_error")

	resp, _ = env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%s/frames?from_ms=0&to_ms=100", analysisID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// hidingSource 模拟清单存在而数据块丢失
type hidingSource struct {
	st     *store.Store
	hidden int
}

func (h *hidingSource) GetChunk(ctx context.Context, manifestID uuid.UUID, index int) (*types.FrameChunk, error) {
	if index == h.hidden {
		return nil, fmt.Errorf("%w: chunk %d", types.ErrNotFound, index)
	}
	return h.st.GetChunk(ctx, manifestID, index)
}

func TestMissingChunkIsServerError(t *testing.T) {
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "frames.db"))
	require.NoError(t, err)
	defer st.Close()

	srv := httptest.NewServer(NewServer(st, query.New(&hidingSource{st: st, hidden: 2}, 2), 0).Handler())
	defer srv.Close()
	env := &testEnv{store: st, server: srv}

	analysisID := uuid.New()
	env.publish(t, analysisID)

	resp, body := env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%s/frames", analysisID), nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assertErrorCode(t, body, "data_integrity_error")

	resp, _ = env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%s/frames?from_ms=0&to_ms=200", analysisID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventsEndpoints(t *testing.T) {
	env := newEnv(t, nil, 0)
	analysisID := uuid.New()
	env.publish(t, analysisID)

	conf := 0.75
	resp, body := env.do(t, http.MethodPost, fmt.Sprintf("/api/analyses/%s/events", analysisID), map[string]any{
		"events": []types.Event{
			{TimeMs: 120, EventType: types.EventBeat, Confidence: &conf},
			{TimeMs: 900, EventType: types.EventSectionStart, Payload: json.RawMessage(`{"label":"chorus"}`)},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%s/events?from_ms=100&to_ms=900", analysisID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out eventsResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, 3, out.Count)
	assert.Equal(t, 120, out.Events[0].TimeMs)
	assert.Equal(t, types.EventBeat, out.Events[0].EventType)
	assert.Equal(t, 120, out.Events[1].TimeMs)
	assert.Equal(t, types.EventTransient, out.Events[1].EventType)
	assert.Equal(t, 300, out.Events[2].TimeMs)

	resp, body = env.do(t, http.MethodGet,
		fmt.Sprintf("/api/analyses/%s/events?event_type=section_start", analysisID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, 1, out.Count)
	assert.JSONEq(t, `{"label":"chorus"}`, string(out.Events[0].Payload))

	resp, body = env.do(t, http.MethodPost, fmt.Sprintf("/api/analyses/%s/events", analysisID), map[string]any{
		"events": []map[string]any{{"time_ms": 10, "event_type": "drop"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assertErrorCode(t, body, "validation_error")
}

func TestDeleteManifest(t *testing.T) {
	env := newEnv(t, nil, 0)
	analysisID := uuid.New()
	env.publish(t, analysisID)

	m, err := env.store.LatestManifest(context.Background(), analysisID)
	require.NoError(t, err)

	resp, _ := env.do(t, http.MethodDelete, fmt.Sprintf("/api/manifests/%s", m.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := env.do(t, http.MethodDelete, fmt.Sprintf("/api/manifests/%s", m.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assertErrorCode(t, body, "not_found")

	resp, _ = env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%s/manifest", analysisID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: x", types.ErrValidation), http.StatusUnprocessableEntity, "validation_error"},
		{fmt.Errorf("%w: x", types.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: x", types.ErrAlreadyExists), http.StatusConflict, "conflict"},
		{fmt.Errorf("%w: x", types.ErrDataIntegrity), http.StatusInternalServerError, "data_integrity_error"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		status, code := statusFor(tt.err)
		assert.Equal(t, tt.status, status)
		assert.Equal(t, tt.code, code)
	}
}
