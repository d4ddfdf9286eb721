// Package api 帧存储的 HTTP 接口。内部一律使用原始字节，base64 只出现在这一层。
package api

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"audio-frames/internal/frames"
	"audio-frames/internal/query"
	"audio-frames/internal/store"
	"audio-frames/internal/types"

	"github.com/google/uuid"
)

// Store HTTP 层用到的存储操作
type Store interface {
	Ping(ctx context.Context) error
	GetManifest(ctx context.Context, id uuid.UUID) (*types.Manifest, error)
	LatestManifest(ctx context.Context, analysisID uuid.UUID) (*types.Manifest, error)
	ListManifests(ctx context.Context, analysisID uuid.UUID) ([]*types.Manifest, error)
	DeleteManifest(ctx context.Context, id uuid.UUID) error
	QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error)
	AppendEvents(ctx context.Context, events []types.Event) ([]types.Event, error)
	Publish(ctx context.Context, in store.PublishInput) (*types.Manifest, bool, error)
}

// Server HTTP 服务
type Server struct {
	store      Store
	engine     *query.Engine
	maxQueryMs int
	mux        *http.ServeMux
}

// NewServer 创建服务并注册路由。maxQueryMs 为 0 表示不限制单次查询跨度
func NewServer(st Store, engine *query.Engine, maxQueryMs int) *Server {
	s := &Server{store: st, engine: engine, maxQueryMs: maxQueryMs, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/analyses/{analysis_id}/manifest", s.handleLatestManifest)
	s.mux.HandleFunc("GET /api/analyses/{analysis_id}/manifests", s.handleListManifests)
	s.mux.HandleFunc("GET /api/manifests/{manifest_id}", s.handleGetManifest)
	s.mux.HandleFunc("DELETE /api/manifests/{manifest_id}", s.handleDeleteManifest)
	s.mux.HandleFunc("GET /api/analyses/{analysis_id}/frames", s.handleFrames)
	s.mux.HandleFunc("GET /api/analyses/{analysis_id}/chunks/{chunk_index}", s.handleChunk)
	s.mux.HandleFunc("GET /api/analyses/{analysis_id}/events", s.handleGetEvents)
	s.mux.HandleFunc("POST /api/analyses/{analysis_id}/events", s.handleAppendEvents)
	s.mux.HandleFunc("POST /api/analyses/{analysis_id}/publish", s.handlePublish)
	return s
}

// Handler 带请求日志的根 handler
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.mux.ServeHTTP(rec, r)
		slog.Debug("HTTP request",
			"method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// manifestView 清单加上读取方重新计算的帧布局
type manifestView struct {
	*types.Manifest
	FrameLayout []types.LayoutEntry `json:"frame_layout"`
}

func viewOf(m *types.Manifest) (manifestView, error) {
	layout, err := frames.VerifyManifest(m)
	if err != nil {
		return manifestView{}, err
	}
	return manifestView{Manifest: m, FrameLayout: layout.Entries}, nil
}

// chunkView 数据块的传输形式，data_base64 为标准 base64
type chunkView struct {
	ChunkIndex  int    `json:"chunk_index"`
	StartFrame  int    `json:"start_frame"`
	EndFrame    int    `json:"end_frame"`
	FrameCount  int    `json:"frame_count_in_chunk"`
	StartTimeMs int    `json:"start_time_ms"`
	EndTimeMs   int    `json:"end_time_ms"`
	DataBase64  string `json:"data_base64"`
}

func chunkViewOf(c *types.FrameChunk) chunkView {
	return chunkView{
		ChunkIndex:  c.ChunkIndex,
		StartFrame:  c.StartFrame,
		EndFrame:    c.StartFrame + c.FrameCount - 1,
		FrameCount:  c.FrameCount,
		StartTimeMs: c.StartTimeMs,
		EndTimeMs:   c.EndTimeMs,
		DataBase64:  base64.StdEncoding.EncodeToString(c.Data),
	}
}

type rangeResponse struct {
	Manifest       manifestView `json:"manifest"`
	RequestedRange query.Range  `json:"requested_range"`
	ActualRange    query.Range  `json:"actual_range"`
	TotalFrames    int          `json:"total_frames"`
}

type framesResponse struct {
	rangeResponse
	Frames []types.Frame `json:"frames"`
}

type chunksResponse struct {
	rangeResponse
	Chunks     []chunkView `json:"chunks"`
	TotalBytes int         `json:"total_bytes"`
}

type eventsResponse struct {
	AnalysisID uuid.UUID     `json:"analysis_id"`
	Events     []types.Event `json:"events"`
	Count      int           `json:"count"`
}

type publishResponse struct {
	Manifest  manifestView `json:"manifest"`
	Published bool         `json:"published"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLatestManifest(w http.ResponseWriter, r *http.Request) {
	analysisID, err := pathUUID(r, "analysis_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.store.LatestManifest(r.Context(), analysisID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeManifest(w, r, m)
}

func (s *Server) handleListManifests(w http.ResponseWriter, r *http.Request) {
	analysisID, err := pathUUID(r, "analysis_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.store.ListManifests(r.Context(), analysisID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]manifestView, 0, len(list))
	for _, m := range list {
		v, err := viewOf(m)
		if err != nil {
			writeError(w, r, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"analysis_id": analysisID, "manifests": views, "count": len(views)})
}

func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "manifest_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.store.GetManifest(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeManifest(w, r, m)
}

func (s *Server) handleDeleteManifest(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "manifest_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.DeleteManifest(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeManifest(w http.ResponseWriter, r *http.Request, m *types.Manifest) {
	v, err := viewOf(m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	analysisID, err := pathUUID(r, "analysis_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	fromMs, err := intParam(q.Get("from_ms"), "from_ms", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	toMs, err := intParam(q.Get("to_ms"), "to_ms", types.OpenEnd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	encoding := q.Get("encoding")
	if encoding != "" && encoding != "json" && encoding != "chunks" {
		writeError(w, r, fmt.Errorf("%w: encoding 只能是 json 或 chunks", types.ErrValidation))
		return
	}

	m, err := s.store.LatestManifest(r.Context(), analysisID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := viewOf(m)
	if err != nil {
		writeError(w, r, err)
		return
	}

	from, to := frames.ClampRange(fromMs, toMs, m.DurationMs)
	if s.maxQueryMs > 0 && to-from > s.maxQueryMs {
		writeError(w, r, fmt.Errorf("%w: 查询跨度 %d ms 超过上限 %d ms", types.ErrValidation, to-from, s.maxQueryMs))
		return
	}

	if encoding == "chunks" {
		res, err := s.engine.QueryChunks(r.Context(), m, fromMs, toMs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp := chunksResponse{
			rangeResponse: rangeResponse{view, res.Requested, res.Actual, res.TotalFrames()},
			Chunks:        make([]chunkView, 0, len(res.Chunks)),
		}
		for _, c := range res.Chunks {
			resp.Chunks = append(resp.Chunks, chunkViewOf(c))
			resp.TotalBytes += len(c.Data)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	res, err := s.engine.QueryFrames(r.Context(), m, fromMs, toMs, bandsParam(q.Get("bands")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, framesResponse{
		rangeResponse: rangeResponse{view, res.Requested, res.Actual, res.TotalFrames()},
		Frames:        res.Frames,
	})
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	analysisID, err := pathUUID(r, "analysis_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	index, err := strconv.Atoi(r.PathValue("chunk_index"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: chunk_index 必须是整数", types.ErrValidation))
		return
	}
	m, err := s.store.LatestManifest(r.Context(), analysisID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.engine.ChunkRaw(r.Context(), m, index)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chunkViewOf(c))
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	analysisID, err := pathUUID(r, "analysis_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	fromMs, err := intParam(q.Get("from_ms"), "from_ms", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	toMs, err := intParam(q.Get("to_ms"), "to_ms", types.OpenEnd)
	if err != nil {
		writeError(w, r, err)
		return
	}

	events, err := s.store.QueryEvents(r.Context(), types.EventQuery{
		AnalysisID: analysisID,
		FromMs:     fromMs,
		ToMs:       toMs,
		EventType:  types.EventType(q.Get("event_type")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{AnalysisID: analysisID, Events: events, Count: len(events)})
}

func (s *Server) handleAppendEvents(w http.ResponseWriter, r *http.Request) {
	analysisID, err := pathUUID(r, "analysis_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Events []types.Event `json:"events"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Events) == 0 {
		writeError(w, r, fmt.Errorf("%w: events 不能为空", types.ErrValidation))
		return
	}
	for i := range req.Events {
		req.Events[i].AnalysisID = analysisID
	}

	events, err := s.store.AppendEvents(r.Context(), req.Events)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, eventsResponse{AnalysisID: analysisID, Events: events, Count: len(events)})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	analysisID, err := pathUUID(r, "analysis_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in store.PublishInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.Manifest.AnalysisID != uuid.Nil && in.Manifest.AnalysisID != analysisID {
		writeError(w, r, fmt.Errorf("%w: 请求体 analysis_id 与路径不一致", types.ErrValidation))
		return
	}
	in.Manifest.AnalysisID = analysisID

	m, published, err := s.store.Publish(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := viewOf(m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if !published {
		status = http.StatusOK
	}
	writeJSON(w, status, publishResponse{Manifest: view, Published: published})
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s 不是合法的 UUID", types.ErrValidation, name)
	}
	return id, nil
}

// intParam 缺省时返回 fallback，非整数为校验错误
func intParam(raw, name string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s 必须是整数, got %q", types.ErrValidation, name, raw)
	}
	return n, nil
}

// bandsParam 逗号分隔的频带名
func bandsParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
