package store

// migration 一次按版本号顺序执行的 schema 变更
type migration struct {
	version     int
	description string
	sql         string
}

// Schema v1 - 清单、数据块与事件
const schemaV1 = `
-- 分析帧清单：创建后不可修改，只允许 complete 从 0 变为 1
CREATE TABLE IF NOT EXISTS analysis_frame_manifests (
	id TEXT PRIMARY KEY,
	analysis_id TEXT NOT NULL,
	manifest_version TEXT NOT NULL,
	hop_ms INTEGER NOT NULL CHECK (hop_ms > 0),
	frame_count INTEGER NOT NULL CHECK (frame_count > 0),
	duration_ms INTEGER NOT NULL CHECK (duration_ms > 0),
	sample_rate INTEGER NOT NULL,
	bands TEXT NOT NULL,
	bytes_per_frame INTEGER NOT NULL CHECK (bytes_per_frame > 0),
	frame_layout TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	audio_content_hash TEXT NOT NULL,
	analyzer_version TEXT NOT NULL,
	analysis_params TEXT NOT NULL,
	chunk_size_frames INTEGER NOT NULL CHECK (chunk_size_frames > 0),
	total_chunks INTEGER NOT NULL,
	complete INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE (analysis_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_manifests_analysis ON analysis_frame_manifests(analysis_id, complete, created_at);

-- 帧数据块：按 (manifest_id, chunk_index) 唯一，只追加
CREATE TABLE IF NOT EXISTS analysis_frame_data (
	manifest_id TEXT NOT NULL REFERENCES analysis_frame_manifests(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL CHECK (chunk_index >= 0),
	start_frame INTEGER NOT NULL,
	frame_count INTEGER NOT NULL CHECK (frame_count > 0),
	start_time_ms INTEGER NOT NULL,
	end_time_ms INTEGER NOT NULL,
	frame_data BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (manifest_id, chunk_index)
);

-- 离散事件：与帧网格无关，只追加
CREATE TABLE IF NOT EXISTS analysis_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id TEXT NOT NULL,
	time_ms INTEGER NOT NULL CHECK (time_ms >= 0),
	duration_ms INTEGER,
	event_type TEXT NOT NULL,
	confidence REAL,
	payload TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_analysis_time ON analysis_events(analysis_id, time_ms, event_type, id);

CREATE TRIGGER IF NOT EXISTS trg_manifests_immutable
BEFORE UPDATE OF id, analysis_id, manifest_version, hop_ms, frame_count, duration_ms, sample_rate,
	bands, bytes_per_frame, frame_layout, fingerprint, audio_content_hash, analyzer_version,
	analysis_params, chunk_size_frames, total_chunks, created_at
ON analysis_frame_manifests
BEGIN
	SELECT RAISE(ABORT, 'analysis_frame_manifests is immutable');
END;

CREATE TRIGGER IF NOT EXISTS trg_manifests_seal_only
BEFORE UPDATE OF complete ON analysis_frame_manifests
WHEN NOT (OLD.complete = 0 AND NEW.complete = 1)
BEGIN
	SELECT RAISE(ABORT, 'complete can only go from 0 to 1');
END;

CREATE TRIGGER IF NOT EXISTS trg_frame_data_immutable
BEFORE UPDATE ON analysis_frame_data
BEGIN
	SELECT RAISE(ABORT, 'analysis_frame_data is immutable');
END;

CREATE TRIGGER IF NOT EXISTS trg_events_append_only
BEFORE UPDATE ON analysis_events
BEGIN
	SELECT RAISE(ABORT, 'analysis_events is append-only');
END;
`

var migrations = []migration{
	{version: 1, description: "frame manifests, chunks and events", sql: schemaV1},
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
