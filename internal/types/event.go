package types

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// EventType 离散事件类型
type EventType string

const (
	EventTransient    EventType = "transient"
	EventBeat         EventType = "beat"
	EventDownbeat     EventType = "downbeat"
	EventSectionStart EventType = "section_start"
	EventSectionEnd   EventType = "section_end"
	EventPeak         EventType = "peak"
	EventSilence      EventType = "silence"
	EventCustom       EventType = "custom"
)

// Valid 是否为已知事件类型
func (t EventType) Valid() bool {
	switch t {
	case EventTransient, EventBeat, EventDownbeat, EventSectionStart,
		EventSectionEnd, EventPeak, EventSilence, EventCustom:
		return true
	}
	return false
}

// OpenEnd 事件查询不限结束时间
const OpenEnd = math.MaxInt32

// Event 稀疏的带时间戳事件，不要求落在帧网格上
type Event struct {
	ID         int64           `json:"id"`
	AnalysisID uuid.UUID       `json:"analysis_id"`
	TimeMs     int             `json:"time_ms"`
	DurationMs *int            `json:"duration_ms,omitempty"`
	EventType  EventType       `json:"event_type"`
	Confidence *float64        `json:"confidence,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// EventQuery 事件查询条件，时间区间为 [FromMs, ToMs)
type EventQuery struct {
	AnalysisID uuid.UUID
	FromMs     int
	ToMs       int
	EventType  EventType // 为空表示不过滤
}
