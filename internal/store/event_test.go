package store

import (
	"context"
	"encoding/json"
	"testing"

	"audio-frames/internal/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestQueryEventsOrderingAndRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	analysisID := uuid.New()

	_, err := s.AppendEvents(ctx, []types.Event{
		{AnalysisID: analysisID, TimeMs: 400, EventType: types.EventBeat},
		{AnalysisID: analysisID, TimeMs: 100, EventType: types.EventTransient, Confidence: ptr(0.9)},
		{AnalysisID: analysisID, TimeMs: 100, EventType: types.EventBeat},
		{AnalysisID: analysisID, TimeMs: 250, EventType: types.EventSilence, DurationMs: ptr(120)},
		{AnalysisID: analysisID, TimeMs: 500, EventType: types.EventPeak},
		{AnalysisID: uuid.New(), TimeMs: 200, EventType: types.EventBeat},
	})
	require.NoError(t, err)

	events, err := s.QueryEvents(ctx, types.EventQuery{AnalysisID: analysisID, FromMs: 100, ToMs: 500})
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, 100, events[0].TimeMs)
	assert.Equal(t, types.EventBeat, events[0].EventType)
	assert.Equal(t, 100, events[1].TimeMs)
	assert.Equal(t, types.EventTransient, events[1].EventType)
	require.NotNil(t, events[1].Confidence)
	assert.InDelta(t, 0.9, *events[1].Confidence, 1e-9)
	assert.Equal(t, 250, events[2].TimeMs)
	require.NotNil(t, events[2].DurationMs)
	assert.Equal(t, 120, *events[2].DurationMs)
	assert.Equal(t, 400, events[3].TimeMs)

	for _, e := range events {
		assert.Equal(t, analysisID, e.AnalysisID)
		assert.NotZero(t, e.ID)
	}
}

func TestQueryEventsFilterAndEmptyRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	analysisID := uuid.New()

	_, err := s.AppendEvents(ctx, []types.Event{
		{AnalysisID: analysisID, TimeMs: 10, EventType: types.EventBeat},
		{AnalysisID: analysisID, TimeMs: 20, EventType: types.EventDownbeat},
		{AnalysisID: analysisID, TimeMs: 30, EventType: types.EventBeat},
	})
	require.NoError(t, err)

	beats, err := s.QueryEvents(ctx, types.EventQuery{
		AnalysisID: analysisID, FromMs: 0, ToMs: types.OpenEnd, EventType: types.EventBeat,
	})
	require.NoError(t, err)
	assert.Len(t, beats, 2)

	empty, err := s.QueryEvents(ctx, types.EventQuery{AnalysisID: analysisID, FromMs: 30, ToMs: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.QueryEvents(ctx, types.EventQuery{AnalysisID: analysisID, FromMs: 0, ToMs: 10, EventType: "drop"})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestAppendEventPayloadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	analysisID := uuid.New()

	e, err := s.AppendEvent(ctx, types.Event{
		AnalysisID: analysisID,
		TimeMs:     42,
		EventType:  types.EventCustom,
		Payload:    json.RawMessage(`{"label":"drop"}`),
	})
	require.NoError(t, err)
	assert.NotZero(t, e.ID)

	events, err := s.QueryEvents(ctx, types.EventQuery{AnalysisID: analysisID, FromMs: 0, ToMs: 100})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"label":"drop"}`, string(events[0].Payload))
	assert.Nil(t, events[0].DurationMs)
	assert.Nil(t, events[0].Confidence)
}

func TestAppendEventsRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	analysisID := uuid.New()

	tests := []struct {
		name  string
		event types.Event
	}{
		{"negative time", types.Event{AnalysisID: analysisID, TimeMs: -1, EventType: types.EventBeat}},
		{"unknown type", types.Event{AnalysisID: analysisID, EventType: "drop"}},
		{"confidence above one", types.Event{AnalysisID: analysisID, EventType: types.EventBeat, Confidence: ptr(1.5)}},
		{"negative duration", types.Event{AnalysisID: analysisID, EventType: types.EventBeat, DurationMs: ptr(-5)}},
		{"bad payload", types.Event{AnalysisID: analysisID, EventType: types.EventCustom, Payload: json.RawMessage(`{`)}},
		{"nil analysis", types.Event{EventType: types.EventBeat}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AppendEvents(ctx, []types.Event{
				{AnalysisID: analysisID, TimeMs: 1, EventType: types.EventBeat},
				tt.event,
			})
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}

	events, err := s.QueryEvents(ctx, types.EventQuery{AnalysisID: analysisID, FromMs: 0, ToMs: types.OpenEnd})
	require.NoError(t, err)
	assert.Empty(t, events)
}
