package store

import (
	"context"
	"testing"

	"audio-frames/internal/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishInput(analysisID uuid.UUID) PublishInput {
	return PublishInput{
		Manifest: testInput(analysisID),
		Chunks:   [][]byte{chunkData(30), chunkData(30), chunkData(30), chunkData(10)},
		Events: []types.Event{
			{TimeMs: 120, EventType: types.EventTransient},
			{TimeMs: 640, EventType: types.EventPeak},
		},
	}
}

func TestPublishWritesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	analysisID := uuid.New()

	m, published, err := s.Publish(ctx, publishInput(analysisID))
	require.NoError(t, err)
	assert.True(t, published)
	assert.True(t, m.Complete)

	latest, err := s.LatestManifest(ctx, analysisID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, latest.ID)

	n, err := s.CountChunks(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	events, err := s.QueryEvents(ctx, types.EventQuery{AnalysisID: analysisID, FromMs: 0, ToMs: types.OpenEnd})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestPublishIsIdempotentOnFingerprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	analysisID := uuid.New()

	first, _, err := s.Publish(ctx, publishInput(analysisID))
	require.NoError(t, err)

	second, published, err := s.Publish(ctx, publishInput(analysisID))
	require.NoError(t, err)
	assert.False(t, published)
	assert.Equal(t, first.ID, second.ID)

	events, err := s.QueryEvents(ctx, types.EventQuery{AnalysisID: analysisID, FromMs: 0, ToMs: types.OpenEnd})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestPublishReplacesIncompleteManifest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	analysisID := uuid.New()

	partial, _, err := s.CreateManifest(ctx, testInput(analysisID))
	require.NoError(t, err)
	_, err = s.PutChunk(ctx, partial.ID, 0, chunkData(30))
	require.NoError(t, err)

	m, published, err := s.Publish(ctx, publishInput(analysisID))
	require.NoError(t, err)
	assert.True(t, published)
	assert.NotEqual(t, partial.ID, m.ID)

	_, err = s.GetManifest(ctx, partial.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPublishRejectsBadChunksAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	analysisID := uuid.New()

	in := publishInput(analysisID)
	in.Chunks[3] = make([]byte, 559)
	_, _, err := s.Publish(ctx, in)
	assert.ErrorIs(t, err, types.ErrValidation)

	in = publishInput(analysisID)
	in.Chunks = in.Chunks[:3]
	_, _, err = s.Publish(ctx, in)
	assert.ErrorIs(t, err, types.ErrValidation)

	in = publishInput(analysisID)
	in.Events[1].EventType = "drop"
	_, _, err = s.Publish(ctx, in)
	assert.ErrorIs(t, err, types.ErrValidation)

	list, err := s.ListManifests(ctx, analysisID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
