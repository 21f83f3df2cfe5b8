package xstate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xingest/pkg/ingest/xpage"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	s := New("api.example.com/odata/orders", xpage.ModeCursor, t0)
	assert.Len(t, s.RunID, 36)
	assert.Equal(t, StatusIdle, s.Status)
	assert.Equal(t, t0, s.StartedAt)
	assert.NotEqual(t, s.RunID, New("x", xpage.ModeOffset, t0).RunID)
}

func TestState_RoundTripKeepsBigCursor(t *testing.T) {
	s := New("e", xpage.ModeCursor, t0)
	s.LastCursor = json.Number("9007199254740993")
	s.HasCursor = true
	s.TotalFetched = 400
	s.Transition(StatusTerminated, t0.Add(time.Minute))

	data, err := Marshal(s)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, json.Number("9007199254740993"), got.LastCursor)
	assert.Equal(t, s.RunID, got.RunID)
	assert.Equal(t, StatusTerminated, got.Status)
	assert.True(t, got.FinishedAt.Equal(t0.Add(time.Minute)))
	assert.EqualValues(t, 400, got.TotalFetched)
}

func TestState_StringCursor(t *testing.T) {
	s := New("e", xpage.ModeCursor, t0)
	s.LastCursor = "2024-01-01T00:00:00Z"
	s.HasCursor = true
	data, err := Marshal(s)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00Z", got.LastCursor)
}

func TestState_Transition(t *testing.T) {
	s := New("e", xpage.ModeOffset, t0)
	s.Transition(StatusFailed, t0.Add(time.Second))
	assert.True(t, s.Status.Terminal())
	assert.False(t, s.FinishedAt.IsZero())

	s.Transition(StatusFetching, t0.Add(2*time.Second))
	assert.False(t, s.Status.Terminal())
	assert.True(t, s.FinishedAt.IsZero())
	assert.Equal(t, t0.Add(2*time.Second), s.UpdatedAt)
}

func TestState_Checkpoint(t *testing.T) {
	s := New("e", xpage.ModeOffset, t0)
	s.ApplyCheckpoint(xpage.Checkpoint{Mode: xpage.ModeOffset, Skip: 3000, EmptyBatches: 2})
	cp := s.Checkpoint()
	assert.EqualValues(t, 3000, cp.Skip)
	assert.Equal(t, 2, cp.EmptyBatches)
	assert.False(t, cp.Terminated)

	s.Status = StatusTerminated
	assert.True(t, s.Checkpoint().Terminated)
}

func TestState_Clone(t *testing.T) {
	var nilState *State
	assert.Nil(t, nilState.Clone())

	s := New("e", xpage.ModeCursor, t0)
	c := s.Clone()
	c.TotalFetched = 10
	assert.Zero(t, s.TotalFetched)
}

func TestMarshal_Errors(t *testing.T) {
	_, err := Marshal(nil)
	assert.ErrorIs(t, err, ErrNilState)
	_, err = Unmarshal([]byte("{not json"))
	assert.ErrorIs(t, err, ErrCorrupt)
}
