package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *State {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// --- LoadAt / Close ---

func TestLoadAt_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "state.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestLoadAt_ReopensExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s1, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.SetEndpoint("ratings", "https://api.npoint.io/abc"))
	require.NoError(t, s1.Close())

	s2, err := LoadAt(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, "https://api.npoint.io/abc", s2.Endpoint("ratings"))
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "state.db"), DefaultPath("/data"))
}

// --- Endpoints ---

func TestEndpoint_EmptyByDefault(t *testing.T) {
	s := testDB(t)
	assert.Equal(t, "", s.Endpoint("ratings"))
}

func TestSetEndpoint_RoundTripAndOverwrite(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetEndpoint("history", "https://a.example/1"))
	require.NoError(t, s.SetEndpoint("history", "https://a.example/2"))
	assert.Equal(t, "https://a.example/2", s.Endpoint("history"))
}

func TestSetEndpoint_EmptyDeletes(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetEndpoint("ratings", "https://a.example/1"))
	require.NoError(t, s.SetEndpoint("ratings", ""))
	assert.Equal(t, "", s.Endpoint("ratings"))

	all, err := s.Endpoints()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSetEndpoint_EmptyOnMissingKey(t *testing.T) {
	s := testDB(t)
	assert.NoError(t, s.SetEndpoint("ratings", ""))
}

func TestEndpoints_All(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetEndpoint("ratings", "r"))
	require.NoError(t, s.SetEndpoint("history", "h"))

	all, err := s.Endpoints()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ratings": "r", "history": "h"}, all)
}

// --- Outcomes ---

func TestOutcome_NilWhenMissing(t *testing.T) {
	s := testDB(t)
	o, err := s.Outcome("ratings")
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestRecordOutcome_SuccessSetsLastSuccess(t *testing.T) {
	s := testDB(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordOutcome("ratings", "success", "", at))

	o, err := s.Outcome("ratings")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "success", o.Status)
	assert.Empty(t, o.Error)
	assert.True(t, at.Equal(o.At))
	assert.True(t, at.Equal(o.LastSuccess))
}

func TestRecordOutcome_ErrorKeepsLastSuccess(t *testing.T) {
	s := testDB(t)
	ok := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	failed := ok.Add(time.Hour)

	require.NoError(t, s.RecordOutcome("history", "success", "", ok))
	require.NoError(t, s.RecordOutcome("history", "error", "HTTP 500: server error", failed))

	o, err := s.Outcome("history")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "error", o.Status)
	assert.Equal(t, "HTTP 500: server error", o.Error)
	assert.True(t, failed.Equal(o.At))
	assert.True(t, ok.Equal(o.LastSuccess))
}

func TestRecordOutcome_ConvertsToUTC(t *testing.T) {
	s := testDB(t)
	loc := time.FixedZone("X", 3*3600)
	at := time.Date(2025, 1, 1, 3, 0, 0, 0, loc)

	require.NoError(t, s.RecordOutcome("ratings", "idle", "", at))

	o, err := s.Outcome("ratings")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, o.At.Location())
	assert.True(t, at.Equal(o.At))
	assert.True(t, o.LastSuccess.IsZero())
}

// --- Collections ---

func TestCollections_UnionSorted(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetEndpoint("ratings", "r"))
	require.NoError(t, s.RecordOutcome("history", "error", "x", time.Now()))
	require.NoError(t, s.RecordOutcome("ratings", "success", "", time.Now()))

	names, err := s.Collections()
	require.NoError(t, err)
	assert.Equal(t, []string{"history", "ratings"}, names)
}
