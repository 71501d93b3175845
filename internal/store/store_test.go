package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meta(ts int64, origin string) Metadata {
	return Metadata{Timestamp: ts, OriginNodeID: origin}
}

func raw(s string) json.RawMessage { return json.RawMessage(`"` + s + `"`) }

func TestStorePutGet(t *testing.T) {
	s, err := New(t.TempDir(), "node1")
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.Get("missing")
	assert.False(t, ok)

	action, stored, err := s.Put("k", raw("v1"), meta(1000, "node1"))
	require.NoError(t, err)
	assert.Equal(t, ActionWritten, action)
	assert.EqualValues(t, 1, stored.Version)

	rec, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, raw("v1"), rec.Value)
	assert.Equal(t, int64(1000), rec.Metadata.Timestamp)
}

func TestStorePutNewerWins(t *testing.T) {
	s, err := New(t.TempDir(), "node1")
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Put("k", raw("v1"), meta(1000, "node1"))
	require.NoError(t, err)

	action, stored, err := s.Put("k", raw("v2"), meta(1001, "node2"))
	require.NoError(t, err)
	assert.Equal(t, ActionWritten, action)
	assert.EqualValues(t, 2, stored.Version)

	rec, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, raw("v2"), rec.Value)
}

func TestStorePutOlderIsNoOp(t *testing.T) {
	s, err := New(t.TempDir(), "node1")
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Put("k", raw("v2"), meta(2000, "node1"))
	require.NoError(t, err)

	action, _, err := s.Put("k", raw("v1"), meta(1000, "node2"))
	require.NoError(t, err)
	assert.Equal(t, ActionSkippedOlder, action)

	rec, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, raw("v2"), rec.Value)
}

func TestStorePutEqualTimestampFirstStoredWins(t *testing.T) {
	s, err := New(t.TempDir(), "node1")
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Put("k", raw("first"), meta(5000, "node1"))
	require.NoError(t, err)

	action, _, err := s.Put("k", raw("second"), meta(5000, "node2"))
	require.NoError(t, err)
	assert.Equal(t, ActionSkippedOlder, action)

	rec, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, raw("first"), rec.Value)
}

func TestStoreDeleteIsTombstoneNotRemoval(t *testing.T) {
	s, err := New(t.TempDir(), "node1")
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Put("k", raw("v1"), meta(1000, "node1"))
	require.NoError(t, err)

	_, _, err = s.Delete("k", meta(2000, "node1"))
	require.NoError(t, err)

	_, ok := s.Get("k")
	assert.False(t, ok, "tombstoned keys are hidden from Get")

	rec, ok := s.GetRaw("k")
	require.True(t, ok, "tombstoned keys still exist for GetRaw")
	assert.True(t, rec.Tombstone)
}

func TestStoreKeysHidesTombstones(t *testing.T) {
	s, err := New(t.TempDir(), "node1")
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Put("a", raw("1"), meta(1000, "node1"))
	require.NoError(t, err)
	_, _, err = s.Put("b", raw("2"), meta(1000, "node1"))
	require.NoError(t, err)
	_, _, err = s.Delete("a", meta(2000, "node1"))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"b"}, s.Keys())
}

func TestStoreSnapshotAndReload(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "node1")
	require.NoError(t, err)

	_, _, err = s.Put("k", raw("v1"), meta(1000, "node1"))
	require.NoError(t, err)
	require.NoError(t, s.Snapshot())
	require.NoError(t, s.Close())

	reopened, err := New(dir, "node1")
	require.NoError(t, err)
	defer reopened.Close()

	rec, ok := reopened.Get("k")
	require.True(t, ok)
	assert.Equal(t, raw("v1"), rec.Value)
}

func TestStoreWALReplayWithoutSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "node1")
	require.NoError(t, err)

	_, _, err = s.Put("k1", raw("v1"), meta(1000, "node1"))
	require.NoError(t, err)
	_, _, err = s.Put("k2", raw("v2"), meta(1001, "node1"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := New(dir, "node1")
	require.NoError(t, err)
	defer reopened.Close()

	assert.ElementsMatch(t, []string{"k1", "k2"}, reopened.Keys())
}
