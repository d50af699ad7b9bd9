package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectCreatesRecord(t *testing.T) {
	r := New()

	rec := r.Connect("C1", "conn-1")

	assert.Equal(t, "C1", rec.ID)
	assert.Equal(t, "conn-1", rec.ConnectionID)
	assert.Equal(t, StatusOnline, rec.Status)
	assert.False(t, rec.LastSeen.IsZero())
	assert.Empty(t, rec.State)
	assert.Nil(t, rec.Location)
	assert.Equal(t, 1, r.Len())
}

func TestReconnectOverwritesConnectionAndKeepsState(t *testing.T) {
	r := New()
	r.Connect("C1", "conn-1")
	require.True(t, r.ApplySnapshot("C1", map[string]any{"balance": 100}))
	require.True(t, r.Disconnect("C1", "conn-1"))

	rec := r.Connect("C1", "conn-2")

	assert.Equal(t, "conn-2", rec.ConnectionID)
	assert.Equal(t, StatusOnline, rec.Status)
	// Reconnection resumes with the stale last-known state
	assert.Equal(t, 100, rec.State["balance"])
	assert.Equal(t, 1, r.Len())
}

func TestSnapshotReplacesStateWholesale(t *testing.T) {
	r := New()
	r.Connect("C1", "conn-1")

	require.True(t, r.ApplySnapshot("C1", map[string]any{
		"balance":  100,
		"note":     "hello",
		"location": map[string]any{"lat": 1.0, "lng": 2.0},
	}))
	rec, ok := r.Get("C1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"lat": 1.0, "lng": 2.0}, rec.Location)

	// Old keys absent from the new payload disappear; location resets
	require.True(t, r.ApplySnapshot("C1", map[string]any{"balance": 50}))
	rec, ok = r.Get("C1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"balance": 50}, rec.State)
	assert.Nil(t, rec.Location)
}

func TestUpdateShallowMerges(t *testing.T) {
	r := New()
	r.Connect("C1", "conn-1")
	require.True(t, r.ApplySnapshot("C1", map[string]any{
		"balance": 100,
		"prefs":   map[string]any{"theme": "dark", "lang": "en"},
	}))

	require.True(t, r.ApplyUpdate("C1", map[string]any{
		"balance": 120,
		"note":    "x",
		"prefs":   map[string]any{"theme": "light"},
	}))

	rec, ok := r.Get("C1")
	require.True(t, ok)
	assert.Equal(t, 120, rec.State["balance"])
	assert.Equal(t, "x", rec.State["note"])
	// Nested structures are replaced, not deep-merged
	assert.Equal(t, map[string]any{"theme": "light"}, rec.State["prefs"])
}

func TestTouchAdvancesLastSeen(t *testing.T) {
	r := New()
	r.Connect("C1", "conn-1")
	rec, ok := r.Get("C1")
	require.True(t, ok)
	before := rec.LastSeen

	time.Sleep(5 * time.Millisecond)
	require.True(t, r.Touch("C1"))

	rec, _ = r.Get("C1")
	assert.True(t, rec.LastSeen.After(before), "Touch did not advance LastSeen")

	assert.False(t, r.Touch("ghost"))
}

func TestLocationLiftedOnlyBySnapshot(t *testing.T) {
	r := New()
	r.Connect("C1", "conn-1")
	require.True(t, r.ApplySnapshot("C1", map[string]any{
		"location": map[string]any{"lat": 1.0, "lng": 2.0},
	}))

	// An incremental update writes the key into State but leaves Location alone
	require.True(t, r.ApplyUpdate("C1", map[string]any{
		"location": map[string]any{"lat": 9.0, "lng": 9.0},
	}))

	rec, ok := r.Get("C1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"lat": 9.0, "lng": 9.0}, rec.State["location"])
	assert.Equal(t, map[string]any{"lat": 1.0, "lng": 2.0}, rec.Location)
}

func TestApplyToUnknownIdentifier(t *testing.T) {
	r := New()

	assert.False(t, r.ApplySnapshot("ghost", map[string]any{"a": 1}))
	assert.False(t, r.ApplyUpdate("ghost", map[string]any{"a": 1}))
	assert.False(t, r.Disconnect("ghost", "conn-1"))
	assert.Equal(t, 0, r.Len())
}

func TestDisconnectRetainsRecord(t *testing.T) {
	r := New()
	r.Connect("C1", "conn-1")
	require.True(t, r.ApplySnapshot("C1", map[string]any{"balance": 100}))

	require.True(t, r.Disconnect("C1", "conn-1"))

	rec, ok := r.Get("C1")
	require.True(t, ok)
	assert.Equal(t, StatusOffline, rec.Status)
	assert.Equal(t, 100, rec.State["balance"])
	assert.Equal(t, 1, r.Len())
}

func TestDisconnectWithStaleConnectionIsNoOp(t *testing.T) {
	r := New()
	r.Connect("C1", "conn-1")
	r.Connect("C1", "conn-2")

	// The orphaned first channel closing must not flip the live record
	assert.False(t, r.Disconnect("C1", "conn-1"))

	rec, ok := r.Get("C1")
	require.True(t, ok)
	assert.Equal(t, StatusOnline, rec.Status)
	assert.Equal(t, "conn-2", rec.ConnectionID)
}

func TestLastSeenNeverDecreases(t *testing.T) {
	r := New()
	last := time.Time{}

	check := func() {
		rec, ok := r.Get("C1")
		require.True(t, ok)
		assert.False(t, rec.LastSeen.Before(last), "LastSeen went backwards")
		last = rec.LastSeen
	}

	r.Connect("C1", "conn-1")
	check()
	r.ApplySnapshot("C1", map[string]any{"a": 1})
	check()
	r.ApplyUpdate("C1", map[string]any{"b": 2})
	check()
	r.Disconnect("C1", "conn-1")
	check()
	r.Connect("C1", "conn-2")
	check()
}

func TestListSortedAndDetached(t *testing.T) {
	r := New()
	r.Connect("C2", "conn-2")
	r.Connect("C1", "conn-1")
	r.Connect("C3", "conn-3")

	records := r.List()
	require.Len(t, records, 3)
	assert.Equal(t, "C1", records[0].ID)
	assert.Equal(t, "C2", records[1].ID)
	assert.Equal(t, "C3", records[2].ID)

	// Mutating a returned copy must not leak into the registry
	records[0].State["injected"] = true
	rec, _ := r.Get("C1")
	assert.NotContains(t, rec.State, "injected")
}

func TestOnlineCount(t *testing.T) {
	r := New()
	r.Connect("C1", "conn-1")
	r.Connect("C2", "conn-2")
	assert.Equal(t, 2, r.OnlineCount())

	r.Disconnect("C1", "conn-1")
	assert.Equal(t, 1, r.OnlineCount())
	assert.Equal(t, 2, r.Len())
}
