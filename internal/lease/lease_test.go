package lease

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/thence/internal/fsutil"
)

func TestFreshLeaseIsLikelyActive(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "task-a", 1, "implementer")
	require.NoError(t, InitActive(path))

	decision, err := EvaluateOrphan(dir, "task-a", 1)
	require.NoError(t, err)
	require.False(t, decision.Interrupt, "freshly initialized lease must be LikelyActive")
}

func TestStaleLeaseIsInterrupt(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "task-a", 1, "implementer")
	l := Lease{SchemaVersion: 1, OwnerPID: 99999, State: StateActive,
		StartedAt: time.Now().UTC().Add(-5 * time.Minute), LastSeenAt: time.Now().UTC().Add(-5 * time.Minute)}
	require.NoError(t, fsutil.AtomicWriteJSON(path, l))

	decision, err := EvaluateOrphan(dir, "task-a", 1)
	require.NoError(t, err)
	require.True(t, decision.Interrupt)
}

func TestReleasedLeaseIsAlwaysInterruptRegardlessOfAge(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "task-a", 1, "implementer")
	l := Lease{SchemaVersion: 1, State: StateReleased, LastSeenAt: time.Now().UTC()}
	require.NoError(t, fsutil.AtomicWriteJSON(path, l))

	decision, err := EvaluateOrphan(dir, "task-a", 1)
	require.NoError(t, err)
	require.True(t, decision.Interrupt)
}

func TestNoLeaseIsInterrupt(t *testing.T) {
	dir := t.TempDir()
	decision, err := EvaluateOrphan(dir, "task-a", 1)
	require.NoError(t, err)
	require.True(t, decision.Interrupt)
	require.Equal(t, "no lease found", decision.Reason)
}

func TestTickerUpdatesLastSeenAndReleaseOnStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leases", "task-a", "attempt1", "implementer.json")

	ticker, err := StartTicker(path, 10*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(35 * time.Millisecond)

	mid, err := Read(path)
	require.NoError(t, err)
	require.True(t, mid.LastSeenAt.After(mid.StartedAt), "ticker must refresh last_seen_at while running")

	require.NoError(t, ticker.StopAndRelease())

	l, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, StateReleased, l.State)
}
