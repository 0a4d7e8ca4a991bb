package accesstime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddAndEstimateTimestamp(t *testing.T) {
	tr := New()
	now := time.Unix(1_700_000_000, 0).UTC()

	tr.AddTimestamp("ns/topic/0/segment-10.log", now)

	got, ok := tr.EstimateTimestamp("ns/topic/0/segment-10.log")
	require.True(t, ok)
	require.Equal(t, now, got)
	require.True(t, tr.IsDirty())
}

func TestEstimateTimestampMissingKey(t *testing.T) {
	tr := New()
	_, ok := tr.EstimateTimestamp("never-added")
	require.False(t, ok)
}

func TestRemoveTimestamp(t *testing.T) {
	tr := New()
	tr.AddTimestamp("a", time.Unix(1, 0))
	tr.RemoveTimestamp("a")

	_, ok := tr.EstimateTimestamp("a")
	require.False(t, ok)
}

func TestToBytesClearsDirtyFlag(t *testing.T) {
	tr := New()
	tr.AddTimestamp("a", time.Unix(1, 0))
	require.True(t, tr.IsDirty())

	tr.ToBytes()
	require.False(t, tr.IsDirty())
}

func TestToBytesFromBytesRoundTrip(t *testing.T) {
	tr := New()
	tr.AddTimestamp("a", time.Unix(100, 0))
	tr.AddTimestamp("b", time.Unix(200, 0))
	tr.AddTimestamp("c", time.Unix(300, 0))

	blob := tr.ToBytes()
	restored, err := FromBytes(blob)
	require.NoError(t, err)
	require.Equal(t, tr.Len(), restored.Len())

	got, ok := restored.EstimateTimestamp("b")
	require.True(t, ok)
	require.Equal(t, time.Unix(200, 0).UTC(), got)
}

func TestToBytesIsDeterministic(t *testing.T) {
	build := func() *Tracker {
		tr := New()
		tr.AddTimestamp("z", time.Unix(3, 0))
		tr.AddTimestamp("a", time.Unix(1, 0))
		tr.AddTimestamp("m", time.Unix(2, 0))
		return tr
	}

	require.Equal(t, build().ToBytes(), build().ToBytes())
}

func TestRemoveOthers(t *testing.T) {
	tr := New()
	tr.AddTimestamp("keep", time.Unix(1, 0))
	tr.AddTimestamp("drop", time.Unix(2, 0))

	keep := New()
	keep.AddTimestamp("keep", time.Unix(99, 0))

	tr.RemoveOthers(keep)

	_, ok := tr.EstimateTimestamp("keep")
	require.True(t, ok)
	_, ok = tr.EstimateTimestamp("drop")
	require.False(t, ok)
}
