package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudlog-io/archiver/internal/ntp"
)

func seg(base, committed ntp.Offset) ntp.SegmentMeta {
	return ntp.SegmentMeta{
		BaseOffset:      base,
		CommittedOffset: committed,
		BaseKafkaOffset: ntp.KafkaOffset(base),
		NextKafkaOffset: ntp.KafkaOffset(committed + 1),
		SizeBytes:       1024,
	}
}

func TestAddRejectsOutOfOrder(t *testing.T) {
	m := New()
	require.NoError(t, m.Add(seg(10, 19)))
	require.NoError(t, m.Add(seg(20, 29)))

	err := m.Add(seg(25, 35))
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestAddAllowsGap(t *testing.T) {
	m := New()
	require.NoError(t, m.Add(seg(10, 19)))
	require.NoError(t, m.Add(seg(30, 39)))
	require.Len(t, m.Segments(), 2)
}

func TestManifestMonotonicityInvariant(t *testing.T) {
	m := New()
	bases := []ntp.Offset{10, 20, 35, 100}
	committed := []ntp.Offset{19, 29, 50, 150}
	for i := range bases {
		require.NoError(t, m.Add(seg(bases[i], committed[i])))
	}

	segs := m.Segments()
	for i := 1; i < len(segs); i++ {
		require.Greater(t, int64(segs[i].BaseOffset), int64(segs[i-1].CommittedOffset))
	}
}

func TestSpilloverRemovesPrefixAndRecordsEntries(t *testing.T) {
	m := New()
	require.NoError(t, m.Add(seg(10, 19)))
	require.NoError(t, m.Add(seg(20, 29)))
	require.NoError(t, m.Add(seg(30, 39)))

	spilled, err := m.Spillover(30)
	require.NoError(t, err)
	require.Len(t, spilled, 2)

	require.Len(t, m.Segments(), 1)
	require.Equal(t, ntp.Offset(30), m.StartOffset())

	entries := m.SpilloverEntries()
	require.Len(t, entries, 2)
	require.Equal(t, ntp.Offset(10), entries[0].BaseOffset)
	require.Equal(t, ntp.Offset(20), entries[1].BaseOffset)
}

func TestSpilloverRejectsBoundaryInsideSegment(t *testing.T) {
	m := New()
	require.NoError(t, m.Add(seg(10, 19)))
	require.NoError(t, m.Add(seg(20, 29)))

	_, err := m.Spillover(25)
	require.ErrorIs(t, err, ErrSpilloverBoundaryInsideSegment)
}

func TestReplaceRangeMergesContiguousSegments(t *testing.T) {
	m := New()
	require.NoError(t, m.Add(seg(10, 19)))
	require.NoError(t, m.Add(seg(20, 29)))
	require.NoError(t, m.Add(seg(30, 39)))

	merged := ntp.SegmentMeta{BaseOffset: 10, CommittedOffset: 29, SizeBytes: 4096}
	require.NoError(t, m.ReplaceRange(10, 29, merged))

	segs := m.Segments()
	require.Len(t, segs, 2)
	require.Equal(t, merged, segs[0])
	require.Equal(t, ntp.Offset(30), segs[1].BaseOffset)
}

func TestReplaceRangeRejectsMismatchedBounds(t *testing.T) {
	m := New()
	require.NoError(t, m.Add(seg(10, 19)))
	require.NoError(t, m.Add(seg(20, 29)))

	err := m.ReplaceRange(10, 25, ntp.SegmentMeta{BaseOffset: 10, CommittedOffset: 25})
	require.ErrorIs(t, err, ErrReplacementRangeNotFound)
}

func TestSegmentContaining(t *testing.T) {
	m := New()
	require.NoError(t, m.Add(seg(10, 19)))
	require.NoError(t, m.Add(seg(20, 29)))

	s, ok := m.SegmentContaining(25)
	require.True(t, ok)
	require.Equal(t, ntp.Offset(20), s.BaseOffset)

	_, ok = m.SegmentContaining(1000)
	require.False(t, ok)
}

func TestAdvanceStartKafkaOffsetMustIncrease(t *testing.T) {
	m := New()
	m.AdvanceStartKafkaOffset(5)
	m.AdvanceStartKafkaOffset(10)

	require.Panics(t, func() {
		m.AdvanceStartKafkaOffset(10)
	})
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	m := New()
	require.NoError(t, m.Add(seg(10, 19)))
	require.NoError(t, m.Add(seg(20, 29)))
	m.AdvanceStartKafkaOffset(5)
	m.SetArchiveStartOffset(10)
	m.SetArchiveCleanOffset(5)
	_, err := m.Spillover(20)
	require.NoError(t, err)

	blob, err := m.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(blob)
	require.NoError(t, err)

	require.Equal(t, m.Segments(), restored.Segments())
	require.Equal(t, m.SpilloverEntries(), restored.SpilloverEntries())
	require.Equal(t, m.ArchiveStartOffset(), restored.ArchiveStartOffset())
	require.Equal(t, m.ArchiveCleanOffset(), restored.ArchiveCleanOffset())
	override, ok := restored.StartKafkaOffsetOverride()
	require.True(t, ok)
	require.Equal(t, ntp.KafkaOffset(5), override)
}

func TestSerializeIsByteStable(t *testing.T) {
	build := func() *Manifest {
		m := New()
		require.NoError(t, m.Add(seg(10, 19)))
		require.NoError(t, m.Add(seg(20, 29)))
		return m
	}

	a, err := build().Serialize()
	require.NoError(t, err)
	b, err := build().Serialize()
	require.NoError(t, err)
	require.Equal(t, a, b)
}
