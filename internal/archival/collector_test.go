package archival

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudlog-io/archiver/internal/manifest"
	"github.com/cloudlog-io/archiver/internal/ntp"
	"github.com/cloudlog-io/archiver/internal/storageiface"
)

func baseManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m := manifest.New()
	require.NoError(t, m.Add(ntp.SegmentMeta{BaseOffset: 10, CommittedOffset: 19, SizeBytes: 1024}))
	require.NoError(t, m.Add(ntp.SegmentMeta{BaseOffset: 20, CommittedOffset: 29, SizeBytes: 2048}))
	require.NoError(t, m.Add(ntp.SegmentMeta{BaseOffset: 30, CommittedOffset: 39, SizeBytes: 4096}))
	return m
}

func localSeg(base, committed ntp.Offset, size int64, compacted bool) storageiface.LocalSegment {
	return storageiface.LocalSegment{BaseOffset: base, CommittedOffset: committed, SizeBytes: size, CompactionFinished: compacted}
}

// E1 — Simple collection.
func TestE1SimpleCollection(t *testing.T) {
	m := baseManifest(t)
	log := &storageiface.FakeLocalLog{Segments: []storageiface.LocalSegment{
		localSeg(5, 21, 100, true),
		localSeg(22, 34, 100, true),
		localSeg(35, 49, 100, true),
		localSeg(50, 69, 100, false),
	}}

	r := Collect(4, m, log, 4<<20)

	require.Equal(t, ntp.Offset(10), r.BeginInclusive)
	require.Equal(t, ntp.Offset(39), r.EndInclusive)
	require.Equal(t, 3, r.SegmentCount)
	require.True(t, r.CanReplace)
}

// E2 — Alignment inside segment.
func TestE2AlignmentInsideSegment(t *testing.T) {
	m := baseManifest(t)
	log := &storageiface.FakeLocalLog{Segments: []storageiface.LocalSegment{
		localSeg(12, 14, 50, true),
	}}

	r := Collect(1, m, log, 4<<20)

	require.Equal(t, 1, r.SegmentCount)
	require.False(t, r.CanReplace)
}

// E3 — Size-capped collection.
func TestE3SizeCappedCollection(t *testing.T) {
	m := baseManifest(t)
	const segSize = 1000
	log := &storageiface.FakeLocalLog{Segments: []storageiface.LocalSegment{
		localSeg(5, 14, segSize, true),
		localSeg(15, 24, segSize, true),
		localSeg(25, 34, segSize, true),
		localSeg(35, 44, segSize, true),
	}}

	r := Collect(4, m, log, 3*segSize)

	require.Equal(t, ntp.Offset(10), r.BeginInclusive)
	require.Equal(t, ntp.Offset(29), r.EndInclusive)
	require.Equal(t, 3, r.SegmentCount)
	require.True(t, r.CanReplace)
}

// E4 — Gap coverage.
func TestE4GapCoverage(t *testing.T) {
	m := manifest.New()
	require.NoError(t, m.Add(ntp.SegmentMeta{BaseOffset: 10, CommittedOffset: 19}))
	require.NoError(t, m.Add(ntp.SegmentMeta{BaseOffset: 30, CommittedOffset: 39}))
	require.NoError(t, m.Add(ntp.SegmentMeta{BaseOffset: 50, CommittedOffset: 59}))

	const segSize = 1000
	log := &storageiface.FakeLocalLog{Segments: []storageiface.LocalSegment{
		localSeg(5, 14, segSize, true),
		localSeg(15, 24, segSize, true),
		localSeg(25, 34, segSize, true),
		localSeg(35, 44, segSize, true),
	}}

	r := Collect(4, m, log, 3*segSize)

	require.Equal(t, ntp.Offset(10), r.BeginInclusive)
	require.Equal(t, ntp.Offset(29), r.EndInclusive)
	require.True(t, r.CanReplace)
}

func TestCollectAbortsWhenBeginAtOrPastManifestEnd(t *testing.T) {
	m := baseManifest(t)
	log := &storageiface.FakeLocalLog{}

	r := Collect(39, m, log, 4<<20)
	require.Equal(t, Result{}, r)
}
