package remotepath

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudlog-io/archiver/internal/ntp"
)

func testNTP() ntp.NTP {
	return ntp.NTP{Namespace: "kafka", Topic: "orders", Partition: 7}
}

func TestProviderDeterministic(t *testing.T) {
	p := New()
	n := testNTP()

	require.Equal(t, p.PartitionManifestPath(n, 3), p.PartitionManifestPath(n, 3))
	require.Equal(t, p.TopicManifestPath(n, 3), p.TopicManifestPath(n, 3))

	seg := ntp.SegmentMeta{BaseOffset: 100, ArchiverTerm: 2, SNameFormat: ntp.SNameFormatV3}
	require.Equal(t, p.SegmentPath(n, 3, seg), p.SegmentPath(n, 3, seg))
}

func TestProviderDiffersByLayout(t *testing.T) {
	n := testNTP()
	unlabeled := New()
	labeled := NewLabeled(Label{Value: "cluster-a"})

	require.NotEqual(t, unlabeled.PartitionManifestPath(n, 1), labeled.PartitionManifestPath(n, 1))
}

func TestPartitionManifestPathJSONOnlyUnderPrefixedLayout(t *testing.T) {
	n := testNTP()

	unlabeled := New()
	path, ok := unlabeled.PartitionManifestPathJSON(n, 1)
	require.True(t, ok)
	require.NotEmpty(t, path)

	labeled := NewLabeled(Label{Value: "cluster-a"})
	_, ok = labeled.PartitionManifestPathJSON(n, 1)
	require.False(t, ok)
}

func TestSpilloverKeyRoundTrip(t *testing.T) {
	p := New()
	n := testNTP()
	manifestPath := p.PartitionManifestPath(n, 1)

	c := SpilloverKeyComponents{
		Base: 0, Last: 999, BaseKafka: 0, NextKafka: 950, BaseTS: 1000, LastTS: 2000,
	}
	key := p.SpilloverManifestPath(n, 1, c)

	got, ok := IsSpilloverKey(manifestPath, key)
	require.True(t, ok)
	require.Equal(t, c, got)
}

func TestIsSpilloverKeyRejectsUnrelatedKey(t *testing.T) {
	p := New()
	n := testNTP()
	manifestPath := p.PartitionManifestPath(n, 1)

	_, ok := IsSpilloverKey(manifestPath, "some/other/key")
	require.False(t, ok)
}

func TestAdjustedSegmentNameDeterministicAcrossCollections(t *testing.T) {
	a := AdjustedSegmentName(500, 4, ntp.SNameFormatV3)
	b := AdjustedSegmentName(500, 4, ntp.SNameFormatV3)
	require.Equal(t, a, b)

	c := AdjustedSegmentName(501, 4, ntp.SNameFormatV3)
	require.NotEqual(t, a, c)
}

func TestAdjustedSegmentPathUsesSameLayoutAsSegmentPath(t *testing.T) {
	tp := ntp.NTP{Namespace: "ns", Topic: "t", Partition: 2}
	p := New()

	got := p.AdjustedSegmentPath(tp, 1, 500, 4, ntp.SNameFormatV3)
	want := p.PartitionManifestPrefix(tp, 1) + "/" + AdjustedSegmentName(500, 4, ntp.SNameFormatV3)
	require.Equal(t, want, got)

	labeled := NewLabeled(Label{Value: "l1"})
	gotLabeled := labeled.AdjustedSegmentPath(tp, 1, 500, 4, ntp.SNameFormatV3)
	require.Contains(t, gotLabeled, "/2/")
}
