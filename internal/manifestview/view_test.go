package manifestview

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudlog-io/archiver/internal/archivererrors"
	"github.com/cloudlog-io/archiver/internal/manifest"
	"github.com/cloudlog-io/archiver/internal/manifestcache"
	"github.com/cloudlog-io/archiver/internal/ntp"
)

type fakeFetcher struct {
	shards map[ntp.Offset][]byte
	calls  int
}

func (f *fakeFetcher) FetchShard(_ context.Context, shardStart ntp.Offset) ([]byte, int64, error) {
	f.calls++
	blob, ok := f.shards[shardStart]
	if !ok {
		return nil, 0, archivererrors.ErrManifestNotFound
	}
	return blob, int64(len(blob)), nil
}

func buildShard(t *testing.T, base, committed ntp.Offset) []byte {
	t.Helper()
	m := manifest.New()
	require.NoError(t, m.Add(ntp.SegmentMeta{BaseOffset: base, CommittedOffset: committed, NextKafkaOffset: ntp.KafkaOffset(committed + 1)}))
	blob, err := m.Serialize()
	require.NoError(t, err)
	return blob
}

func newTestView(t *testing.T) (*View, *manifest.Manifest) {
	t.Helper()
	stm := manifest.New()
	require.NoError(t, stm.Add(ntp.SegmentMeta{
		BaseOffset: 0, CommittedOffset: 9, NextKafkaOffset: 10, SizeBytes: 100,
	}))
	require.NoError(t, stm.Add(ntp.SegmentMeta{
		BaseOffset: 10, CommittedOffset: 19, NextKafkaOffset: 20, SizeBytes: 200,
	}))
	require.NoError(t, stm.Add(ntp.SegmentMeta{
		BaseOffset: 40, CommittedOffset: 49, NextKafkaOffset: 50,
	}))

	_, err := stm.Spillover(20)
	require.NoError(t, err)

	stm.SetArchiveCleanOffset(0)
	stm.SetArchiveStartOffset(0)

	shard0 := buildShard(t, 0, 9)
	shard1 := buildShard(t, 10, 19)
	fetcher := &fakeFetcher{shards: map[ntp.Offset][]byte{
		0:  shard0,
		10: shard1,
	}}

	cache := manifestcache.New(1 << 20, manifestcache.Config{})
	v := New(stm, cache, fetcher, Config{CursorTTL: 50 * time.Millisecond})
	v.RefreshIndex()
	return v, stm
}

func TestGetActiveOutOfRange(t *testing.T) {
	v, _ := newTestView(t)
	_, err := v.GetActive(context.Background(), -1)
	require.ErrorIs(t, err, archivererrors.ErrOutOfRange)
}

func TestGetActiveOnSTMTail(t *testing.T) {
	v, _ := newTestView(t)
	c, err := v.GetActive(context.Background(), 45)
	require.NoError(t, err)
	require.True(t, c.onSTM)
	require.NotNil(t, c.Manifest())
}

func TestGetActiveHydratesSpilloverShard(t *testing.T) {
	v, _ := newTestView(t)
	c, err := v.GetActive(context.Background(), 15)
	require.NoError(t, err)
	require.False(t, c.onSTM)
	require.NotNil(t, c.Manifest())
}

func TestCursorNextAdvancesThroughShardsThenSTM(t *testing.T) {
	v, _ := newTestView(t)
	c, err := v.GetActive(context.Background(), 5)
	require.NoError(t, err)

	ok, err := c.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, c.onSTM)

	ok, err = c.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, c.onSTM)

	ok, err = c.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCursorEvictsAfterTTL(t *testing.T) {
	v, _ := newTestView(t)
	c, err := v.GetActive(context.Background(), 5)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.True(t, c.Evicted())
	require.Nil(t, c.Manifest())
}

func TestComputeRetentionNoViolation(t *testing.T) {
	v, _ := newTestView(t)
	big := int64(1 << 30)
	res := v.ComputeRetention(&big, nil, time.Now())
	require.Equal(t, ntp.Offset(0), res.Offset)
	require.Equal(t, int64(0), res.Delta)
}

func TestComputeRetentionByteBudget(t *testing.T) {
	v, _ := newTestView(t)
	budget := int64(250)
	res := v.ComputeRetention(&budget, nil, time.Now())
	require.Equal(t, ntp.Offset(10), res.Offset)
	require.Equal(t, int64(100), res.Delta)
}

func TestComputeRetentionHonorsStartKafkaOffsetOverride(t *testing.T) {
	v, stm := newTestView(t)
	stm.AdvanceStartKafkaOffset(5) // falls inside the first shard (kafka [0,10))

	budget := int64(250)
	res := v.ComputeRetention(&budget, nil, time.Now())

	// Without the override the byte budget alone would move the cutoff to
	// offset 10 (reclaiming the first shard); the override pins it back to
	// the start of the shard that still covers kafka offset 5.
	require.Equal(t, ntp.Offset(0), res.Offset)
	require.Equal(t, int64(0), res.Delta)
}

func TestComputeRetentionOverrideDoesNotBlockEarlierShards(t *testing.T) {
	v, stm := newTestView(t)
	stm.AdvanceStartKafkaOffset(15) // falls inside the second shard (kafka [10,20))

	budget := int64(250)
	res := v.ComputeRetention(&budget, nil, time.Now())

	require.Equal(t, ntp.Offset(10), res.Offset)
	require.Equal(t, int64(100), res.Delta)
}
