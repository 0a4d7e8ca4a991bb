package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudlog-io/archiver/internal/manifest"
	"github.com/cloudlog-io/archiver/internal/ntp"
	"github.com/cloudlog-io/archiver/internal/remotepath"
)

func TestSpilloverFetcherRoundTripsThroughObjectStore(t *testing.T) {
	store := tempLocalStore(t)
	keys := remotepath.New()
	partID := ntp.NTP{Namespace: "ns", Topic: "t", Partition: 0}

	m := manifest.New()
	require.NoError(t, m.Add(ntp.SegmentMeta{BaseOffset: 0, CommittedOffset: 9, SizeBytes: 100}))
	require.NoError(t, m.Add(ntp.SegmentMeta{BaseOffset: 10, CommittedOffset: 19, SizeBytes: 100}))
	_, err := m.Spillover(20)
	require.NoError(t, err)

	entry := m.SpilloverEntries()[0]
	key := keys.SpilloverManifestPath(partID, 1, remotepath.SpilloverKeyComponents{
		Base: entry.BaseOffset, Last: entry.LastOffset,
		BaseKafka: entry.BaseKafka, NextKafka: entry.NextKafka,
		BaseTS: entry.BaseTS, LastTS: entry.LastTS,
	})
	require.NoError(t, store.Put(context.Background(), key, []byte("shard-body")))

	fetcher := NewSpilloverFetcher(store, keys, partID, 1, m)
	blob, size, err := fetcher.FetchShard(context.Background(), entry.BaseOffset)
	require.NoError(t, err)
	require.Equal(t, []byte("shard-body"), blob)
	require.Equal(t, entry.SizeBytes, size)
}

func TestSpilloverFetcherUnknownShardStartErrors(t *testing.T) {
	store := tempLocalStore(t)
	keys := remotepath.New()
	m := manifest.New()
	fetcher := NewSpilloverFetcher(store, keys, ntp.NTP{}, 1, m)

	_, _, err := fetcher.FetchShard(context.Background(), 42)
	require.Error(t, err)
}
