package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudlog-io/archiver/internal/manifest"
	"github.com/cloudlog-io/archiver/internal/ntp"
	"github.com/cloudlog-io/archiver/internal/remotepath"
)

func TestRetainerDeletesSpilledShardsBelowOffset(t *testing.T) {
	store := tempLocalStore(t)
	keys := remotepath.New()
	partID := ntp.NTP{Namespace: "ns", Topic: "t", Partition: 0}

	stm := manifest.New()
	require.NoError(t, stm.Add(ntp.SegmentMeta{BaseOffset: 0, CommittedOffset: 9, SizeBytes: 100}))
	require.NoError(t, stm.Add(ntp.SegmentMeta{BaseOffset: 10, CommittedOffset: 19, SizeBytes: 100}))
	stm.SetArchiveStartOffset(0)
	stm.SetArchiveCleanOffset(0)
	_, err := stm.Spillover(20)
	require.NoError(t, err)

	entries := stm.SpilloverEntries()
	var keyPaths []string
	for _, e := range entries {
		k := keys.SpilloverManifestPath(partID, 1, remotepath.SpilloverKeyComponents{
			Base: e.BaseOffset, Last: e.LastOffset,
			BaseKafka: e.BaseKafka, NextKafka: e.NextKafka,
			BaseTS: e.BaseTS, LastTS: e.LastTS,
		})
		require.NoError(t, store.Put(context.Background(), k, []byte("x")))
		keyPaths = append(keyPaths, k)
	}

	r := NewRetainer(store, keys, partID, 1, stm)
	require.NoError(t, r.ApplyRetention(context.Background(), 20))

	require.Equal(t, ntp.Offset(20), stm.ArchiveStartOffset())
	require.Equal(t, ntp.Offset(20), stm.ArchiveCleanOffset())
	for _, k := range keyPaths {
		_, err := store.Get(context.Background(), k)
		require.ErrorIs(t, err, ErrNotFound)
	}
}

func TestRetainerKeepsShardsAtOrAboveOffset(t *testing.T) {
	store := tempLocalStore(t)
	keys := remotepath.New()
	partID := ntp.NTP{Namespace: "ns", Topic: "t", Partition: 0}

	stm := manifest.New()
	require.NoError(t, stm.Add(ntp.SegmentMeta{BaseOffset: 0, CommittedOffset: 9, SizeBytes: 100}))
	require.NoError(t, stm.Add(ntp.SegmentMeta{BaseOffset: 10, CommittedOffset: 19, SizeBytes: 100}))
	require.NoError(t, stm.Add(ntp.SegmentMeta{BaseOffset: 20, CommittedOffset: 29, SizeBytes: 100}))
	stm.SetArchiveStartOffset(0)
	stm.SetArchiveCleanOffset(0)
	_, err := stm.Spillover(20)
	require.NoError(t, err)

	entries := stm.SpilloverEntries()
	keep := keys.SpilloverManifestPath(partID, 1, remotepath.SpilloverKeyComponents{
		Base: entries[1].BaseOffset, Last: entries[1].LastOffset,
		BaseKafka: entries[1].BaseKafka, NextKafka: entries[1].NextKafka,
		BaseTS: entries[1].BaseTS, LastTS: entries[1].LastTS,
	})
	require.NoError(t, store.Put(context.Background(), keep, []byte("keep-me")))

	r := NewRetainer(store, keys, partID, 1, stm)
	require.NoError(t, r.ApplyRetention(context.Background(), 15))

	got, err := store.Get(context.Background(), keep)
	require.NoError(t, err)
	require.Equal(t, []byte("keep-me"), got)
}
