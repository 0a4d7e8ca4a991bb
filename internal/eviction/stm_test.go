package eviction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cloudlog-io/archiver/internal/ntp"
	"github.com/cloudlog-io/archiver/internal/raftiface"
)

func TestEffectiveStartOffsetDefaultsToZero(t *testing.T) {
	raft := raftiface.NewFake()
	s := New(raft, nil)
	require.Equal(t, ntp.Offset(0), s.EffectiveStartOffset())
}

// E7 — Log-eviction truncation.
func TestE7LogEvictionTruncation(t *testing.T) {
	defer goleak.VerifyNone(t)

	raft := raftiface.NewFake()
	s := New(raft, nil)
	s.Start()
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	const target = ntp.Offset(100)
	require.NoError(t, s.Truncate(ctx, target))
	require.Equal(t, target, s.EffectiveStartOffset())

	got, err := s.SyncEffectiveStart(ctx)
	require.NoError(t, err)
	require.Equal(t, target, got)
}

func TestSyncEffectiveStartSucceedsWhenTermStable(t *testing.T) {
	raft := raftiface.NewFake()
	raft.SetTerm(1)
	s := New(raft, nil)

	_, err := s.SyncEffectiveStart(context.Background())
	require.NoError(t, err)
}

func TestApplyIgnoresNonAdvancingTruncatePoint(t *testing.T) {
	raft := raftiface.NewFake()
	s := New(raft, nil)

	batch := EncodeBatch(Batch{Type: BatchPrefixTruncate, TruncatePoint: 50})
	require.NoError(t, s.Apply(context.Background(), 1, batch))
	require.Equal(t, ntp.Offset(51), s.EffectiveStartOffset())

	earlier := EncodeBatch(Batch{Type: BatchPrefixTruncate, TruncatePoint: 10})
	require.NoError(t, s.Apply(context.Background(), 2, earlier))
	require.Equal(t, ntp.Offset(51), s.EffectiveStartOffset())
}

func TestHandleEvictionRecoversFromSnapshot(t *testing.T) {
	raft := raftiface.NewFake()
	raft.SetSnapshot(raftiface.Snapshot{LastIncludedIndex: 200})
	s := New(raft, nil)

	require.NoError(t, s.HandleEviction(context.Background()))
	require.Equal(t, ntp.Offset(201), s.EffectiveStartOffset())
}

func TestStartStopCleansUpBackgroundFibers(t *testing.T) {
	defer goleak.VerifyNone(t)

	raft := raftiface.NewFake()
	s := New(raft, nil)
	s.Start()
	s.Stop()
}

func TestStorageEvictionSignalDrivesSnapshotWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	raft := raftiface.NewFake()
	raft.SetMaxCollectibleOffset(1000)
	s := New(raft, nil)
	s.Start()
	defer s.Stop()

	raft.SignalEviction(42)

	require.Eventually(t, func() bool {
		return raft.LastSnapshotIndex() == 42
	}, time.Second, 5*time.Millisecond)
}
