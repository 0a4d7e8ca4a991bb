// Package eviction implements the log-eviction state machine of spec.md
// §4.6: a raft-replicated STM that tracks a partition's effective start
// offset and drives a background fiber pair that writes raft snapshots as
// close to it as the composed STM manager allows. Ported from
// original_source's log_eviction_stm.cc, translating seastar gates and
// abort_source into goroutines and context.Context.
package eviction

import (
	"context"
	"errors"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/cloudlog-io/archiver/internal/archivererrors"
	"github.com/cloudlog-io/archiver/internal/ntp"
	"github.com/cloudlog-io/archiver/internal/raftiface"
)

// offsetMonitor is a cancelable condition variable over a monotonically
// advancing offset, the Go equivalent of a seastar
// ssx::event / offset-monitor pair: waiters block until the tracked
// offset reaches a target, stop() wakes everyone.
type offsetMonitor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	current ntp.Offset
	broken  bool
}

func newOffsetMonitor() *offsetMonitor {
	m := &offsetMonitor{current: ntp.Unset}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *offsetMonitor) notify(o ntp.Offset) {
	m.mu.Lock()
	if o > m.current {
		m.current = o
	}
	m.mu.Unlock()
	m.cond.Broadcast()
}

// wait blocks until the tracked offset reaches at least target, ctx is
// done, or the monitor is broken by Stop.
func (m *offsetMonitor) wait(ctx context.Context, target ntp.Offset) error {
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			m.cond.Broadcast()
		case <-watchDone:
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.current < target && !m.broken {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.cond.Wait()
	}
	if m.broken {
		return archivererrors.ErrShuttingDown
	}
	return ctx.Err()
}

func (m *offsetMonitor) stop() {
	m.mu.Lock()
	m.broken = true
	m.mu.Unlock()
	m.cond.Broadcast()
}

// reapSignal is a cancelable condition variable with no payload, signaled
// whenever the snapshotter fiber should re-examine evict_until.
type reapSignal struct {
	mu     sync.Mutex
	cond   *sync.Cond
	armed  bool
	broken bool
}

func newReapSignal() *reapSignal {
	s := &reapSignal{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *reapSignal) signal() {
	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *reapSignal) wait(ctx context.Context) error {
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			s.cond.Broadcast()
		case <-watchDone:
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.armed && !s.broken {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	if s.broken {
		return archivererrors.ErrShuttingDown
	}
	s.armed = false
	return ctx.Err()
}

func (s *reapSignal) stop() {
	s.mu.Lock()
	s.broken = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// STM is the log-eviction state machine for one partition.
type STM struct {
	raft   raftiface.Raft
	logger log.Logger

	mu                          sync.Mutex
	deleteRecordsEvictionOffset ntp.Offset
	storageEvictionOffset       ntp.Offset
	lastAppliedOffset           ntp.Offset

	reap                *reapSignal
	lastSnapshotMonitor *offsetMonitor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a log-eviction STM driving raft.
func New(raft raftiface.Raft, logger log.Logger) *STM {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &STM{
		raft:                        raft,
		logger:                      logger,
		deleteRecordsEvictionOffset: ntp.Unset,
		storageEvictionOffset:       ntp.Unset,
		lastAppliedOffset:           ntp.Unset,
		reap:                        newReapSignal(),
		lastSnapshotMonitor:         newOffsetMonitor(),
	}
}

// Start spawns the eviction-monitor and snapshotter background fibers.
func (s *STM) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.monitorLogEviction(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.writeSnapshotsInBackground(ctx)
	}()
}

// Stop breaks both background fibers and waits for them to exit.
func (s *STM) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.reap.stop()
	s.lastSnapshotMonitor.stop()
	s.wg.Wait()
}

// EffectiveStartOffset is the max of the last written raft snapshot and
// the most recent delete-records eviction offset, plus one: the first
// offset still guaranteed readable.
func (s *STM) EffectiveStartOffset() ntp.Offset {
	s.mu.Lock()
	del := s.deleteRecordsEvictionOffset
	s.mu.Unlock()

	last := s.raft.LastSnapshotIndex()
	start := last
	if del > start {
		start = del
	}
	return start.Next()
}

// Apply processes one replicated record batch. Only BatchPrefixTruncate
// is recognized; anything else is ignored. Apply must be deterministic:
// it only ever moves the in-memory start offset forward, never performs
// I/O that could diverge across replicas.
func (s *STM) Apply(ctx context.Context, lastOffsetOfBatch ntp.Offset, raw []byte) error {
	batch, err := DecodeBatch(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.lastAppliedOffset = lastOffsetOfBatch
	advanced := false
	if batch.Type == BatchPrefixTruncate && batch.TruncatePoint > s.deleteRecordsEvictionOffset {
		level.Debug(s.logger).Log("msg", "moving effective start offset", "truncate_point", batch.TruncatePoint)
		s.deleteRecordsEvictionOffset = batch.TruncatePoint
		advanced = true
	}
	s.mu.Unlock()

	if advanced {
		s.reap.signal()
	}
	return nil
}

// Truncate replicates a prefix_truncate command at quorum targeting
// offset target, then waits for it to be applied locally. It returns once
// the command has been applied (the start offset has monotonically
// advanced), not once bytes have actually been deleted — that happens in
// the background snapshotter fiber.
func (s *STM) Truncate(ctx context.Context, target ntp.Offset) error {
	batch := Batch{Type: BatchPrefixTruncate, TruncatePoint: target - 1}
	term := s.raft.Term()

	lastOffset, err := s.raft.Replicate(ctx, term, EncodeBatch(batch))
	if err != nil {
		level.Error(s.logger).Log("msg", "failed to replicate prefix_truncate command", "err", err)
		return err
	}

	if err := s.raft.WaitApplied(ctx, lastOffset); err != nil {
		if ctx.Err() != nil {
			return archivererrors.ErrShuttingDown
		}
		return archivererrors.ErrTimeout
	}
	// The consensus layer's commit stream (out of scope here, per
	// spec.md §1) is what normally drives Apply for every replica; since
	// replication is confirmed, apply the same batch this STM just
	// produced rather than waiting on a callback this module doesn't own.
	return s.Apply(ctx, lastOffset, EncodeBatch(batch))
}

// SyncEffectiveStart ensures this replica has applied up to the current
// term before returning the effective start offset, so that a caller
// cannot observe a stale start offset right after a leadership change.
func (s *STM) SyncEffectiveStart(ctx context.Context) (ntp.Offset, error) {
	term := s.raft.Term()
	if err := s.raft.WaitApplied(ctx, s.lastAppliedOffsetSnapshot()); err != nil {
		if s.raft.Term() != term {
			return ntp.Unset, archivererrors.ErrNotLeader
		}
		return ntp.Unset, archivererrors.ErrTimeout
	}
	if s.raft.Term() != term {
		return ntp.Unset, archivererrors.ErrNotLeader
	}
	return s.EffectiveStartOffset(), nil
}

func (s *STM) lastAppliedOffsetSnapshot() ntp.Offset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAppliedOffset
}

// HandleEviction performs gap recovery: when a local log gap is
// detected ahead of this STM's last-applied offset, the only path
// forward is replaying from the most recent raft snapshot.
func (s *STM) HandleEviction(ctx context.Context) error {
	snap, ok, err := s.raft.OpenSnapshot(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("eviction: encountered a log gap with no raft snapshot to recover from")
	}

	s.mu.Lock()
	s.deleteRecordsEvictionOffset = ntp.Unset
	s.storageEvictionOffset = snap.LastIncludedIndex
	s.lastAppliedOffset = snap.LastIncludedIndex.Next()
	s.mu.Unlock()

	level.Info(s.logger).Log("msg", "handled log eviction gap", "new_effective_start", s.EffectiveStartOffset())
	s.reap.signal()
	return nil
}

// monitorLogEviction is the eviction-monitor background fiber: it awaits
// storage-layer eviction signals, wakes the snapshotter, and waits for
// that signal to be fully processed before accepting the next one.
func (s *STM) monitorLogEviction(ctx context.Context) {
	for ctx.Err() == nil {
		offset, err := s.raft.MonitorLogEviction(ctx)
		if err != nil {
			return
		}

		level.Debug(s.logger).Log("msg", "handling log deletion notification", "offset", offset)
		maxCollectible := s.raft.MaxCollectibleOffset()
		next := offset
		if maxCollectible < next {
			next = maxCollectible
		}

		s.mu.Lock()
		s.storageEvictionOffset = offset
		s.mu.Unlock()
		s.reap.signal()

		if err := s.lastSnapshotMonitor.wait(ctx, next); err != nil {
			if errors.Is(err, archivererrors.ErrShuttingDown) {
				return
			}
		}
	}
}

// writeSnapshotsInBackground is the snapshotter background fiber: it
// writes raft snapshots as close to the effective start offset as
// possible, one wakeup at a time.
func (s *STM) writeSnapshotsInBackground(ctx context.Context) {
	for {
		if err := s.reap.wait(ctx); err != nil {
			return
		}

		s.mu.Lock()
		evictUntil := s.storageEvictionOffset
		if s.deleteRecordsEvictionOffset > evictUntil {
			evictUntil = s.deleteRecordsEvictionOffset
		}
		s.mu.Unlock()

		if evictUntil <= ntp.Unset {
			continue
		}

		indexLB, ok := s.raft.IndexLowerBound(evictUntil)
		if !ok {
			continue
		}
		if err := s.doWriteRaftSnapshot(ctx, indexLB); err != nil {
			level.Error(s.logger).Log("msg", "error occurred when attempting to write snapshot", "err", err)
		}
	}
}

func (s *STM) doWriteRaftSnapshot(ctx context.Context, indexLB ntp.Offset) error {
	if indexLB <= s.raft.LastSnapshotIndex() {
		return nil
	}
	if err := s.raft.WaitVisible(ctx, indexLB); err != nil {
		return err
	}
	if err := s.raft.RefreshCommitIndex(ctx); err != nil {
		return err
	}

	target := indexLB
	if maxCollectible := s.raft.MaxCollectibleOffset(); target > maxCollectible {
		level.Debug(s.logger).Log("msg", "can only evict up to offset", "offset", maxCollectible)
		target = maxCollectible
	}
	if err := s.raft.WriteSnapshot(ctx, target); err != nil {
		return err
	}
	s.lastSnapshotMonitor.notify(target)
	return nil
}

// Snapshot serializes the STM's local persisted state (the
// delete-records eviction offset) for the caller to durably store,
// equivalent to take_snapshot's effective_start_offset round-trip.
func (s *STM) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[7-i] = byte(s.deleteRecordsEvictionOffset >> (8 * i))
	}
	return out
}

// RestoreSnapshot installs a previously-serialized snapshot, equivalent
// to apply_snapshot.
func (s *STM) RestoreSnapshot(data []byte) error {
	if len(data) < 8 {
		return errors.New("eviction: snapshot too short")
	}
	var v int64
	for i := 0; i < 8; i++ {
		v = (v << 8) | int64(data[i])
	}
	s.mu.Lock()
	s.deleteRecordsEvictionOffset = ntp.Offset(v)
	s.mu.Unlock()
	return nil
}
