package raftiface

import (
	"context"
	"sync"

	"github.com/cloudlog-io/archiver/internal/ntp"
)

// Fake is an in-memory Raft for tests. Eviction signals are delivered by
// pushing onto evictionCh; replicated batches are recorded in Batches and
// immediately considered applied.
type Fake struct {
	mu sync.Mutex

	term               ntp.Term
	lastSnapshotIndex  ntp.Offset
	maxCollectible     ntp.Offset
	appliedOffset      ntp.Offset
	snapshot           Snapshot
	hasSnapshot        bool
	Batches            [][]byte
	evictionCh         chan ntp.Offset
	WriteSnapshotCalls []ntp.Offset
}

// NewFake returns a Fake raft handle with maxCollectible set to the
// highest possible offset, so it never constrains eviction in tests that
// don't care about it.
func NewFake() *Fake {
	return &Fake{
		lastSnapshotIndex: ntp.Unset,
		maxCollectible:    1<<62 - 1,
		evictionCh:        make(chan ntp.Offset, 16),
	}
}

func (f *Fake) Term() ntp.Term {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.term
}

// SetTerm changes the current term, simulating a leadership change.
func (f *Fake) SetTerm(t ntp.Term) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.term = t
}

func (f *Fake) LastSnapshotIndex() ntp.Offset {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSnapshotIndex
}

// SignalEviction delivers a storage-eviction notification to whatever is
// blocked in MonitorLogEviction.
func (f *Fake) SignalEviction(offset ntp.Offset) {
	f.evictionCh <- offset
}

func (f *Fake) MonitorLogEviction(ctx context.Context) (ntp.Offset, error) {
	select {
	case o := <-f.evictionCh:
		return o, nil
	case <-ctx.Done():
		return ntp.Unset, ctx.Err()
	}
}

func (f *Fake) MaxCollectibleOffset() ntp.Offset {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxCollectible
}

// SetMaxCollectibleOffset bounds how far eviction may proceed.
func (f *Fake) SetMaxCollectibleOffset(o ntp.Offset) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxCollectible = o
}

func (f *Fake) IndexLowerBound(evictUntil ntp.Offset) (ntp.Offset, bool) {
	if evictUntil <= 0 {
		return ntp.Unset, false
	}
	return evictUntil, true
}

func (f *Fake) WaitVisible(ctx context.Context, index ntp.Offset) error {
	return nil
}

func (f *Fake) RefreshCommitIndex(ctx context.Context) error {
	return nil
}

func (f *Fake) WriteSnapshot(ctx context.Context, index ntp.Offset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSnapshotIndex = index
	f.WriteSnapshotCalls = append(f.WriteSnapshotCalls, index)
	return nil
}

func (f *Fake) OpenSnapshot(ctx context.Context) (Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, f.hasSnapshot, nil
}

// SetSnapshot installs the raft snapshot returned by OpenSnapshot, for
// exercising handle_eviction-style gap recovery, and advances
// LastSnapshotIndex to its LastIncludedIndex.
func (f *Fake) SetSnapshot(s Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = s
	f.hasSnapshot = true
	if s.LastIncludedIndex > f.lastSnapshotIndex {
		f.lastSnapshotIndex = s.LastIncludedIndex
	}
}

func (f *Fake) Replicate(ctx context.Context, term ntp.Term, batch []byte) (ntp.Offset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Batches = append(f.Batches, batch)
	f.appliedOffset++
	return f.appliedOffset, nil
}

func (f *Fake) WaitApplied(ctx context.Context, offset ntp.Offset) error {
	return nil
}
