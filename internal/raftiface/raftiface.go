// Package raftiface defines the narrow slice of the replicated consensus
// layer that internal/eviction consumes, per spec.md §6 "External
// interfaces". Raft itself is out of scope (spec.md §1 Non-goals); this
// package exists so internal/eviction can be built and tested against a
// small interface instead of the real consensus module.
package raftiface

import (
	"context"

	"github.com/cloudlog-io/archiver/internal/ntp"
)

// Snapshot is a point the consensus layer has already durably recorded;
// data below it may be truncated from local storage.
type Snapshot struct {
	LastIncludedIndex ntp.Offset
}

// Raft is the subset of a partition's consensus handle that the
// log-eviction STM drives and is driven by.
type Raft interface {
	// Term returns the current raft term.
	Term() ntp.Term

	// LastSnapshotIndex returns the offset of the most recently written
	// raft snapshot.
	LastSnapshotIndex() ntp.Offset

	// MonitorLogEviction blocks until the storage layer signals a local
	// eviction candidate, returning the offset it proposes evicting up to.
	MonitorLogEviction(ctx context.Context) (ntp.Offset, error)

	// MaxCollectibleOffset returns the highest offset every composed STM
	// has released (i.e. it is safe to evict up to, inclusive).
	MaxCollectibleOffset() ntp.Offset

	// IndexLowerBound resolves evictUntil to the nearest log index at or
	// below it that a raft snapshot can legally be written at.
	IndexLowerBound(evictUntil ntp.Offset) (ntp.Offset, bool)

	// WaitVisible blocks until index is both visible and committed.
	WaitVisible(ctx context.Context, index ntp.Offset) error

	// RefreshCommitIndex asks the leader to advance the local commit
	// index before a snapshot write.
	RefreshCommitIndex(ctx context.Context) error

	// WriteSnapshot durably records a raft snapshot at index.
	WriteSnapshot(ctx context.Context, index ntp.Offset) error

	// OpenSnapshot returns the most recent raft snapshot, used for gap
	// recovery when a local log has been evicted ahead of this STM's
	// last-applied offset.
	OpenSnapshot(ctx context.Context) (Snapshot, bool, error)

	// Replicate appends batch at quorum under term, returning the last
	// offset it was assigned once the command is durably replicated (not
	// yet necessarily applied).
	Replicate(ctx context.Context, term ntp.Term, batch []byte) (ntp.Offset, error)

	// WaitApplied blocks until this node's state machines have applied
	// up to and including offset.
	WaitApplied(ctx context.Context, offset ntp.Offset) error
}
