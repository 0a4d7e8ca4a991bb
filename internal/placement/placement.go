// Package placement tracks which local shard (goroutine-owner/core) hosts
// each partition replica on this node, and what the cluster wants hosted
// here, driving the create/transfer/delete reconciliation state machine
// spec.md §2 row I describes. Adapted from
// original_source/src/v/cluster/shard_placement_table.h's node-local
// target/current state table, translated from Seastar's per-shard sharded
// service into a single mutex-guarded map — this engine has no cooperative
// scheduler to shard across, only goroutines.
package placement

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/cloudlog-io/archiver/internal/ntp"
)

// ShardID identifies one goroutine-owner slot (the Go analog of a Seastar
// core) on this node.
type ShardID int

// HostedStatus is the shard-local lifecycle state of one replica.
type HostedStatus int

const (
	// Receiving means a cross-shard transfer is in progress and this
	// shard is the destination.
	Receiving HostedStatus = iota
	// Hosted means the replica is live and can be started normally.
	Hosted
	// Obsolete means this shard's copy has been handed off elsewhere and
	// must be deleted.
	Obsolete
)

// ReconciliationAction is what the reconciler must do next for one ntp on
// this shard.
type ReconciliationAction int

const (
	// NoAction means current and assigned already agree; nothing to do.
	NoAction ReconciliationAction = iota
	// Create means the replica must be instantiated on this shard.
	Create
	// Transfer means the replica must be moved to Next.
	Transfer
	// Remove means the replica must be deleted from this shard.
	Remove
	// WaitForTargetUpdate means the assignment is ahead of what the
	// cluster's topic table has confirmed; nothing to do until it catches
	// up.
	WaitForTargetUpdate
)

// ErrNoSuchAssignment is returned when a lifecycle call names an ntp this
// table has no record of.
var ErrNoSuchAssignment = errors.New("placement: no assignment for ntp")

// ErrRevisionMismatch is returned when a lifecycle call's expected log
// revision no longer matches the table's current record, meaning the
// caller is acting on stale state.
var ErrRevisionMismatch = errors.New("placement: expected log revision mismatch")

// Assignment is what the cluster wants hosted on this shard for one ntp.
type Assignment struct {
	ReplicaID     uuid.UUID
	LogRevision   ntp.RevisionID
	ShardRevision ntp.RevisionID
}

// LocalState is the shard-local record of what is actually present.
type LocalState struct {
	ReplicaID     uuid.UUID
	LogRevision   ntp.RevisionID
	Status        HostedStatus
	ShardRevision ntp.RevisionID
}

// State holds both the current and target state for one ntp on this
// shard, mirroring shard_placement_table::placement_state.
type State struct {
	Current  *LocalState
	Assigned *Assignment

	// next holds the destination shard once a transfer has begun; it is
	// fixed for the duration of the transfer even if Assigned changes.
	next *ShardID
}

// Action computes what must happen next for st given expectedLogRevision
// (the log revision the cluster's topic table currently confirms for this
// ntp), per shard_placement_table.h's reconciliation_action doc comments.
// The original's get_reconciliation_action body was not present in the
// retrieved source, so this branching is original, not a direct port.
func (st State) Action(expectedLogRevision ntp.RevisionID) ReconciliationAction {
	switch {
	case st.Current == nil && st.Assigned == nil:
		return NoAction
	case st.Current == nil:
		if st.Assigned.LogRevision != expectedLogRevision {
			return WaitForTargetUpdate
		}
		return Create
	case st.Current.Status == Obsolete:
		return Remove
	case st.Assigned == nil:
		return Remove
	case st.Current.LogRevision != st.Assigned.LogRevision:
		return Remove
	case st.next != nil:
		return Transfer
	default:
		return NoAction
	}
}

// Table is the node-local ntp -> placement state map. All methods are
// safe for concurrent use.
type Table struct {
	mu               sync.Mutex
	states           map[ntp.NTP]*State
	curShardRevision ntp.RevisionID
}

// New returns an empty Table.
func New() *Table {
	return &Table{states: make(map[ntp.NTP]*State)}
}

// SetTarget records what the cluster wants hosted on this shard for part,
// returning true if this call changed anything. Passing a nil assignment
// clears the target, mirroring set_target(ntp, std::nullopt, ...).
func (t *Table) SetTarget(part ntp.NTP, assignment *Assignment) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[part]
	if !ok {
		if assignment == nil {
			return false
		}
		t.states[part] = &State{Assigned: assignment}
		return true
	}

	changed := !assignmentsEqual(st.Assigned, assignment)
	st.Assigned = assignment
	t.gcLocked(part, st)
	return changed
}

// GetTarget returns the current target assignment for part, if any.
func (t *Table) GetTarget(part ntp.NTP) (Assignment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[part]
	if !ok || st.Assigned == nil {
		return Assignment{}, false
	}
	return *st.Assigned, true
}

// StateOnThisShard returns a snapshot of part's placement state.
func (t *Table) StateOnThisShard(part ntp.NTP) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[part]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// PrepareCreate records that a replica for part is about to be created at
// expectedLogRevision, assigning it the next shard revision.
func (t *Table) PrepareCreate(part ntp.NTP, expectedLogRevision ntp.RevisionID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[part]
	if !ok || st.Assigned == nil {
		return ErrNoSuchAssignment
	}
	if st.Assigned.LogRevision != expectedLogRevision {
		return ErrRevisionMismatch
	}

	t.curShardRevision++
	st.Current = &LocalState{
		ReplicaID:    st.Assigned.ReplicaID,
		LogRevision:  expectedLogRevision,
		Status:       Hosted,
		ShardRevision: t.curShardRevision,
	}
	return nil
}

// PrepareTransfer marks a cross-shard transfer of part as starting toward
// dest, returning ErrRevisionMismatch if the ntp's current log revision no
// longer matches expectedLogRevision.
func (t *Table) PrepareTransfer(part ntp.NTP, expectedLogRevision ntp.RevisionID, dest ShardID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[part]
	if !ok || st.Current == nil {
		return ErrNoSuchAssignment
	}
	if st.Current.LogRevision != expectedLogRevision {
		return ErrRevisionMismatch
	}
	st.next = &dest
	return nil
}

// FinishTransferOnDestination marks the transferred replica as fully
// hosted on this (destination) shard.
func (t *Table) FinishTransferOnDestination(part ntp.NTP, expectedLogRevision ntp.RevisionID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[part]
	if !ok || st.Current == nil {
		return ErrNoSuchAssignment
	}
	if st.Current.LogRevision != expectedLogRevision {
		return ErrRevisionMismatch
	}
	st.Current.Status = Hosted
	st.next = nil
	return nil
}

// FinishTransferOnSource marks this (source) shard's copy obsolete now
// that the destination has taken over.
func (t *Table) FinishTransferOnSource(part ntp.NTP, expectedLogRevision ntp.RevisionID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[part]
	if !ok || st.Current == nil {
		return ErrNoSuchAssignment
	}
	if st.Current.LogRevision != expectedLogRevision {
		return ErrRevisionMismatch
	}
	st.Current.Status = Obsolete
	return nil
}

// PrepareDelete marks part for deletion as of cmdRevision, clearing the
// target assignment.
func (t *Table) PrepareDelete(part ntp.NTP, cmdRevision ntp.RevisionID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[part]
	if !ok {
		return ErrNoSuchAssignment
	}
	st.Assigned = nil
	if st.Current != nil {
		st.Current.Status = Obsolete
	}
	_ = cmdRevision // recorded by the caller's audit log, not needed locally
	return nil
}

// FinishDelete removes part's record entirely once the shard-local data
// has actually been deleted.
func (t *Table) FinishDelete(part ntp.NTP, expectedLogRevision ntp.RevisionID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[part]
	if !ok {
		return ErrNoSuchAssignment
	}
	if st.Current != nil && st.Current.LogRevision != expectedLogRevision {
		return ErrRevisionMismatch
	}
	delete(t.states, part)
	return nil
}

// gcLocked removes part's entry once it carries no state worth keeping,
// mirroring placement_state::is_empty().
func (t *Table) gcLocked(part ntp.NTP, st *State) {
	if st.Current == nil && st.Assigned == nil && st.next == nil {
		delete(t.states, part)
	}
}

func assignmentsEqual(a, b *Assignment) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
