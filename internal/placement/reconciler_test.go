package placement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cloudlog-io/archiver/internal/ntp"
)

type fakeHost struct {
	mu      sync.Mutex
	created []ntp.NTP
	deleted []ntp.NTP
}

func (h *fakeHost) CreateReplica(_ context.Context, part ntp.NTP, _ Assignment) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, part)
	return nil
}

func (h *fakeHost) DeleteReplica(_ context.Context, part ntp.NTP) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, part)
	return nil
}

func (h *fakeHost) BeginTransferOut(_ context.Context, _ ntp.NTP, _ ShardID) error { return nil }
func (h *fakeHost) FinishTransferIn(_ context.Context, _ ntp.NTP, _ Assignment) error {
	return nil
}

func TestReconcileOnceCreatesAssignedReplica(t *testing.T) {
	tb := New()
	part := testNTP()
	tb.SetTarget(part, &Assignment{ReplicaID: uuid.New(), LogRevision: 1})

	host := &fakeHost{}
	r := NewReconciler(Config{ReconcileInterval: time.Hour}, tb, host, func(ntp.NTP) ntp.RevisionID { return 1 }, nil)

	r.reconcileOnce(context.Background())

	require.Equal(t, []ntp.NTP{part}, host.created)
	st, _ := tb.StateOnThisShard(part)
	require.NotNil(t, st.Current)
}

func TestReconcileOnceRemovesObsoleteReplica(t *testing.T) {
	tb := New()
	part := testNTP()
	tb.SetTarget(part, &Assignment{ReplicaID: uuid.New(), LogRevision: 1})
	require.NoError(t, tb.PrepareCreate(part, 1))
	require.NoError(t, tb.PrepareDelete(part, 9))

	host := &fakeHost{}
	r := NewReconciler(Config{ReconcileInterval: time.Hour}, tb, host, func(ntp.NTP) ntp.RevisionID { return 1 }, nil)

	r.reconcileOnce(context.Background())

	require.Equal(t, []ntp.NTP{part}, host.deleted)
	_, ok := tb.StateOnThisShard(part)
	require.False(t, ok)
}
