package placement

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"go.opentelemetry.io/otel"

	"github.com/cloudlog-io/archiver/internal/ntp"
)

var tracer = otel.Tracer("internal/placement")

// Host is what the reconciler calls to actually instantiate, tear down,
// or hand off a replica; it is the Go analog of controller_backend, the
// consumer shard_placement_table.h names as the table's sole mutator
// besides shard_balancer.
type Host interface {
	CreateReplica(ctx context.Context, part ntp.NTP, a Assignment) error
	DeleteReplica(ctx context.Context, part ntp.NTP) error
	BeginTransferOut(ctx context.Context, part ntp.NTP, dest ShardID) error
	FinishTransferIn(ctx context.Context, part ntp.NTP, a Assignment) error
}

// Reconciler drives Table's create/transfer/delete reconciliation against
// a Host on a fixed interval, matching the ticker-driven
// services.Service shape of internal/archiver.Archiver and
// modules/backendscheduler/backendscheduler.go.
type Reconciler struct {
	services.Service

	cfg    Config
	logger log.Logger

	table *Table
	host  Host

	// expectedLogRevisions is consulted for each tracked ntp to resolve
	// State.Action; in the original this comes from the cluster's topic
	// table, out of scope here, so the reconciler's owner supplies it.
	expectedLogRevisions func(ntp.NTP) ntp.RevisionID
}

// NewReconciler returns a Reconciler over table, calling host to actually
// create, delete, and transfer replicas, and expectedLogRevisions to
// resolve each tracked ntp's confirmed log revision.
func NewReconciler(cfg Config, table *Table, host Host, expectedLogRevisions func(ntp.NTP) ntp.RevisionID, logger log.Logger) *Reconciler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	r := &Reconciler{
		cfg:                  cfg,
		logger:               logger,
		table:                table,
		host:                 host,
		expectedLogRevisions: expectedLogRevisions,
	}
	r.Service = services.NewBasicService(nil, r.running, nil)
	return r
}

func (r *Reconciler) running(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

// reconcileOnce walks every tracked ntp once and drives its reconciliation
// action to completion, logging failures without aborting the remaining
// ntps.
func (r *Reconciler) reconcileOnce(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "Reconciler.reconcileOnce")
	defer span.End()

	r.table.mu.Lock()
	tracked := make([]ntp.NTP, 0, len(r.table.states))
	for part := range r.table.states {
		tracked = append(tracked, part)
	}
	r.table.mu.Unlock()

	for _, part := range tracked {
		if err := r.reconcileOne(ctx, part); err != nil {
			level.Error(r.logger).Log("msg", "reconciliation step failed", "ntp", part.String(), "err", err)
			metricReconcileActions.WithLabelValues("failed").Inc()
			continue
		}
	}
}

func (r *Reconciler) reconcileOne(ctx context.Context, part ntp.NTP) error {
	st, ok := r.table.StateOnThisShard(part)
	if !ok {
		return nil
	}

	expected := r.expectedLogRevisions(part)
	action := st.Action(expected)

	switch action {
	case NoAction, WaitForTargetUpdate:
		return nil
	case Create:
		if err := r.host.CreateReplica(ctx, part, *st.Assigned); err != nil {
			return err
		}
		metricReconcileActions.WithLabelValues("create").Inc()
		return r.table.PrepareCreate(part, expected)
	case Remove:
		if err := r.host.DeleteReplica(ctx, part); err != nil {
			return err
		}
		metricReconcileActions.WithLabelValues("remove").Inc()
		return r.table.FinishDelete(part, st.Current.LogRevision)
	case Transfer:
		dest := *st.next
		if err := r.host.BeginTransferOut(ctx, part, dest); err != nil {
			return err
		}
		if err := r.table.PrepareTransfer(part, st.Current.LogRevision, dest); err != nil {
			return err
		}
		if err := r.host.FinishTransferIn(ctx, part, *st.Assigned); err != nil {
			return err
		}
		metricReconcileActions.WithLabelValues("transfer").Inc()
		if err := r.table.FinishTransferOnDestination(part, expected); err != nil {
			return err
		}
		return r.table.FinishTransferOnSource(part, st.Current.LogRevision)
	default:
		return nil
	}
}
