package placement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricReconcileActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "archiver",
	Name:      "placement_reconcile_actions_total",
	Help:      "Total number of placement reconciliation actions taken, by kind.",
}, []string{"action"})
