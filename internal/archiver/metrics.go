package archiver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricUploadCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiver",
		Name:      "upload_cycles_total",
		Help:      "Total number of upload scheduling cycles, by outcome.",
	}, []string{"ntp", "outcome"})

	metricHousekeepingCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiver",
		Name:      "housekeeping_cycles_total",
		Help:      "Total number of housekeeping steps (adjacent-segment merger and spillover), by outcome.",
	}, []string{"ntp", "outcome"})

	metricRetentionCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiver",
		Name:      "retention_cycles_total",
		Help:      "Total number of retention evaluation cycles, by outcome.",
	}, []string{"ntp", "outcome"})

	metricRetentionBytesReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiver",
		Name:      "retention_bytes_reclaimed_total",
		Help:      "Total bytes reclaimed by retention's archive-start advancement.",
	}, []string{"ntp"})

	metricSegmentsUploaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiver",
		Name:      "segments_uploaded_total",
		Help:      "Total number of segments successfully uploaded.",
	}, []string{"ntp"})
)
