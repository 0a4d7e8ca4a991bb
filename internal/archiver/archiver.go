// Package archiver implements the per-NTP orchestration loop of spec.md
// §4.8: it schedules segment uploads, adjacent-segment-merger
// housekeeping, and retention application against one partition's
// manifest, re-entrant across leadership loss. Adapted from
// modules/backendscheduler/backendscheduler.go's dskit services.Service
// pattern (ticker-driven running loop, go-kit logger, promauto metrics),
// narrowed from tenant/compaction-job scheduling to one partition's
// upload/housekeeping/retention schedule.
package archiver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/jedib0t/go-pretty/v6/table"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/cloudlog-io/archiver/internal/archival"
	"github.com/cloudlog-io/archiver/internal/eviction"
	"github.com/cloudlog-io/archiver/internal/manifest"
	"github.com/cloudlog-io/archiver/internal/manifestview"
	"github.com/cloudlog-io/archiver/internal/ntp"
	"github.com/cloudlog-io/archiver/internal/storageiface"
)

var tracer = otel.Tracer("internal/archiver")

// uploadConcurrency bounds how many segment uploads run at once per
// upload cycle.
const uploadConcurrency = 8

// SegmentUploader uploads one newly-flushed local segment that the
// manifest does not yet know about, returning its full metadata on
// success. The archiver appends metas to the manifest itself, in order,
// stopping at the first gap so the manifest never skips a segment.
type SegmentUploader interface {
	UploadOne(ctx context.Context, seg storageiface.LocalSegment) (ntp.SegmentMeta, error)
}

// ManifestPersister flushes the STM manifest to the object store. Per
// spec.md §4.8, an upload cycle is a success only once both the segment
// PUT and this manifest PUT have completed.
type ManifestPersister interface {
	PutManifest(ctx context.Context, m *manifest.Manifest) error
}

// SpilloverApplier moves every manifest segment committed below
// upperBound into the manifest's spillover map and persists the shard(s)
// the move produces.
type SpilloverApplier interface {
	Spillover(ctx context.Context, upperBound ntp.Offset) error
}

// RetentionApplier physically removes archived data up to offset and
// advances the manifest's archive-start/archive-clean offsets.
type RetentionApplier interface {
	ApplyRetention(ctx context.Context, offset ntp.Offset) error
}

// Archiver owns the upload/housekeeping/retention schedule for one NTP.
type Archiver struct {
	services.Service

	cfg    Config
	partID ntp.NTP
	logger log.Logger

	// stm is mutated only from within running's single goroutine, which
	// is this partition's sole mutator per spec.md §5 "concurrent
	// mutators are serialized by a per-partition mutex" — the ticker
	// loop's single-threaded select plays that role here.
	stm *manifest.Manifest

	localLog  storageiface.LocalLog
	view      *manifestview.View
	merger    *archival.Merger
	uploader  SegmentUploader
	persister ManifestPersister
	spillover SpilloverApplier
	retention RetentionApplier
	evictSTM  *eviction.STM
}

// New returns an archiver for partID, driving stm (the live STM manifest)
// and view (the async manifest view over stm + spillover).
func New(
	cfg Config,
	partID ntp.NTP,
	stm *manifest.Manifest,
	view *manifestview.View,
	localLog storageiface.LocalLog,
	uploader SegmentUploader,
	persister ManifestPersister,
	mergeUploader archival.Uploader,
	spillover SpilloverApplier,
	retention RetentionApplier,
	evictSTM *eviction.STM,
	logger log.Logger,
) *Archiver {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	a := &Archiver{
		cfg:       cfg,
		partID:    partID,
		logger:    logger,
		stm:       stm,
		localLog:  localLog,
		view:      view,
		merger:    archival.NewMerger(localLog, cfg.MaxUploadedSegmentSize, mergeUploader),
		uploader:  uploader,
		persister: persister,
		spillover: spillover,
		retention: retention,
		evictSTM:  evictSTM,
	}
	a.Service = services.NewBasicService(a.starting, a.running, a.stopping)
	return a
}

// starting reconciles against the local log on (re-)acquiring leadership:
// the merger's cursor is reset so its next pass re-derives its starting
// point from the manifest itself rather than assuming continuity with
// whatever the previous leader had progressed to.
func (a *Archiver) starting(ctx context.Context) error {
	a.merger.Reset()
	if a.evictSTM != nil {
		a.evictSTM.Start()
	}
	level.Info(a.logger).Log("msg", "archiver starting", "ntp", a.partID.String())
	return nil
}

func (a *Archiver) stopping(_ error) error {
	if a.evictSTM != nil {
		a.evictSTM.Stop()
	}
	return nil
}

func (a *Archiver) running(ctx context.Context) error {
	level.Info(a.logger).Log("msg", "archiver running", "ntp", a.partID.String())

	uploadTicker := time.NewTicker(a.cfg.UploadInterval)
	defer uploadTicker.Stop()
	housekeepingTicker := time.NewTicker(a.cfg.HousekeepingInterval)
	defer housekeepingTicker.Stop()
	retentionTicker := time.NewTicker(a.cfg.RetentionInterval)
	defer retentionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-uploadTicker.C:
			a.doUpload(ctx)
		case <-housekeepingTicker.C:
			a.doHousekeeping(ctx)
		case <-retentionTicker.C:
			a.doRetention(ctx)
		}
	}
}

func (a *Archiver) doUpload(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "Archiver.doUpload")
	defer span.End()

	stm := a.stm

	lastOffset := stm.LastOffset()
	from := ntp.Offset(0)
	if lastOffset != ntp.Unset {
		from = lastOffset.Next()
	}

	candidates := a.localLog.SegmentsFrom(from)
	if len(candidates) == 0 {
		return
	}

	metas := make([]ntp.SegmentMeta, len(candidates))
	uploadErrs := make([]error, len(candidates))

	g := new(errgroup.Group)
	g.SetLimit(uploadConcurrency)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			meta, err := a.uploader.UploadOne(ctx, c)
			if err != nil {
				uploadErrs[i] = err
				return nil
			}
			metas[i] = meta
			return nil
		})
	}
	_ = g.Wait() // individual failures are recorded in uploadErrs, not propagated

	var uploaded int
	for i, err := range uploadErrs {
		if err != nil {
			level.Error(a.logger).Log("msg", "segment upload failed", "ntp", a.partID.String(), "base_offset", candidates[i].BaseOffset, "err", err)
			break // preserve append-only contiguity: stop at the first gap
		}
		if addErr := stm.Add(metas[i]); addErr != nil {
			level.Error(a.logger).Log("msg", "uploaded segment rejected by manifest", "ntp", a.partID.String(), "base_offset", candidates[i].BaseOffset, "err", addErr)
			break
		}
		uploaded++
	}

	if uploaded == 0 {
		metricUploadCycles.WithLabelValues(a.partID.String(), "failed").Inc()
		return
	}

	// An upload is a success only once the manifest PUT has also landed
	// (spec.md §4.8); a failure here leaves the segments durable in the
	// object store but unreferenced until the next cycle retries the PUT.
	if a.persister != nil {
		if err := a.persister.PutManifest(ctx, stm); err != nil {
			level.Error(a.logger).Log("msg", "manifest flush failed", "ntp", a.partID.String(), "err", err)
			metricUploadCycles.WithLabelValues(a.partID.String(), "failed").Inc()
			return
		}
	}

	metricUploadCycles.WithLabelValues(a.partID.String(), "success").Inc()
	metricSegmentsUploaded.WithLabelValues(a.partID.String()).Add(float64(uploaded))
	if a.view != nil {
		a.view.RefreshIndex()
	}
}

func (a *Archiver) doHousekeeping(ctx context.Context) {
	stm := a.stm

	if a.cfg.EnableSegmentMerging {
		r, err := a.merger.Run(ctx, stm)
		if err != nil {
			level.Error(a.logger).Log("msg", "housekeeping cycle failed", "ntp", a.partID.String(), "err", err)
			metricHousekeepingCycles.WithLabelValues(a.partID.String(), "failed").Inc()
			return
		}
		metricHousekeepingCycles.WithLabelValues(a.partID.String(), "success").Inc()
		if r.CanReplace {
			level.Info(a.logger).Log("msg", "merged adjacent segments", "ntp", a.partID.String(), "begin", r.BeginInclusive, "end", r.EndInclusive, "segments", r.SegmentCount)
			if a.view != nil {
				a.view.RefreshIndex()
			}
		}
	}

	a.maybeSpillover(ctx)
}

// maybeSpillover runs spillover once the STM manifest's retained tail
// exceeds either config threshold (spec.md §6
// cloud_storage_spillover_manifest_{max_segments,size}), moving every
// segment below the newest one's base offset into the spillover map so
// the tail itself stays bounded.
func (a *Archiver) maybeSpillover(ctx context.Context) {
	if a.spillover == nil {
		return
	}

	stm := a.stm
	segments := stm.Segments()
	if len(segments) < 2 {
		return
	}

	var totalSize int64
	for _, s := range segments {
		totalSize += s.SizeBytes
	}

	exceedsCount := a.cfg.SpilloverMaxSegments > 0 && len(segments) > a.cfg.SpilloverMaxSegments
	exceedsSize := a.cfg.SpilloverMaxSize > 0 && totalSize > a.cfg.SpilloverMaxSize
	if !exceedsCount && !exceedsSize {
		return
	}

	// Keep the newest segment resident; spill everything strictly below
	// it so the tail never shrinks to zero segments.
	upperBound := segments[len(segments)-1].BaseOffset

	if err := a.spillover.Spillover(ctx, upperBound); err != nil {
		level.Error(a.logger).Log("msg", "spillover failed", "ntp", a.partID.String(), "err", err)
		metricHousekeepingCycles.WithLabelValues(a.partID.String(), "failed").Inc()
		return
	}
	metricHousekeepingCycles.WithLabelValues(a.partID.String(), "success").Inc()
	if a.view != nil {
		a.view.RefreshIndex()
	}
	level.Info(a.logger).Log("msg", "spilled over manifest tail", "ntp", a.partID.String(), "upper_bound", upperBound)
}

func (a *Archiver) doRetention(ctx context.Context) {
	if a.view == nil || a.retention == nil {
		return
	}

	result := a.view.ComputeRetention(a.cfg.RetentionMaxBytes, a.cfg.RetentionMaxAge, time.Now())
	if result.Delta == 0 {
		return
	}

	if err := a.retention.ApplyRetention(ctx, result.Offset); err != nil {
		level.Error(a.logger).Log("msg", "retention cycle failed", "ntp", a.partID.String(), "err", err)
		metricRetentionCycles.WithLabelValues(a.partID.String(), "failed").Inc()
		return
	}
	metricRetentionCycles.WithLabelValues(a.partID.String(), "success").Inc()
	metricRetentionBytesReclaimed.WithLabelValues(a.partID.String()).Add(float64(result.Delta))
	a.view.RefreshIndex()
	level.Info(a.logger).Log("msg", "retention applied", "ntp", a.partID.String(), "offset", result.Offset, "bytes_reclaimed", humanize.Bytes(uint64(result.Delta)))
}

// String satisfies fmt.Stringer for use in error messages and logs that
// identify this archiver's partition.
func (a *Archiver) String() string {
	return fmt.Sprintf("archiver[%s]", a.partID.String())
}

// StatusHandler renders this archiver's manifest state as an HTML table,
// in the same jedib0t/go-pretty idiom as
// modules/backendscheduler/backendscheduler.go's StatusHandler.
func (a *Archiver) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	stm := a.stm

	var retainedBytes int64
	for _, s := range stm.Segments() {
		retainedBytes += s.SizeBytes
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"ntp", "start_offset", "last_offset", "archive_start", "archive_clean", "spillover_shards", "retained_bytes"})
	t.AppendRow(table.Row{
		a.partID.String(),
		stm.StartOffset(),
		stm.LastOffset(),
		stm.ArchiveStartOffset(),
		stm.ArchiveCleanOffset(),
		len(stm.SpilloverEntries()),
		humanize.Bytes(uint64(retainedBytes)),
	})
	t.SetOutputMirror(w)
	t.RenderHTML()
}
