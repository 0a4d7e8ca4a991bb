package objectstore

import (
	"context"
	"io"

	"github.com/cloudlog-io/archiver/internal/archival"
	"github.com/cloudlog-io/archiver/internal/manifest"
	"github.com/cloudlog-io/archiver/internal/ntp"
	"github.com/cloudlog-io/archiver/internal/remotepath"
	"github.com/cloudlog-io/archiver/internal/storageiface"
)

// SegmentWriter uploads local segments and their re-uploaded merges to an
// ObjectStore under remotepath-derived keys. It implements
// internal/archiver.SegmentUploader (UploadOne),
// internal/archival.Uploader (Replace),
// internal/archiver.ManifestPersister (PutManifest) and
// internal/archiver.SpilloverApplier (Spillover).
type SegmentWriter struct {
	store    ObjectStore
	keys     *remotepath.Provider
	partID   ntp.NTP
	revision ntp.RevisionID
	term     ntp.Term
	log      storageiface.LocalLog
	stm      *manifest.Manifest
}

// NewSegmentWriter returns a SegmentWriter for one partition's leadership
// term. stm is mutated only from Replace and Spillover, called from the same archiver
// goroutine that owns it (spec.md §5's per-partition serialization).
func NewSegmentWriter(store ObjectStore, keys *remotepath.Provider, partID ntp.NTP, revision ntp.RevisionID, term ntp.Term, log storageiface.LocalLog, stm *manifest.Manifest) *SegmentWriter {
	return &SegmentWriter{store: store, keys: keys, partID: partID, revision: revision, term: term, log: log, stm: stm}
}

// UploadOne implements internal/archiver.SegmentUploader: it uploads seg's
// raw bytes under its remotepath key and returns the metadata the archiver
// will append to the manifest.
//
// The local disk log's real segment index (kafka offsets, timestamps) is
// out of scope (spec.md §1 Non-goals), so BaseKafkaOffset/NextKafkaOffset
// and the two timestamps are left unset here; a production wiring
// replaces this with a LocalLog that reports the real values alongside
// BaseOffset/CommittedOffset/SizeBytes.
func (w *SegmentWriter) UploadOne(ctx context.Context, seg storageiface.LocalSegment) (ntp.SegmentMeta, error) {
	meta := ntp.SegmentMeta{
		BaseOffset:      seg.BaseOffset,
		CommittedOffset: seg.CommittedOffset,
		BaseKafkaOffset: ntp.UnsetKafka,
		NextKafkaOffset: ntp.UnsetKafka,
		ArchiverTerm:    w.term,
		SizeBytes:       seg.SizeBytes,
		SNameFormat:     ntp.SNameFormatV3,
	}

	r, err := w.log.Open(seg)
	if err != nil {
		return ntp.SegmentMeta{}, err
	}
	defer r.Close()

	key := w.keys.SegmentPath(w.partID, w.revision, meta)
	if err := w.store.PutStream(ctx, key, r, seg.SizeBytes); err != nil {
		return ntp.SegmentMeta{}, err
	}
	return meta, nil
}

// Replace implements internal/archival.Uploader: it concatenates the
// local segments spanning r's aligned range into one re-upload and
// replaces them in the manifest with a single merged segment entry. The
// superseded per-segment objects are left in the object store; they are
// no longer referenced by the manifest once ReplaceRange returns, and are
// reclaimed the same way any other unreferenced object would be.
func (w *SegmentWriter) Replace(ctx context.Context, r archival.Result) error {
	candidates := w.log.SegmentsFrom(r.BeginInclusive)

	var readers []io.Reader
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	var totalSize int64
	for _, c := range candidates {
		if c.BaseOffset > r.EndInclusive {
			break
		}
		rc, err := w.log.Open(c)
		if err != nil {
			return err
		}
		closers = append(closers, rc)
		readers = append(readers, rc)
		totalSize += c.SizeBytes
	}

	merged := ntp.SegmentMeta{
		BaseOffset:      r.BeginInclusive,
		CommittedOffset: r.EndInclusive,
		BaseKafkaOffset: ntp.UnsetKafka,
		NextKafkaOffset: ntp.UnsetKafka,
		ArchiverTerm:    w.term,
		SizeBytes:       totalSize,
		SNameFormat:     ntp.SNameFormatV3,
	}

	key := w.keys.AdjustedSegmentPath(w.partID, w.revision, r.BeginInclusive, w.term, ntp.SNameFormatV3)
	if err := w.store.PutStream(ctx, key, io.MultiReader(readers...), totalSize); err != nil {
		return err
	}

	return w.stm.ReplaceRange(r.BeginInclusive, r.EndInclusive, merged)
}

// PutManifest implements internal/archiver.ManifestPersister: it
// serializes m and uploads it to its partition-manifest key, byte-stable
// across calls with identical contents (spec.md §6 "Object store").
func (w *SegmentWriter) PutManifest(ctx context.Context, m *manifest.Manifest) error {
	blob, err := m.Serialize()
	if err != nil {
		return err
	}
	return w.store.Put(ctx, w.keys.PartitionManifestPath(w.partID, w.revision), blob)
}

// Spillover implements internal/archiver.SpilloverApplier: it moves every
// manifest segment committed below upperBound into the manifest's
// spillover map via Manifest.Spillover, then persists each newly spilled
// segment as its own immutable shard object so a later ShardFetcher can
// rehydrate it (see SpilloverFetcher).
func (w *SegmentWriter) Spillover(ctx context.Context, upperBound ntp.Offset) error {
	spilled, err := w.stm.Spillover(upperBound)
	if err != nil || len(spilled) == 0 {
		return err
	}

	entries := w.stm.SpilloverEntries()
	newEntries := entries[len(entries)-len(spilled):]

	for i, s := range spilled {
		shard := manifest.New()
		if err := shard.Add(s); err != nil {
			return err
		}
		blob, err := shard.Serialize()
		if err != nil {
			return err
		}

		e := newEntries[i]
		key := w.keys.SpilloverManifestPath(w.partID, w.revision, remotepath.SpilloverKeyComponents{
			Base:      e.BaseOffset,
			Last:      e.LastOffset,
			BaseKafka: e.BaseKafka,
			NextKafka: e.NextKafka,
			BaseTS:    e.BaseTS,
			LastTS:    e.LastTS,
		})
		if err := w.store.Put(ctx, key, blob); err != nil {
			return err
		}
	}
	return nil
}
