package objectstore

import (
	"context"

	"github.com/cloudlog-io/archiver/internal/manifest"
	"github.com/cloudlog-io/archiver/internal/ntp"
	"github.com/cloudlog-io/archiver/internal/remotepath"
)

// Retainer implements internal/archiver.RetentionApplier: it physically
// deletes the spillover shards that fall entirely below the new
// archive-start offset, then advances archive_start_offset and
// archive_clean_offset in lockstep once the deletes succeed.
type Retainer struct {
	store    ObjectStore
	keys     *remotepath.Provider
	partID   ntp.NTP
	revision ntp.RevisionID
	stm      *manifest.Manifest
}

// NewRetainer returns a RetentionApplier for one partition's manifest.
func NewRetainer(store ObjectStore, keys *remotepath.Provider, partID ntp.NTP, revision ntp.RevisionID, stm *manifest.Manifest) *Retainer {
	return &Retainer{store: store, keys: keys, partID: partID, revision: revision, stm: stm}
}

// ApplyRetention implements internal/archiver.RetentionApplier.
func (r *Retainer) ApplyRetention(ctx context.Context, offset ntp.Offset) error {
	for _, e := range r.stm.SpilloverEntries() {
		if e.LastOffset >= offset {
			continue
		}
		key := r.keys.SpilloverManifestPath(r.partID, r.revision, remotepath.SpilloverKeyComponents{
			Base:      e.BaseOffset,
			Last:      e.LastOffset,
			BaseKafka: e.BaseKafka,
			NextKafka: e.NextKafka,
			BaseTS:    e.BaseTS,
			LastTS:    e.LastTS,
		})
		if err := r.store.Delete(ctx, key); err != nil {
			return err
		}
	}

	r.stm.SetArchiveStartOffset(offset)
	r.stm.SetArchiveCleanOffset(offset)
	return nil
}
