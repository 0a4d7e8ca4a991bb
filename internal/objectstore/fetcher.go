package objectstore

import (
	"context"
	"fmt"

	"github.com/cloudlog-io/archiver/internal/manifest"
	"github.com/cloudlog-io/archiver/internal/ntp"
	"github.com/cloudlog-io/archiver/internal/remotepath"
)

// SpilloverFetcher implements manifestview.ShardFetcher by resolving a
// shard's start offset against the manifest's spillover map to rebuild
// the key remotepath originally assigned it, then downloading it from an
// ObjectStore.
type SpilloverFetcher struct {
	store    ObjectStore
	keys     *remotepath.Provider
	partID   ntp.NTP
	revision ntp.RevisionID
	manifest *manifest.Manifest
}

// NewSpilloverFetcher returns a ShardFetcher for partID's spillover shards.
func NewSpilloverFetcher(store ObjectStore, keys *remotepath.Provider, partID ntp.NTP, revision ntp.RevisionID, m *manifest.Manifest) *SpilloverFetcher {
	return &SpilloverFetcher{store: store, keys: keys, partID: partID, revision: revision, manifest: m}
}

// FetchShard implements manifestview.ShardFetcher.
func (f *SpilloverFetcher) FetchShard(ctx context.Context, shardStart ntp.Offset) ([]byte, int64, error) {
	for _, e := range f.manifest.SpilloverEntries() {
		if e.BaseOffset != shardStart {
			continue
		}
		key := f.keys.SpilloverManifestPath(f.partID, f.revision, remotepath.SpilloverKeyComponents{
			Base:      e.BaseOffset,
			Last:      e.LastOffset,
			BaseKafka: e.BaseKafka,
			NextKafka: e.NextKafka,
			BaseTS:    e.BaseTS,
			LastTS:    e.LastTS,
		})
		blob, err := f.store.Get(ctx, key)
		if err != nil {
			return nil, 0, err
		}
		return blob, e.SizeBytes, nil
	}
	return nil, 0, fmt.Errorf("objectstore: no spillover entry starting at offset %d", shardStart)
}
