// Package manifestview implements the async manifest view of spec.md
// §4.5: it presents the STM manifest's retained tail and the spillover
// archive as one virtually-contiguous, cursor-iterable segment sequence,
// hydrating spillover shards on demand through the materialized-manifest
// cache.
package manifestview

import (
	"context"
	"sync"
	"time"

	"github.com/cloudlog-io/archiver/internal/archivererrors"
	"github.com/cloudlog-io/archiver/internal/manifest"
	"github.com/cloudlog-io/archiver/internal/manifestcache"
	"github.com/cloudlog-io/archiver/internal/ntp"
)

// ShardFetcher downloads a spillover shard's serialized manifest body,
// implemented by internal/objectstore against the remote-path provider's
// spillover key.
type ShardFetcher interface {
	FetchShard(ctx context.Context, shardStart ntp.Offset) (blob []byte, sizeBytes int64, err error)
}

// Config tunes the view's cache-hydration behavior.
type Config struct {
	CursorTTL time.Duration
}

// View composes the always-resident STM manifest tail with the
// lazily-hydrated spillover archive.
type View struct {
	mu      sync.Mutex
	stm     *manifest.Manifest
	index   []manifest.SpilloverEntry // ascending by BaseOffset
	cache   *manifestcache.Cache
	fetcher ShardFetcher
	cfg     Config
}

// New returns a view over stm (the live STM manifest) backed by cache for
// hydrated spillover shards.
func New(stm *manifest.Manifest, cache *manifestcache.Cache, fetcher ShardFetcher, cfg Config) *View {
	if cfg.CursorTTL <= 0 {
		cfg.CursorTTL = 5 * time.Minute
	}
	return &View{stm: stm, cache: cache, fetcher: fetcher, cfg: cfg}
}

// RefreshIndex replaces the view's cached copy of the STM manifest's
// spillover map, to be called whenever the leader flushes a new STM
// manifest.
func (v *View) RefreshIndex() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.index = v.stm.SpilloverEntries()
}

// Cursor iterates the segment sequence one manifest shard at a time.
type Cursor struct {
	view        *View
	handle      *manifestcache.Handle // nil when positioned on the STM manifest tail itself
	shardStart  ntp.Offset
	onSTM       bool
	lastTouch   time.Time
	evicted     bool
	shardStartI int // index into view.index when !onSTM, for Next()
}

// Manifest returns the shard currently materialized under the cursor, or
// nil if the cursor has expired.
func (c *Cursor) Manifest() *manifest.Manifest {
	if c.Evicted() {
		return nil
	}
	c.touch()
	if c.onSTM {
		return c.view.stm
	}
	return c.handle.Manifest()
}

// Evicted reports whether the cursor's TTL has elapsed since its last
// interaction; an evicted cursor must be recreated via GetActive or
// GetRetentionBacklog.
func (c *Cursor) Evicted() bool {
	if c.evicted {
		return true
	}
	if time.Since(c.lastTouch) > c.view.cfg.CursorTTL {
		c.evicted = true
		c.release()
		return true
	}
	return false
}

func (c *Cursor) touch() { c.lastTouch = time.Now() }

func (c *Cursor) release() {
	if c.handle != nil {
		c.handle.Release()
		c.handle = nil
	}
}

// Close releases the cursor's pin on its current shard.
func (c *Cursor) Close() {
	c.release()
	c.evicted = true
}

// Next advances the cursor to the next manifest shard (not segment). It
// returns false once the sequence is exhausted.
func (c *Cursor) Next(ctx context.Context) (bool, error) {
	if c.Evicted() {
		return false, archivererrors.ErrManifestNotFound
	}
	c.release()

	v := c.view
	v.mu.Lock()
	idx := v.index
	v.mu.Unlock()

	if c.onSTM {
		return false, nil // the STM tail is the newest shard; nothing follows it
	}
	nextIdx := c.shardStartI + 1
	if nextIdx >= len(idx) {
		// Advance onto the STM manifest tail.
		c.onSTM = true
		c.touch()
		return true, nil
	}
	entry := idx[nextIdx]
	cur, err := v.hydrate(ctx, entry.BaseOffset)
	if err != nil {
		return false, err
	}
	cur.shardStartI = nextIdx
	*c = *cur
	return true, nil
}

// GetActive returns a cursor positioned on the shard covering offset. It
// fails with ErrOutOfRange when offset precedes the partition's retained
// archive start, and ErrManifestNotFound when no shard (resident or
// archived) covers it.
func (v *View) GetActive(ctx context.Context, offset ntp.Offset) (*Cursor, error) {
	v.mu.Lock()
	archiveStart := v.stm.ArchiveStartOffset()
	stmStart := v.stm.StartOffset()
	index := v.index
	v.mu.Unlock()

	if archiveStart != ntp.Unset && offset < archiveStart {
		return nil, archivererrors.ErrOutOfRange
	}

	if stmStart != ntp.Unset && offset >= stmStart {
		return &Cursor{view: v, onSTM: true, lastTouch: time.Now()}, nil
	}

	for i, entry := range index {
		if offset >= entry.BaseOffset && offset <= entry.LastOffset {
			c, err := v.hydrate(ctx, entry.BaseOffset)
			if err != nil {
				return nil, err
			}
			c.shardStartI = i
			return c, nil
		}
	}
	return nil, archivererrors.ErrManifestNotFound
}

// GetRetentionBacklog returns a cursor positioned on the first
// spilled-over shard whose range reaches archive_clean_offset, the start
// of the range a retention pass may still need to inspect before
// physically deleting objects. The cursor is not bounded at
// archive_start_offset: Next keeps advancing through later shards and
// onto the STM manifest tail.
func (v *View) GetRetentionBacklog(ctx context.Context) (*Cursor, error) {
	v.mu.Lock()
	cleanOffset := v.stm.ArchiveCleanOffset()
	index := v.index
	v.mu.Unlock()

	if cleanOffset == ntp.Unset {
		return nil, archivererrors.ErrManifestNotFound
	}
	for i, entry := range index {
		if cleanOffset <= entry.LastOffset {
			c, err := v.hydrate(ctx, entry.BaseOffset)
			if err != nil {
				return nil, err
			}
			c.shardStartI = i
			return c, nil
		}
	}
	return nil, archivererrors.ErrManifestNotFound
}

// hydrate returns a pinned cursor over the shard starting at shardStart,
// fetching and caching it on a miss.
func (v *View) hydrate(ctx context.Context, shardStart ntp.Offset) (*Cursor, error) {
	if h, ok := v.cache.Get(shardStart); ok {
		return &Cursor{view: v, handle: h, shardStart: shardStart, lastTouch: time.Now()}, nil
	}

	blob, size, err := v.fetcher.FetchShard(ctx, shardStart)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Deserialize(blob)
	if err != nil {
		return nil, err
	}

	res, err := v.cache.Prepare(ctx, size)
	if err != nil {
		return nil, err
	}
	if err := v.cache.Put(res, shardStart, m); err != nil {
		return nil, err
	}
	h, ok := v.cache.Get(shardStart)
	if !ok {
		return nil, archivererrors.ErrManifestNotFound
	}
	return &Cursor{view: v, handle: h, shardStart: shardStart, lastTouch: time.Now()}, nil
}

// RetentionResult is the outcome of ComputeRetention.
type RetentionResult struct {
	Offset ntp.Offset
	Delta  int64 // bytes reclaimed by moving archive_start_offset to Offset
}

// ComputeRetention computes the new archive-start offset that
// simultaneously satisfies a byte budget and a maximum segment age,
// honoring any start-kafka-offset override. When neither bound is
// violated it returns the zero RetentionResult, per spec.md §4.5.
func (v *View) ComputeRetention(maxBytes *int64, maxAge *time.Duration, now time.Time) RetentionResult {
	v.mu.Lock()
	index := v.index
	v.mu.Unlock()

	if len(index) == 0 {
		return RetentionResult{}
	}

	var total int64
	for _, e := range index {
		total += e.SizeBytes
	}

	var cutoffBySize ntp.Offset = ntp.Unset
	if maxBytes != nil {
		running := total
		for _, e := range index {
			if running <= *maxBytes {
				break
			}
			running -= e.SizeBytes
			cutoffBySize = e.LastOffset.Next()
			if running <= *maxBytes {
				break
			}
		}
	}

	var cutoffByAge ntp.Offset = ntp.Unset
	if maxAge != nil {
		threshold := now.Add(-*maxAge).UnixMilli()
		for _, e := range index {
			if e.BaseTS >= threshold {
				break
			}
			cutoffByAge = e.LastOffset.Next()
		}
	}

	cutoff := ntp.Unset
	switch {
	case cutoffBySize == ntp.Unset && cutoffByAge == ntp.Unset:
		return RetentionResult{}
	case cutoffBySize == ntp.Unset:
		cutoff = cutoffByAge
	case cutoffByAge == ntp.Unset:
		cutoff = cutoffBySize
	default:
		cutoff = cutoffBySize
		if cutoffByAge > cutoff {
			cutoff = cutoffByAge
		}
	}

	if override, ok := v.stm.StartKafkaOffsetOverride(); ok {
		// The override pins a kafka offset that must remain readable, so
		// the cutoff may never move past the entry that still covers it.
		limit := ntp.Unset
		for _, e := range index {
			if override < e.NextKafka {
				limit = e.BaseOffset
				break
			}
		}
		if limit != ntp.Unset && (cutoff == ntp.Unset || limit < cutoff) {
			cutoff = limit
		}
	}

	if cutoff == ntp.Unset {
		return RetentionResult{}
	}

	var delta int64
	for _, e := range index {
		if e.LastOffset.Next() > cutoff {
			break
		}
		delta += e.SizeBytes
	}

	return RetentionResult{Offset: cutoff, Delta: delta}
}
