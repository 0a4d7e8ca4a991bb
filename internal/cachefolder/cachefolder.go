// Package cachefolder drives eviction of the local on-disk cache that
// holds hydrated segment and manifest bodies downloaded from the object
// store. It adapts friggdb's disk-cache janitor (container/heap,
// oldest-first eviction over a byte budget) to use the access-time
// tracker (internal/accesstime) instead of filesystem atime, since atime
// updates are frequently disabled (noatime mounts) in production.
package cachefolder

import (
	"container/heap"
	"os"
	"time"

	"github.com/karrick/godirwalk"

	"github.com/cloudlog-io/archiver/internal/accesstime"
)

// Config configures one cache-folder eviction driver.
type Config struct {
	Path          string
	MaxBytes      int64
	CleanInterval time.Duration
	PruneBatch    int // max number of candidate files tracked per sweep
}

// Driver periodically scans Path and removes the least-recently-used
// files until the folder is back under MaxBytes.
type Driver struct {
	cfg     Config
	tracker *accesstime.Tracker
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New returns a Driver that scores files by tracker's recorded access
// times, falling back to the file's on-disk ModTime when tracker has no
// entry for it (e.g. on first startup, before any hydration has been
// recorded).
func New(cfg Config, tracker *accesstime.Tracker) *Driver {
	if cfg.PruneBatch <= 0 {
		cfg.PruneBatch = 64
	}
	return &Driver{cfg: cfg, tracker: tracker, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// Start launches the periodic janitor goroutine. Stop must be called to
// release it.
func (d *Driver) Start() {
	go func() {
		defer close(d.doneCh)
		ticker := time.NewTicker(d.cfg.CleanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for d.sweepOnce() {
				}
			case <-d.stopCh:
				return
			}
		}
	}()
}

// Stop signals the janitor goroutine to exit and waits for it.
func (d *Driver) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

// fileCandidate is one entry considered for eviction.
type fileCandidate struct {
	path       string
	size       int64
	accessUnix int64
}

// candidateHeap is a max-heap on accessUnix: the root is always the
// *newest* surviving candidate, so popping it whenever the heap grows past
// PruneBatch entries keeps the oldest ones, mirroring friggdb's
// FileInfoHeap (oldest-atime-first, bounded by pruneCount).
type candidateHeap []fileCandidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].accessUnix > h[j].accessUnix }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(fileCandidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// sweepOnce performs one scan-and-maybe-prune pass. It returns true if it
// deleted files (the caller loops until a pass deletes nothing, matching
// friggdb's "repeatedly clean until we don't need to").
func (d *Driver) sweepOnce() bool {
	var totalSize int64
	h := make(candidateHeap, 0, d.cfg.PruneBatch)
	heap.Init(&h)

	err := godirwalk.Walk(d.cfg.Path, &godirwalk.Options{
		Unsorted: true,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			info, err := os.Stat(osPathname)
			if err != nil {
				return nil
			}
			totalSize += info.Size()

			accessUnix := info.ModTime().Unix()
			if ts, ok := d.tracker.EstimateTimestamp(osPathname); ok {
				accessUnix = ts.Unix()
			}

			heap.Push(&h, fileCandidate{path: osPathname, size: info.Size(), accessUnix: accessUnix})
			for h.Len() > d.cfg.PruneBatch {
				heap.Pop(&h)
			}
			return nil
		},
	})
	if err != nil {
		return false
	}

	if totalSize < d.cfg.MaxBytes {
		return false
	}

	deletedAny := false
	oldestFirst := make([]fileCandidate, h.Len())
	for i := len(oldestFirst) - 1; i >= 0; i-- {
		oldestFirst[i] = heap.Pop(&h).(fileCandidate)
	}
	for _, c := range oldestFirst {
		if totalSize < d.cfg.MaxBytes {
			break
		}
		if err := os.Remove(c.path); err != nil {
			continue
		}
		d.tracker.RemoveTimestamp(c.path)
		totalSize -= c.size
		deletedAny = true
	}
	return deletedAny
}

// RecordAccess should be called by the hydration path (manifestcache,
// archival) every time a cache file is read or written, so the tracker
// stays current for the next sweep.
func (d *Driver) RecordAccess(path string) {
	d.tracker.AddTimestamp(path, time.Now())
}
