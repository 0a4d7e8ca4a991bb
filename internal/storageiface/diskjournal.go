package storageiface

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudlog-io/archiver/internal/ntp"
)

// segmentExt names a closed, uploadable segment file; segmentActiveExt
// names the one still being written, so DiskLog never offers a segment
// the local log hasn't finished rotating out.
const (
	segmentExt       = ".log"
	segmentActiveExt = ".log.active"
)

// DiskLog is a minimal LocalLog backed by a directory of per-segment
// files named "<baseOffset>-<committedOffset>.log", mirroring
// friggdb/backend/local's directory-of-files convention one layer down
// (files instead of block folders). It does not parse the disk log's
// real binary format — that stays out of scope — it only needs to list
// closed segment files and hand back a reader over one.
type DiskLog struct {
	dir string
}

// NewDiskLog returns a DiskLog rooted at dir, creating it if needed.
func NewDiskLog(dir string) (*DiskLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storageiface: creating disk log dir: %w", err)
	}
	return &DiskLog{dir: dir}, nil
}

func (d *DiskLog) segmentFileName(base, committed ntp.Offset) string {
	return fmt.Sprintf("%020d-%020d%s", base, committed, segmentExt)
}

// SegmentsFrom implements LocalLog by listing closed segment files in the
// directory in ascending base-offset order.
func (d *DiskLog) SegmentsFrom(from ntp.Offset) []LocalSegment {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil
	}

	var segs []LocalSegment
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), segmentExt) || strings.HasSuffix(e.Name(), segmentActiveExt) {
			continue
		}
		base, committed, ok := parseSegmentFileName(e.Name())
		if !ok || committed < from {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		segs = append(segs, LocalSegment{
			BaseOffset:         base,
			CommittedOffset:    committed,
			SizeBytes:          info.Size(),
			CompactionFinished: true,
		})
	}

	sort.Slice(segs, func(i, j int) bool { return segs[i].BaseOffset < segs[j].BaseOffset })
	return segs
}

// Open implements LocalLog.
func (d *DiskLog) Open(seg LocalSegment) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.dir, d.segmentFileName(seg.BaseOffset, seg.CommittedOffset)))
}

func parseSegmentFileName(name string) (base, committed ntp.Offset, ok bool) {
	trimmed := strings.TrimSuffix(name, segmentExt)
	parts := strings.SplitN(trimmed, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	var b, c int64
	if _, err := fmt.Sscanf(parts[0], "%d", &b); err != nil {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &c); err != nil {
		return 0, 0, false
	}
	return ntp.Offset(b), ntp.Offset(c), true
}
