// Package storageiface defines the narrow read-only view the archival
// engine needs onto the local disk log, per spec.md §6 "Storage interface
// consumed". Production wiring lives outside this module (the disk log
// itself is out of scope, per spec.md §1 Non-goals); this package exists
// so internal/archival and internal/eviction can be built and tested
// against a small interface instead of a concrete log implementation.
package storageiface

import (
	"bytes"
	"io"

	"github.com/cloudlog-io/archiver/internal/ntp"
)

// LocalSegment describes one segment as the local disk log reports it.
type LocalSegment struct {
	BaseOffset         ntp.Offset
	CommittedOffset    ntp.Offset
	SizeBytes          int64
	CompactionFinished bool
}

// LocalLog is the read-only handle on a partition's local segments that
// the segment collector walks.
type LocalLog interface {
	// SegmentsFrom returns local segments in ascending base-offset order,
	// including any segment whose range contains from.
	SegmentsFrom(from ntp.Offset) []LocalSegment

	// Open returns a reader over seg's raw bytes for upload. The caller
	// closes it.
	Open(seg LocalSegment) (io.ReadCloser, error)
}

// FakeLocalLog is an in-memory LocalLog for tests and for components that
// do not yet have a real disk-log backend wired in.
type FakeLocalLog struct {
	Segments []LocalSegment // must be kept in ascending BaseOffset order
	Data     map[ntp.Offset][]byte
}

// SegmentsFrom implements LocalLog.
func (f *FakeLocalLog) SegmentsFrom(from ntp.Offset) []LocalSegment {
	for i, s := range f.Segments {
		if s.CommittedOffset >= from {
			return append([]LocalSegment(nil), f.Segments[i:]...)
		}
	}
	return nil
}

// Open implements LocalLog, returning seg.SizeBytes zero bytes unless the
// test has stashed real content for seg.BaseOffset in Data.
func (f *FakeLocalLog) Open(seg LocalSegment) (io.ReadCloser, error) {
	if b, ok := f.Data[seg.BaseOffset]; ok {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	return io.NopCloser(bytes.NewReader(make([]byte, seg.SizeBytes))), nil
}
