package archival

import (
	"context"

	"github.com/cloudlog-io/archiver/internal/manifest"
	"github.com/cloudlog-io/archiver/internal/ntp"
	"github.com/cloudlog-io/archiver/internal/storageiface"
)

// Uploader re-uploads the segments spanning a Collect Result and applies
// the replacement to the manifest. Implemented by internal/objectstore's
// SegmentWriter.
type Uploader interface {
	Replace(ctx context.Context, r Result) error
}

// Merger is the adjacent-segment merger housekeeping job: it repeatedly
// proposes a collection starting from the offset immediately after the
// last one it successfully replaced, re-uploading small adjacent segments
// into fewer, larger ones. Ported from original_source's
// adjacent_segment_merger (housekeeping_job), translating its
// gate/abort_source interrupt handling into a context-driven Run.
type Merger struct {
	last            ntp.Offset
	log             storageiface.LocalLog
	maxUploadedSize int64
	uploader        Uploader
}

// NewMerger returns a merger that starts its first pass from the
// beginning of the partition.
func NewMerger(log storageiface.LocalLog, maxUploadedSize int64, uploader Uploader) *Merger {
	return &Merger{log: log, maxUploadedSize: maxUploadedSize, uploader: uploader}
}

// Run performs one collection-and-replace pass against m. It returns the
// Result it acted on (zero Result if there was nothing to replace).
func (a *Merger) Run(ctx context.Context, m *manifest.Manifest) (Result, error) {
	r := Collect(a.last, m, a.log, a.maxUploadedSize)
	if !r.CanReplace {
		return r, nil
	}
	if err := a.uploader.Replace(ctx, r); err != nil {
		return r, err
	}
	a.last = r.EndInclusive.Next()
	return r, nil
}

// Reset rewinds the merger to start its next pass from the beginning of
// the partition, used when the local log is truncated behind the
// merger's current cursor.
func (a *Merger) Reset() {
	a.last = 0
}
