// Package archival implements the segment collector and the
// adjacent-segment merger housekeeping job of spec.md §4.3: the algorithm
// that proposes a compacted-segment re-upload aligned to manifest
// boundaries, size-capped, that will replace at least one manifest
// segment or fill a gap between two of them.
package archival

import (
	"github.com/cloudlog-io/archiver/internal/manifest"
	"github.com/cloudlog-io/archiver/internal/ntp"
	"github.com/cloudlog-io/archiver/internal/storageiface"
)

// Result is the proposed re-upload boundary.
type Result struct {
	BeginInclusive ntp.Offset
	EndInclusive   ntp.Offset
	SegmentCount   int
	CanReplace     bool
}

// Collect proposes a re-upload spanning [beginInclusive, ...] that
// replaces at least one manifest segment, bounded by maxUploadedSize. It
// returns an empty Result when the manifest is empty or beginInclusive is
// at or past its last offset; otherwise it runs alignBegin, doCollect,
// alignEnd and findReplacementBoundary in turn, and the last step's
// validity verdict becomes the returned CanReplace field.
func Collect(beginInclusive ntp.Offset, m *manifest.Manifest, log storageiface.LocalLog, maxUploadedSize int64) Result {
	segments := m.Segments()

	lastOffset := m.LastOffset()
	if lastOffset == ntp.Unset || beginInclusive >= lastOffset {
		return Result{}
	}

	aligned := alignBegin(beginInclusive, segments)

	collected := doCollect(aligned, log, segments, maxUploadedSize)
	if len(collected) == 0 {
		return Result{BeginInclusive: aligned}
	}

	rawEnd := collected[len(collected)-1].CommittedOffset
	end := alignEnd(rawEnd, segments)

	return Result{
		BeginInclusive: aligned,
		EndInclusive:   end,
		SegmentCount:   len(collected),
		CanReplace:     findReplacementBoundary(aligned, end, segments),
	}
}

// alignBegin implements spec.md §4.3 step 2. A begin offset below the
// manifest's first segment is bumped forward to that segment's base (data
// below the manifest's current retention window cannot be the start of a
// replacement); a begin offset strictly inside a manifest segment is
// bumped to segment.committed+1; a begin offset already at a segment base,
// or inside a genuine gap between two manifest segments, is kept as is.
func alignBegin(begin ntp.Offset, segments []ntp.SegmentMeta) ntp.Offset {
	if len(segments) == 0 {
		return begin
	}
	if begin < segments[0].BaseOffset {
		return segments[0].BaseOffset
	}
	for _, s := range segments {
		if begin >= s.BaseOffset && begin <= s.CommittedOffset {
			if begin == s.BaseOffset {
				return begin
			}
			return s.CommittedOffset.Next()
		}
	}
	return begin
}

// alignEnd implements spec.md §4.3 step 4, symmetric to alignBegin: an end
// offset past the manifest's last segment is clamped down to that
// segment's committed offset; an end offset strictly inside a manifest
// segment is rolled back to segment.base-1; an end offset already at a
// segment's committed offset, or inside a gap, is kept as is.
func alignEnd(end ntp.Offset, segments []ntp.SegmentMeta) ntp.Offset {
	if len(segments) == 0 {
		return end
	}
	last := segments[len(segments)-1]
	if end > last.CommittedOffset {
		return last.CommittedOffset
	}
	for _, s := range segments {
		if end >= s.BaseOffset && end <= s.CommittedOffset {
			if end == s.CommittedOffset {
				return end
			}
			return s.BaseOffset - 1
		}
	}
	return end
}

// doCollect implements spec.md §4.3 step 3: walk local segments starting
// at the one whose range contains aligned, taking only compacted
// segments, stopping at the size cap, a non-compacted segment, or once
// the manifest's last offset is passed.
func doCollect(aligned ntp.Offset, log storageiface.LocalLog, manifestSegments []ntp.SegmentMeta, maxSize int64) []storageiface.LocalSegment {
	local := log.SegmentsFrom(aligned)
	if len(local) == 0 || len(manifestSegments) == 0 {
		return nil
	}
	lastManifestOffset := manifestSegments[len(manifestSegments)-1].CommittedOffset

	var collected []storageiface.LocalSegment
	var cumulative int64
	for _, seg := range local {
		if seg.BaseOffset > lastManifestOffset {
			break
		}
		if !seg.CompactionFinished {
			break
		}
		if cumulative+seg.SizeBytes > maxSize {
			break
		}
		cumulative += seg.SizeBytes
		collected = append(collected, seg)
	}
	return collected
}

// findReplacementBoundary implements spec.md §4.3 step 5: the range is
// valid iff it fully covers at least one manifest segment, or it
// completely spans a gap between two adjacent manifest segments.
func findReplacementBoundary(begin, end ntp.Offset, segments []ntp.SegmentMeta) bool {
	if begin > end {
		return false
	}
	for _, s := range segments {
		if begin <= s.BaseOffset && end >= s.CommittedOffset {
			return true
		}
	}
	for i := 1; i < len(segments); i++ {
		gapStart := segments[i-1].CommittedOffset.Next()
		gapEnd := segments[i].BaseOffset - 1
		if gapEnd < gapStart {
			continue // contiguous, no real gap
		}
		if begin <= gapStart && end >= gapEnd {
			return true
		}
	}
	return false
}

// The object-store filename a re-upload will use is derived from a
// Result's BeginInclusive via remotepath.AdjustedSegmentName, which
// implements spec.md §4.3's adjust_segment_name.
