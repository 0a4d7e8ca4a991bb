// Package manifest implements the partition manifest: the in-memory,
// ordered sequence of segment metadata that a partition's leader mutates
// and periodically flushes to the object store, plus the spillover map
// that indexes the immutable archive shards produced when the sequence
// grows past its retained-tail size.
package manifest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/cloudlog-io/archiver/internal/ntp"
)

// epochZero pins the gzip header's modification time so that Serialize is
// byte-stable across calls with identical manifest contents.
var epochZero = time.Unix(0, 0).UTC()

// ErrOutOfOrder is returned by Add when the new segment's base offset does
// not strictly follow the current last segment's committed offset.
var ErrOutOfOrder = errors.New("manifest: out-of-order segment")

// ErrSpilloverBoundaryInsideSegment is returned by Spillover when the
// requested upper bound falls strictly inside a retained segment instead
// of on a segment boundary.
var ErrSpilloverBoundaryInsideSegment = errors.New("manifest: spillover boundary falls inside a segment")

// SpilloverEntry is one shard descriptor in the manifest's spillover map,
// per spec.md §3.3: "(base_offset, last_offset, base_ts, last_ts,
// base_kafka, next_kafka, size)".
type SpilloverEntry struct {
	BaseOffset ntp.Offset
	LastOffset ntp.Offset
	BaseTS     int64
	LastTS     int64
	BaseKafka  ntp.KafkaOffset
	NextKafka  ntp.KafkaOffset
	SizeBytes  int64
}

// Manifest is the ordered, non-overlapping sequence of segment metadata
// for one partition, along with the bookkeeping offsets spec.md §3.2 and
// §3.6 describe. It is not safe for concurrent use; callers serialize
// mutation with their own per-partition mutex (spec.md §5, "concurrent
// mutators are serialized by a per-partition mutex").
type Manifest struct {
	segments []ntp.SegmentMeta // ordered by BaseOffset, non-overlapping

	archiveStartOffset      ntp.Offset
	archiveCleanOffset      ntp.Offset
	startKafkaOffsetSet     bool
	startKafkaOffsetOverrid ntp.KafkaOffset

	spillover []SpilloverEntry
}

// New returns an empty manifest, as created on first leadership.
func New() *Manifest {
	return &Manifest{
		archiveStartOffset: ntp.Unset,
		archiveCleanOffset: ntp.Unset,
	}
}

// Add appends a new segment. It fails with ErrOutOfOrder when
// meta.BaseOffset <= the current last segment's CommittedOffset (spec.md
// §4.2 contract; the programmer-error / invariant-violation distinction
// from spec.md §7 is left to the caller: a leader proposing a genuinely
// out-of-order segment is a bug, but Add itself just reports the error).
func (m *Manifest) Add(meta ntp.SegmentMeta) error {
	if len(m.segments) > 0 {
		last := m.segments[len(m.segments)-1]
		if meta.BaseOffset <= last.CommittedOffset {
			return fmt.Errorf("%w: base=%d last_committed=%d", ErrOutOfOrder, meta.BaseOffset, last.CommittedOffset)
		}
	}
	m.segments = append(m.segments, meta)
	return nil
}

// Truncate drops every segment whose CommittedOffset is < newStart. A
// segment that contains newStart is kept whole, with its BaseOffset
// unchanged. It does not touch the spillover map; callers
// combine it with eviction accounting (internal/eviction) as needed.
func (m *Manifest) Truncate(newStart ntp.Offset) {
	idx := sort.Search(len(m.segments), func(i int) bool {
		return m.segments[i].CommittedOffset >= newStart
	})
	m.segments = m.segments[idx:]
}

// ErrReplacementRangeNotFound is returned by ReplaceRange when no
// contiguous run of segments spans exactly [begin, end].
var ErrReplacementRangeNotFound = errors.New("manifest: replacement range does not match manifest segments")

// ReplaceRange substitutes the contiguous run of segments spanning
// exactly [begin, end] with the single re-uploaded replacement segment,
// the final step of the adjacent-segment-merger algorithm (spec.md
// §4.3). It fails with ErrReplacementRangeNotFound if the manifest does
// not hold a run of segments whose combined range is exactly
// [begin, end] — the same boundary Collect already validated via
// CanReplace, so a caller passing back a Collect Result's bounds should
// never see this error outside of a concurrent mutation.
func (m *Manifest) ReplaceRange(begin, end ntp.Offset, replacement ntp.SegmentMeta) error {
	start := sort.Search(len(m.segments), func(i int) bool {
		return m.segments[i].BaseOffset >= begin
	})
	if start >= len(m.segments) || m.segments[start].BaseOffset != begin {
		return ErrReplacementRangeNotFound
	}
	stop := start
	for stop < len(m.segments) && m.segments[stop].CommittedOffset <= end {
		stop++
	}
	if stop == start || m.segments[stop-1].CommittedOffset != end {
		return ErrReplacementRangeNotFound
	}

	next := append([]ntp.SegmentMeta(nil), m.segments[:start]...)
	next = append(next, replacement)
	next = append(next, m.segments[stop:]...)
	m.segments = next
	return nil
}

// Spillover removes the prefix of segments that are entirely below
// upperBound (committed_offset < upperBound), appends their descriptors
// to the spillover map, and returns them so the caller can assemble an
// immutable spillover shard manifest object. It fails with
// ErrSpilloverBoundaryInsideSegment if upperBound falls strictly inside a
// retained segment (spec.md §4.2: "it fails if u falls inside a
// segment").
func (m *Manifest) Spillover(upperBound ntp.Offset) ([]ntp.SegmentMeta, error) {
	idx := 0
	for idx < len(m.segments) && m.segments[idx].CommittedOffset < upperBound {
		idx++
	}
	if idx < len(m.segments) {
		s := m.segments[idx]
		if s.BaseOffset < upperBound && upperBound <= s.CommittedOffset {
			return nil, ErrSpilloverBoundaryInsideSegment
		}
	}
	if idx == 0 {
		return nil, nil
	}

	spilled := append([]ntp.SegmentMeta(nil), m.segments[:idx]...)
	m.segments = m.segments[idx:]

	for _, s := range spilled {
		m.spillover = append(m.spillover, SpilloverEntry{
			BaseOffset: s.BaseOffset,
			LastOffset: s.CommittedOffset,
			BaseTS:     s.BaseTimestamp,
			LastTS:     s.MaxTimestamp,
			BaseKafka:  s.BaseKafkaOffset,
			NextKafka:  s.NextKafkaOffset,
			SizeBytes:  s.SizeBytes,
		})
	}
	return spilled, nil
}

// SetArchiveStartOffset updates the archive-start bound. Callers are
// responsible for the archive_start_offset <= start_offset <= last_offset
// invariant (spec.md §3.2); a violation is a programmer error.
func (m *Manifest) SetArchiveStartOffset(o ntp.Offset) {
	if o > m.StartOffset() && m.StartOffset() != ntp.Unset {
		panic("manifest: archive_start_offset must not exceed start_offset")
	}
	m.archiveStartOffset = o
}

// SetArchiveCleanOffset updates the archive-clean bound. archive_clean_offset
// must be <= archive_start_offset (spec.md §3.2); violating it is a
// programmer error.
func (m *Manifest) SetArchiveCleanOffset(o ntp.Offset) {
	if m.archiveStartOffset != ntp.Unset && o > m.archiveStartOffset {
		panic("manifest: archive_clean_offset must not exceed archive_start_offset")
	}
	m.archiveCleanOffset = o
}

// AdvanceStartKafkaOffset sets the optional start_kafka_offset_override.
// It must increase monotonically (spec.md §3.2); a non-increasing call is
// a programmer error.
func (m *Manifest) AdvanceStartKafkaOffset(k ntp.KafkaOffset) {
	if m.startKafkaOffsetSet && k <= m.startKafkaOffsetOverrid {
		panic("manifest: start_kafka_offset_override must increase monotonically")
	}
	m.startKafkaOffsetOverrid = k
	m.startKafkaOffsetSet = true
}

// StartKafkaOffsetOverride returns the override and whether one has ever
// been set.
func (m *Manifest) StartKafkaOffsetOverride() (ntp.KafkaOffset, bool) {
	return m.startKafkaOffsetOverrid, m.startKafkaOffsetSet
}

// ArchiveStartOffset returns the archive-start bound.
func (m *Manifest) ArchiveStartOffset() ntp.Offset { return m.archiveStartOffset }

// ArchiveCleanOffset returns the archive-clean bound.
func (m *Manifest) ArchiveCleanOffset() ntp.Offset { return m.archiveCleanOffset }

// StartOffset returns the base offset of the first retained segment, or
// Unset if the manifest is empty.
func (m *Manifest) StartOffset() ntp.Offset {
	if len(m.segments) == 0 {
		return ntp.Unset
	}
	return m.segments[0].BaseOffset
}

// LastOffset returns the committed offset of the last retained segment, or
// Unset if the manifest is empty.
func (m *Manifest) LastOffset() ntp.Offset {
	if len(m.segments) == 0 {
		return ntp.Unset
	}
	return m.segments[len(m.segments)-1].CommittedOffset
}

// SegmentContaining returns the segment whose kafka-offset range contains
// k, if any.
func (m *Manifest) SegmentContaining(k ntp.KafkaOffset) (ntp.SegmentMeta, bool) {
	i := sort.Search(len(m.segments), func(i int) bool {
		return m.segments[i].NextKafkaOffset > k
	})
	if i < len(m.segments) && m.segments[i].ContainsKafka(k) {
		return m.segments[i], true
	}
	return ntp.SegmentMeta{}, false
}

// FirstAddressableSegment returns the earliest segment still retained in
// the STM manifest (not the spillover archive).
func (m *Manifest) FirstAddressableSegment() (ntp.SegmentMeta, bool) {
	if len(m.segments) == 0 {
		return ntp.SegmentMeta{}, false
	}
	return m.segments[0], true
}

// LastSegment returns the most recently added segment.
func (m *Manifest) LastSegment() (ntp.SegmentMeta, bool) {
	if len(m.segments) == 0 {
		return ntp.SegmentMeta{}, false
	}
	return m.segments[len(m.segments)-1], true
}

// Segments returns a read-only snapshot of the retained segment sequence,
// for use by the segment collector and the manifest view.
func (m *Manifest) Segments() []ntp.SegmentMeta {
	return append([]ntp.SegmentMeta(nil), m.segments...)
}

// SpilloverEntries returns a read-only snapshot of the spillover map.
func (m *Manifest) SpilloverEntries() []SpilloverEntry {
	return append([]SpilloverEntry(nil), m.spillover...)
}

// wireVersion is the format version tag that opens every serialized
// manifest, ahead of its counts, mirroring the
// length-prefixed binary framing friggdb's backend/object.go uses for its
// own on-disk metadata blobs.
const wireVersion uint8 = 1

// Serialize renders the manifest as a gzip-compressed, byte-stable binary
// blob suitable for an object-store PUT. Two manifests with identical
// contents always serialize to identical bytes (spec.md §6, "object
// bodies ... must be byte-stable across equal serializations").
func (m *Manifest) Serialize() ([]byte, error) {
	var raw bytes.Buffer
	raw.WriteByte(wireVersion)

	writeOffset := func(o ntp.Offset) { binary.Write(&raw, binary.BigEndian, int64(o)) }
	writeKafka := func(k ntp.KafkaOffset) { binary.Write(&raw, binary.BigEndian, int64(k)) }

	writeOffset(m.archiveStartOffset)
	writeOffset(m.archiveCleanOffset)
	raw.WriteByte(boolByte(m.startKafkaOffsetSet))
	writeKafka(m.startKafkaOffsetOverrid)

	binary.Write(&raw, binary.BigEndian, uint32(len(m.segments)))
	for _, s := range m.segments {
		writeOffset(s.BaseOffset)
		writeOffset(s.CommittedOffset)
		writeKafka(s.BaseKafkaOffset)
		writeKafka(s.NextKafkaOffset)
		binary.Write(&raw, binary.BigEndian, s.BaseTimestamp)
		binary.Write(&raw, binary.BigEndian, s.MaxTimestamp)
		binary.Write(&raw, binary.BigEndian, int64(s.SegmentTerm))
		binary.Write(&raw, binary.BigEndian, int64(s.ArchiverTerm))
		binary.Write(&raw, binary.BigEndian, s.SizeBytes)
		raw.WriteByte(byte(s.SNameFormat))
		binary.Write(&raw, binary.BigEndian, s.DeltaOffsetEnd)
	}

	binary.Write(&raw, binary.BigEndian, uint32(len(m.spillover)))
	for _, e := range m.spillover {
		writeOffset(e.BaseOffset)
		writeOffset(e.LastOffset)
		binary.Write(&raw, binary.BigEndian, e.BaseTS)
		binary.Write(&raw, binary.BigEndian, e.LastTS)
		writeKafka(e.BaseKafka)
		writeKafka(e.NextKafka)
		binary.Write(&raw, binary.BigEndian, e.SizeBytes)
	}

	var out bytes.Buffer
	gw, err := gzip.NewWriterLevel(&out, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	// A fixed mtime keeps the gzip header byte-stable across equal
	// inputs; the default header would otherwise embed the wall-clock
	// time and break determinism.
	gw.ModTime = epochZero
	if _, err := gw.Write(raw.Bytes()); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Deserialize parses a blob produced by Serialize.
func Deserialize(blob []byte) (*Manifest, error) {
	gr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("manifest: gzip: %w", err)
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("manifest: read: %w", err)
	}
	r := bytes.NewReader(raw)

	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("manifest: truncated header: %w", err)
	}
	if version != wireVersion {
		return nil, fmt.Errorf("manifest: unsupported wire version %d", version)
	}

	readOffset := func() (ntp.Offset, error) {
		var v int64
		err := binary.Read(r, binary.BigEndian, &v)
		return ntp.Offset(v), err
	}
	readKafka := func() (ntp.KafkaOffset, error) {
		var v int64
		err := binary.Read(r, binary.BigEndian, &v)
		return ntp.KafkaOffset(v), err
	}

	m := New()
	if m.archiveStartOffset, err = readOffset(); err != nil {
		return nil, err
	}
	if m.archiveCleanOffset, err = readOffset(); err != nil {
		return nil, err
	}
	dirty, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	m.startKafkaOffsetSet = dirty != 0
	if m.startKafkaOffsetOverrid, err = readKafka(); err != nil {
		return nil, err
	}

	var segCount uint32
	if err := binary.Read(r, binary.BigEndian, &segCount); err != nil {
		return nil, err
	}
	m.segments = make([]ntp.SegmentMeta, segCount)
	for i := range m.segments {
		s := &m.segments[i]
		if s.BaseOffset, err = readOffset(); err != nil {
			return nil, err
		}
		if s.CommittedOffset, err = readOffset(); err != nil {
			return nil, err
		}
		if s.BaseKafkaOffset, err = readKafka(); err != nil {
			return nil, err
		}
		if s.NextKafkaOffset, err = readKafka(); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &s.BaseTimestamp); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &s.MaxTimestamp); err != nil {
			return nil, err
		}
		var term, archiverTerm int64
		if err := binary.Read(r, binary.BigEndian, &term); err != nil {
			return nil, err
		}
		s.SegmentTerm = ntp.Term(term)
		if err := binary.Read(r, binary.BigEndian, &archiverTerm); err != nil {
			return nil, err
		}
		s.ArchiverTerm = ntp.Term(archiverTerm)
		if err := binary.Read(r, binary.BigEndian, &s.SizeBytes); err != nil {
			return nil, err
		}
		format, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		s.SNameFormat = ntp.SNameFormat(format)
		if err := binary.Read(r, binary.BigEndian, &s.DeltaOffsetEnd); err != nil {
			return nil, err
		}
	}

	var spillCount uint32
	if err := binary.Read(r, binary.BigEndian, &spillCount); err != nil {
		return nil, err
	}
	m.spillover = make([]SpilloverEntry, spillCount)
	for i := range m.spillover {
		e := &m.spillover[i]
		if e.BaseOffset, err = readOffset(); err != nil {
			return nil, err
		}
		if e.LastOffset, err = readOffset(); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &e.BaseTS); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &e.LastTS); err != nil {
			return nil, err
		}
		if e.BaseKafka, err = readKafka(); err != nil {
			return nil, err
		}
		if e.NextKafka, err = readKafka(); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &e.SizeBytes); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
