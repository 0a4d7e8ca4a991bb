// Package ntp defines the identifiers and offset spaces shared by every
// component of the cloud-tier archival engine: the (namespace, topic,
// partition) triple, the two offset spaces a segment lives in, and the
// segment metadata record that flows through the manifest, the collector,
// and the remote-path provider.
package ntp

import "fmt"

// Offset is a model-space offset: monotonically increasing per partition,
// incremented by one per record including control batches.
type Offset int64

// Unset is the sentinel value for "no offset known yet".
const Unset Offset = -1

// Next returns the offset immediately following o.
func (o Offset) Next() Offset {
	return o + 1
}

// KafkaOffset is a kafka-space offset: model offset minus a monotonically
// non-decreasing delta that excludes control batches.
type KafkaOffset int64

// UnsetKafka is the sentinel for "no kafka offset known yet".
const UnsetKafka KafkaOffset = -1

// NTP identifies a replicated partition log: namespace, topic, partition.
type NTP struct {
	Namespace string
	Topic     string
	Partition int32
}

func (n NTP) String() string {
	return fmt.Sprintf("%s/%s/%d", n.Namespace, n.Topic, n.Partition)
}

// RevisionID is the initial_revision_id assigned to a topic at creation
// time; it is folded into every remote object key so that a topic
// re-created with the same name never collides with its predecessor's
// archived data.
type RevisionID int64

// Term identifies a raft term; segments and re-uploads both carry one so
// that concurrent leaders can never produce colliding object keys.
type Term int64

// SNameFormat is the segment file name format version tag.
type SNameFormat uint8

const (
	SNameFormatV1 SNameFormat = 1
	SNameFormatV2 SNameFormat = 2
	SNameFormatV3 SNameFormat = 3
)

// SegmentMeta describes one closed, immutable segment, whether it lives on
// local disk or has been uploaded to the object store. Field names mirror
// spec.md §3.1.
type SegmentMeta struct {
	BaseOffset      Offset
	CommittedOffset Offset

	BaseKafkaOffset KafkaOffset
	NextKafkaOffset KafkaOffset

	BaseTimestamp int64 // unix millis
	MaxTimestamp  int64 // unix millis

	SegmentTerm  Term
	ArchiverTerm Term

	SizeBytes int64

	SNameFormat SNameFormat

	// DeltaOffsetEnd is next_kafka_offset's complement: committed_offset
	// minus next_kafka_offset, the running delta at the end of the
	// segment. Carried so offset translation never needs to re-derive it
	// from a full scan (spec.md §9 Design Notes, "Offset translation").
	DeltaOffsetEnd int64
}

// ContainsKafka reports whether the kafka offset k falls within this segment's
// kafka-space range [BaseKafkaOffset, NextKafkaOffset).
func (s SegmentMeta) ContainsKafka(k KafkaOffset) bool {
	return k >= s.BaseKafkaOffset && k < s.NextKafkaOffset
}

// Overlaps reports whether two segments' model-offset ranges intersect.
func (s SegmentMeta) Overlaps(o SegmentMeta) bool {
	return s.BaseOffset <= o.CommittedOffset && o.BaseOffset <= s.CommittedOffset
}
