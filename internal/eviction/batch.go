package eviction

import (
	"encoding/binary"
	"errors"

	"github.com/cloudlog-io/archiver/internal/ntp"
)

// BatchType distinguishes the special record-batch kinds this STM
// consumes, per spec.md §4.6.
type BatchType uint8

const (
	// BatchPrefixTruncate carries a single record whose key is the target
	// offset minus one: everything strictly below the target is eligible
	// for eviction once applied.
	BatchPrefixTruncate BatchType = 1
)

// Batch is the special record batch replicated through raft and consumed
// by Apply. It is not a general-purpose record batch: this STM only ever
// produces and consumes BatchPrefixTruncate.
type Batch struct {
	Type          BatchType
	TruncatePoint ntp.Offset // rp_truncate_offset - 1, as carried on the wire
}

var errShortBatch = errors.New("eviction: batch too short")
var errUnknownBatchType = errors.New("eviction: unknown batch type")

// EncodeBatch serializes b for replication.
func EncodeBatch(b Batch) []byte {
	out := make([]byte, 9)
	out[0] = byte(b.Type)
	binary.BigEndian.PutUint64(out[1:], uint64(b.TruncatePoint))
	return out
}

// DecodeBatch is the inverse of EncodeBatch.
func DecodeBatch(raw []byte) (Batch, error) {
	if len(raw) < 9 {
		return Batch{}, errShortBatch
	}
	typ := BatchType(raw[0])
	if typ != BatchPrefixTruncate {
		return Batch{}, errUnknownBatchType
	}
	return Batch{
		Type:          typ,
		TruncatePoint: ntp.Offset(binary.BigEndian.Uint64(raw[1:9])),
	}, nil
}
