// Package remotepath implements the deterministic mapping from (ntp,
// revision, segment meta) to object-store keys described in spec.md §4.1.
// It is a direct port of original_source's remote_path_provider.cc: the
// same method names, the same labeled-vs-prefixed layout switch, the same
// "legacy JSON key only under the unlabeled layout" rule.
package remotepath

import (
	"fmt"
	"strings"

	"github.com/cloudlog-io/archiver/internal/ntp"
)

// Label is the opaque per-cluster label that selects the "labeled" object
// key layout. A nil *Label on Provider selects the legacy "prefixed"
// layout, matching remote_path_provider.cc's std::optional<remote_label>.
type Label struct {
	Value string
}

// Provider is a pure, stateless (given its configuration) key deriver. Two
// calls with equal inputs always produce byte-identical keys.
type Provider struct {
	label *Label
}

// New returns a Provider using the prefixed (unlabeled) layout.
func New() *Provider { return &Provider{} }

// NewLabeled returns a Provider using the labeled layout.
func NewLabeled(label Label) *Provider { return &Provider{label: &label} }

func hashPrefix(s string) string {
	// The reference hashes the ntp/topic identity into an 8-hex-digit
	// prefix so that S3/GCS key-range partitioning spreads partitions of
	// the same topic across different prefixes. We use a cheap,
	// deterministic FNV-1a fold rather than importing a second hash
	// family purely for this (fasthash's Hash32 already fills the
	// access-time-tracker's hash need; reusing it here keeps the
	// dependency surface the way the teacher keeps one hash library per
	// concern instead of several for the same purpose).
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return fmt.Sprintf("%08x", h)
}

// TopicManifestPrefix returns the directory-like prefix under which a
// topic's manifests live.
func (p *Provider) TopicManifestPrefix(t ntp.NTP) string {
	if p.label != nil {
		return fmt.Sprintf("meta/%s/%s_%s", p.label.Value, t.Namespace, t.Topic)
	}
	return fmt.Sprintf("%s/%s_%s", hashPrefix(t.Namespace+"/"+t.Topic), t.Namespace, t.Topic)
}

// TopicManifestPath returns the concrete key for a topic's top-level
// manifest blob.
func (p *Provider) TopicManifestPath(t ntp.NTP, rev ntp.RevisionID) string {
	if p.label != nil {
		return fmt.Sprintf("%s/%d/topic_manifest.bin", p.TopicManifestPrefix(t), rev)
	}
	return fmt.Sprintf("%s/topic_manifest.bin", p.TopicManifestPrefix(t))
}

// PartitionManifestPrefix returns the directory-like prefix under which a
// partition's manifest and spillover shards live.
func (p *Provider) PartitionManifestPrefix(t ntp.NTP, rev ntp.RevisionID) string {
	if p.label != nil {
		return fmt.Sprintf("meta/%s/%s_%s/%d_%d", p.label.Value, t.Namespace, t.Topic, t.Partition, rev)
	}
	return fmt.Sprintf("%s/%s_%s/%d_%d", hashPrefix(fmt.Sprintf("%s/%s/%d/%d", t.Namespace, t.Topic, t.Partition, rev)), t.Namespace, t.Topic, t.Partition, rev)
}

// partitionManifestFilename is the fixed (non-spillover) manifest filename.
const partitionManifestFilename = "manifest.bin"

// PartitionManifestPath returns the concrete STM-manifest key.
func (p *Provider) PartitionManifestPath(t ntp.NTP, rev ntp.RevisionID) string {
	return fmt.Sprintf("%s/%s", p.PartitionManifestPrefix(t, rev), partitionManifestFilename)
}

// PartitionManifestPathJSON returns the legacy JSON manifest key. It is
// only meaningful under the prefixed (unlabeled) layout; under the labeled
// layout there is no legacy mirror and ok is false.
func (p *Provider) PartitionManifestPathJSON(t ntp.NTP, rev ntp.RevisionID) (path string, ok bool) {
	if p.label != nil {
		return "", false
	}
	return fmt.Sprintf("%s/manifest.json", p.PartitionManifestPrefix(t, rev)), true
}

// SpilloverKeyComponents are the fields embedded in a spillover manifest's
// key suffix, per spec.md §6 "Spillover manifest key suffix" and
// original_source's spillover_manifest_path_components.
type SpilloverKeyComponents struct {
	Base      ntp.Offset
	Last      ntp.Offset
	BaseKafka ntp.KafkaOffset
	NextKafka ntp.KafkaOffset
	BaseTS    int64
	LastTS    int64
}

// Suffix renders the dotted key suffix appended to the partition manifest
// path to form a spillover shard's key.
func (c SpilloverKeyComponents) Suffix() string {
	return fmt.Sprintf("%d.%d.%d.%d.%d.%d", c.Base, c.Last, c.BaseKafka, c.NextKafka, c.BaseTS, c.LastTS)
}

// SpilloverManifestPath returns the key for one immutable spillover shard.
func (p *Provider) SpilloverManifestPath(t ntp.NTP, rev ntp.RevisionID, c SpilloverKeyComponents) string {
	return fmt.Sprintf("%s.%s", p.PartitionManifestPath(t, rev), c.Suffix())
}

// segmentFilename renders the object key suffix for one segment, per
// spec.md §6: "{base_offset}-{archiver_term}-v{sname_format}.log".
func segmentFilename(base ntp.Offset, archiverTerm ntp.Term, format ntp.SNameFormat) string {
	return fmt.Sprintf("%d-%d-v%d.log", base, archiverTerm, format)
}

// SegmentPath returns the object key for one segment, encoding its
// archiver term into the key so concurrent re-uploads under different
// terms never collide.
func (p *Provider) SegmentPath(t ntp.NTP, rev ntp.RevisionID, seg ntp.SegmentMeta) string {
	name := segmentFilename(seg.BaseOffset, seg.ArchiverTerm, seg.SNameFormat)
	if p.label != nil {
		return fmt.Sprintf("%s/%d/%s", p.PartitionManifestPrefix(t, rev), t.Partition, name)
	}
	return fmt.Sprintf("%s/%s", p.PartitionManifestPrefix(t, rev), name)
}

// AdjustedSegmentName renders the object-store filename a re-upload will
// use: the base offset is replaced by the aligned begin offset and the
// archiver term is zero-padded, per spec.md §4.3 adjust_segment_name. Two
// collections with identical aligned boundaries always produce identical
// names (the idempotent-re-upload invariant, spec.md §8.1).
func AdjustedSegmentName(alignedBegin ntp.Offset, archiverTerm ntp.Term, format ntp.SNameFormat) string {
	return fmt.Sprintf("%d-%010d-v%d.log", alignedBegin, archiverTerm, format)
}

// AdjustedSegmentPath returns the object key for one adjacent-segment-
// merger re-upload, using the same labeled-vs-prefixed layout switch as
// SegmentPath.
func (p *Provider) AdjustedSegmentPath(t ntp.NTP, rev ntp.RevisionID, alignedBegin ntp.Offset, archiverTerm ntp.Term, format ntp.SNameFormat) string {
	name := AdjustedSegmentName(alignedBegin, archiverTerm, format)
	if p.label != nil {
		return fmt.Sprintf("%s/%d/%s", p.PartitionManifestPrefix(t, rev), t.Partition, name)
	}
	return fmt.Sprintf("%s/%s", p.PartitionManifestPrefix(t, rev), name)
}

// IsSpilloverKey reports whether key is a spillover shard path for the
// given STM manifest path (i.e. key == manifestPath + "." + six dotted
// components), and if so parses out the components.
func IsSpilloverKey(manifestPath, key string) (SpilloverKeyComponents, bool) {
	prefix := manifestPath + "."
	if !strings.HasPrefix(key, prefix) {
		return SpilloverKeyComponents{}, false
	}
	rest := strings.TrimPrefix(key, prefix)
	parts := strings.Split(rest, ".")
	if len(parts) != 6 {
		return SpilloverKeyComponents{}, false
	}
	var c SpilloverKeyComponents
	var vals [6]int64
	for i, p := range parts {
		var v int64
		if _, err := fmt.Sscanf(p, "%d", &v); err != nil {
			return SpilloverKeyComponents{}, false
		}
		vals[i] = v
	}
	c.Base = ntp.Offset(vals[0])
	c.Last = ntp.Offset(vals[1])
	c.BaseKafka = ntp.KafkaOffset(vals[2])
	c.NextKafka = ntp.KafkaOffset(vals[3])
	c.BaseTS = vals[4]
	c.LastTS = vals[5]
	return c, true
}
