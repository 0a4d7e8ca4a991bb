package archiver

import (
	"flag"
	"time"
)

// Config tunes one partition archiver's scheduling cadence and
// housekeeping thresholds, per spec.md §6 Config and §4.8.
type Config struct {
	UploadInterval         time.Duration `yaml:"upload_interval"`
	HousekeepingInterval   time.Duration `yaml:"housekeeping_interval"`
	RetentionInterval      time.Duration `yaml:"retention_interval"`
	MaxUploadedSegmentSize int64         `yaml:"max_uploaded_segment_size"`

	RetentionMaxBytes *int64         `yaml:"retention_max_bytes,omitempty"`
	RetentionMaxAge   *time.Duration `yaml:"retention_max_age,omitempty"`

	ManifestCacheTTL time.Duration `yaml:"manifest_cache_ttl"`

	// EnableSegmentMerging toggles the §4.3 adjacent-segment merger,
	// per spec.md §6 cloud_storage_enable_segment_merging.
	EnableSegmentMerging bool `yaml:"enable_segment_merging"`

	// SpilloverMaxSegments and SpilloverMaxSize are the housekeeping
	// spill triggers of spec.md §6
	// cloud_storage_spillover_manifest_{max_segments,size}. Either one
	// set to 0 disables that trigger.
	SpilloverMaxSegments int   `yaml:"spillover_manifest_max_segments"`
	SpilloverMaxSize     int64 `yaml:"spillover_manifest_size"`
}

// RegisterFlagsAndApplyDefaults registers f under prefix and fills in the
// defaults the teacher's config structs apply before flag parsing.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.UploadInterval = 30 * time.Second
	c.HousekeepingInterval = 5 * time.Minute
	c.RetentionInterval = time.Minute
	c.MaxUploadedSegmentSize = 256 << 20
	c.ManifestCacheTTL = 5 * time.Minute
	c.EnableSegmentMerging = true
	c.SpilloverMaxSegments = 1000
	c.SpilloverMaxSize = 1 << 30

	f.DurationVar(&c.UploadInterval, prefix+".upload-interval", c.UploadInterval, "How often to look for newly flushed local segments to upload.")
	f.DurationVar(&c.HousekeepingInterval, prefix+".housekeeping-interval", c.HousekeepingInterval, "How often to run the adjacent-segment merger and evaluate spillover.")
	f.DurationVar(&c.RetentionInterval, prefix+".retention-interval", c.RetentionInterval, "How often to evaluate and apply retention.")
	f.Int64Var(&c.MaxUploadedSegmentSize, prefix+".max-uploaded-segment-size", c.MaxUploadedSegmentSize, "Maximum bytes the adjacent-segment merger will bundle into one re-uploaded segment.")
	f.DurationVar(&c.ManifestCacheTTL, prefix+".manifest-cache-ttl", c.ManifestCacheTTL, "Not read by the archiver; manifest view cursors expire after -manifest.cursor-ttl.")
	f.BoolVar(&c.EnableSegmentMerging, prefix+".enable-segment-merging", c.EnableSegmentMerging, "Enable the adjacent-segment merger housekeeping job.")
	f.IntVar(&c.SpilloverMaxSegments, prefix+".spillover-manifest-max-segments", c.SpilloverMaxSegments, "Spill the STM manifest tail once it holds more than this many segments. 0 disables this trigger.")
	f.Int64Var(&c.SpilloverMaxSize, prefix+".spillover-manifest-size", c.SpilloverMaxSize, "Spill the STM manifest tail once its segments' total size exceeds this many bytes. 0 disables this trigger.")
}
