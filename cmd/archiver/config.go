package main

import (
	"flag"
	"time"

	"github.com/cloudlog-io/archiver/internal/archiver"
	"github.com/cloudlog-io/archiver/internal/objectstore"
)

// Config is the top-level config for one archiver process: it owns one
// partition's archival schedule against one object store backend, in the
// single-binary shape cmd/tempo/app.Config's multi-module config takes
// for a whole Tempo instance, narrowed to what this core needs.
type Config struct {
	Server struct {
		HTTPListenAddr string `yaml:"http_listen_addr"`
	} `yaml:"server"`

	Partition struct {
		Namespace string `yaml:"namespace"`
		Topic     string `yaml:"topic"`
		Partition int    `yaml:"partition"`
	} `yaml:"partition"`

	LocalLogDir string `yaml:"local_log_dir"`

	ManifestCacheBytes int64         `yaml:"manifest_cache_bytes"`
	ManifestCursorTTL  time.Duration `yaml:"manifest_cursor_ttl"`

	ObjectStore objectstore.Config `yaml:"storage"`
	Archiver    archiver.Config    `yaml:"archiver"`
}

// RegisterFlagsAndApplyDefaults fills in defaults and registers every
// nested config's flags under its own prefix, mirroring how
// cmd/tempo/app.Config composes its sub-module configs.
func (c *Config) RegisterFlagsAndApplyDefaults(f *flag.FlagSet) {
	c.Server.HTTPListenAddr = ":3400"
	c.LocalLogDir = "./archiver-data/local-log"
	c.ManifestCacheBytes = 64 << 20
	c.ManifestCursorTTL = 5 * time.Minute

	f.StringVar(&c.Server.HTTPListenAddr, "server.http-listen-address", c.Server.HTTPListenAddr, "HTTP address to serve the status page and metrics on.")
	f.StringVar(&c.Partition.Namespace, "partition.namespace", "", "Namespace of the partition this process archives.")
	f.StringVar(&c.Partition.Topic, "partition.topic", "", "Topic of the partition this process archives.")
	f.IntVar(&c.Partition.Partition, "partition.partition", 0, "Partition number this process archives.")
	f.StringVar(&c.LocalLogDir, "local-log-dir", c.LocalLogDir, "Directory of closed local segment files to archive.")
	f.Int64Var(&c.ManifestCacheBytes, "manifest.cache-bytes", c.ManifestCacheBytes, "Byte budget for the materialized spillover-shard cache.")
	f.DurationVar(&c.ManifestCursorTTL, "manifest.cursor-ttl", c.ManifestCursorTTL, "Idle duration after which a manifest view cursor expires.")

	c.ObjectStore.RegisterFlagsAndApplyDefaults("storage", f)
	c.Archiver.RegisterFlagsAndApplyDefaults("archiver", f)
}
