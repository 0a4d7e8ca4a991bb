package placement

import (
	"flag"
	"time"
)

// Config tunes the reconciler's scheduling cadence.
type Config struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// RegisterFlagsAndApplyDefaults registers f under prefix.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.ReconcileInterval = 5 * time.Second
	f.DurationVar(&c.ReconcileInterval, prefix+".reconcile-interval", c.ReconcileInterval, "How often to reconcile shard placement against assigned targets.")
}
