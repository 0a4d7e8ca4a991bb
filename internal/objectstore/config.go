package objectstore

import (
	"context"
	"flag"
	"fmt"

	"github.com/cloudlog-io/archiver/internal/retrychain"
)

// Config selects and configures one of the backends, following the
// teacher pack's single-"Backend" selector switch convention.
type Config struct {
	Backend string `yaml:"backend"`

	Local LocalConfig `yaml:"local"`
	S3    S3Config    `yaml:"s3"`
	GCS   GCSConfig   `yaml:"gcs"`
	Azure AzureConfig `yaml:"azure"`

	// RetryChain configures the shared per-core client pool used by the
	// s3 and azure backends. GCS is excluded; see NewGCS.
	RetryChain retrychain.PoolConfig `yaml:"retry_chain"`
}

// RegisterFlagsAndApplyDefaults registers f under prefix.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Backend = "local"
	c.Local.Path = "./archiver-data"

	f.StringVar(&c.Backend, prefix+".backend", c.Backend, "Object store backend: local, s3, gcs, or azure.")
	f.StringVar(&c.Local.Path, prefix+".local.path", c.Local.Path, "Root directory for the local backend.")
	f.StringVar(&c.S3.Endpoint, prefix+".s3.endpoint", c.S3.Endpoint, "S3-compatible endpoint.")
	f.StringVar(&c.S3.Bucket, prefix+".s3.bucket", c.S3.Bucket, "S3 bucket name.")
	f.StringVar(&c.GCS.BucketName, prefix+".gcs.bucket", c.GCS.BucketName, "GCS bucket name.")
	f.StringVar(&c.Azure.StorageAccountName, prefix+".azure.account", c.Azure.StorageAccountName, "Azure storage account name.")
	f.StringVar(&c.Azure.ContainerName, prefix+".azure.container", c.Azure.ContainerName, "Azure blob container name.")
	c.RetryChain.RegisterFlagsAndApplyDefaults(prefix+".retry-chain", f)
}

// New constructs the ObjectStore selected by cfg.Backend. For the s3 and
// azure backends it first builds a shared retrychain.Pool from
// cfg.RetryChain and threads it into the client constructor.
func New(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.Local)
	case "s3":
		pool, err := retrychain.NewPool(cfg.RetryChain)
		if err != nil {
			return nil, err
		}
		return NewS3(cfg.S3, pool)
	case "gcs":
		return NewGCS(ctx, cfg.GCS)
	case "azure":
		pool, err := retrychain.NewPool(cfg.RetryChain)
		if err != nil {
			return nil, err
		}
		return NewAzure(cfg.Azure, pool)
	default:
		return nil, fmt.Errorf("objectstore: unknown backend %q", cfg.Backend)
	}
}
