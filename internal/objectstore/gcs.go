package objectstore

import (
	"context"
	"io"
	"io/ioutil"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSConfig configures the Google Cloud Storage backend, adapted from
// friggdb/backend/gcs.Config.
type GCSConfig struct {
	BucketName      string `yaml:"bucket_name"`
	ChunkBufferSize int    `yaml:"chunk_buffer_size"`
}

// gcsStore is a direct generalization of friggdb/backend/gcs's
// readerWriter: the same bucket handle and writer/reader helpers, keyed
// by an arbitrary object name instead of a (blockID, tenantID) path.
type gcsStore struct {
	cfg    GCSConfig
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCS returns an ObjectStore backed by GCS bucket cfg.BucketName.
//
// Unlike the S3 backend, this does not accept a shared retrychain.Pool:
// the GCS client library wraps its transport with its own
// credential-refreshing round-tripper via Application Default
// Credentials, and substituting a plain *http.Client for it (as
// option.WithHTTPClient requires) would silently drop that auth wrapper.
// GCS's own client already retries idempotent operations internally.
func NewGCS(ctx context.Context, cfg GCSConfig) (ObjectStore, error) {
	if cfg.ChunkBufferSize <= 0 {
		cfg.ChunkBufferSize = 2 << 20
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &gcsStore{cfg: cfg, client: client, bucket: client.Bucket(cfg.BucketName)}, nil
}

func (g *gcsStore) Put(ctx context.Context, key string, data []byte) error {
	w := g.writer(ctx, key)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (g *gcsStore) PutStream(ctx context.Context, key string, r io.Reader, _ int64) error {
	w := g.writer(ctx, key)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (g *gcsStore) writer(ctx context.Context, key string) *storage.Writer {
	w := g.bucket.Object(key).NewWriter(ctx)
	w.ChunkSize = g.cfg.ChunkBufferSize
	return w
}

func (g *gcsStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.bucket.Object(key).NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ioutil.ReadAll(r)
}

func (g *gcsStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	r, err := g.bucket.Object(key).NewRangeReader(ctx, offset, length)
	if err == storage.ErrObjectNotExist {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ioutil.ReadAll(r)
}

func (g *gcsStore) List(ctx context.Context, prefix string) ([]string, error) {
	iter := g.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return keys, err
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (g *gcsStore) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(key).Delete(ctx)
	if err == storage.ErrObjectNotExist {
		return nil
	}
	return err
}
