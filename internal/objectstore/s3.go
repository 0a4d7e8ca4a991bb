package objectstore

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cloudlog-io/archiver/internal/retrychain"
)

// S3Config configures the S3-compatible backend, following the teacher
// pack's minio-go-based S3 backend's credential precedence (static keys,
// else the chain the library resolves on its own).
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Insecure  bool   `yaml:"insecure"`
	PartSize  uint64 `yaml:"part_size"`
}

// s3Store wraps a minio-go/v7 client, generalized from the teacher pack's
// S3 backend down to a plain key/value blob store.
type s3Store struct {
	cfg    S3Config
	client *minio.Client
}

// NewS3 returns an ObjectStore backed by the S3-compatible endpoint in
// cfg. When pool is non-nil, the client issues requests through its
// hedged, breaker-guarded transport instead of minio-go's default one,
// per spec.md §9's "the object-store client pool is shared per core" —
// minio-go signs requests as a wrapper around whatever http.RoundTripper
// it's given, so this swap doesn't touch credentials the way it would
// for the GCS client.
func NewS3(cfg S3Config, pool *retrychain.Pool) (ObjectStore, error) {
	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}

	opts := &minio.Options{
		Creds:  creds,
		Secure: !cfg.Insecure,
	}
	if pool != nil {
		opts.Transport = pool.HTTPClient().Transport
	}

	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, err
	}
	return &s3Store{cfg: cfg, client: client}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

func (s *s3Store) PutStream(ctx context.Context, key string, r io.Reader, sizeBytes int64) error {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, r, sizeBytes, minio.PutObjectOptions{})
	return err
}

func (s *s3Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateS3Err(err)
	}
	defer obj.Close()
	b, err := ioutil.ReadAll(obj)
	return b, translateS3Err(err)
}

func (s *s3Store) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, key, opts)
	if err != nil {
		return nil, translateS3Err(err)
	}
	defer obj.Close()
	b, err := ioutil.ReadAll(obj)
	return b, translateS3Err(err)
}

func (s *s3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return keys, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{})
}

func translateS3Err(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}
