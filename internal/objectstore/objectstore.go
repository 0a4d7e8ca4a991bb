// Package objectstore implements spec.md §6's object store interface and
// its concrete backends (local filesystem, S3, GCS, Azure blob storage),
// generalized from friggdb/backend's block-ID/tenant-ID-keyed Reader/
// Writer split down to a plain key/value blob store: the archival
// engine's keys are remote-path-provider-derived strings (manifest paths,
// spillover shard paths, segment paths), not block UUIDs.
package objectstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get/GetRange when key does not exist.
var ErrNotFound = errors.New("objectstore: object not found")

// ObjectStore is the narrow read/write/list surface the archival engine
// needs from whichever cloud object store (or local disk, in
// single-node/test deployments) backs a cluster.
type ObjectStore interface {
	// Put uploads data under key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// PutStream uploads sizeBytes from r under key. Only the S3 backend
	// passes sizeBytes on, as the object's content length; the local, GCS
	// and Azure backends ignore it.
	PutStream(ctx context.Context, key string, r io.Reader, sizeBytes int64) error

	// Get downloads the full object at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetRange downloads [offset, offset+length) of the object at key.
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)

	// List returns keys with the given prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object at key. It is not an error if key does
	// not exist, matching the object stores' own delete semantics.
	Delete(ctx context.Context, key string) error
}
