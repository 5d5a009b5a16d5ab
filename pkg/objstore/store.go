// Package objstore reads and writes the bucket the data vendor delivers
// snapshots into. GCS is used in production; a directory-backed store serves
// local development and tests.
package objstore

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

var (
	// ErrNotExist is returned by Get when the key is absent.
	ErrNotExist = eris.New("objstore: object does not exist")
	// ErrBucketNotExist means the configured bucket is missing. Retrying
	// will not help.
	ErrBucketNotExist = eris.New("objstore: bucket does not exist")
)

// Object describes a stored object.
type Object struct {
	Key     string
	Size    int64
	Updated time.Time
}

// Store is a flat key/value object store. Delete of a missing key is not an
// error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
}
