package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig configures a GCSStore. Credentials may be a file path or inline
// JSON; empty means application default credentials. Endpoint points the
// client at an emulator and disables authentication.
type GCSConfig struct {
	Bucket      string
	Credentials string
	Endpoint    string
}

// GCSStore is a Store backed by one Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a GCSStore.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("objstore: gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, clientOptions(cfg)...)
	if err != nil {
		return nil, eris.Wrap(err, "objstore: create gcs client")
	}
	return &GCSStore{client: client, bucket: cfg.Bucket}, nil
}

func clientOptions(cfg GCSConfig) []option.ClientOption {
	if cfg.Endpoint != "" {
		return []option.ClientOption{
			option.WithEndpoint(cfg.Endpoint),
			option.WithoutAuthentication(),
		}
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	creds := strings.TrimSpace(cfg.Credentials)
	switch {
	case creds == "":
	case strings.HasPrefix(creds, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	default:
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}

// Get downloads the object at key.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError(err, "objstore: open "+key)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(err, "objstore: read %s", key)
	}
	return data, nil
}

// Put uploads data to key, replacing any existing object.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if strings.HasSuffix(key, ".gz") {
		w.ContentType = "application/gzip"
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return eris.Wrapf(err, "objstore: write %s", key)
	}
	if err := w.Close(); err != nil {
		return eris.Wrapf(err, "objstore: close writer %s", key)
	}
	return nil
}

// List returns objects whose key starts with prefix.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]Object, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, mapGCSError(err, fmt.Sprintf("objstore: list %q", prefix))
		}
		out = append(out, Object{Key: attrs.Name, Size: attrs.Size, Updated: attrs.Updated})
	}
	return out, nil
}

// Delete removes key.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return eris.Wrapf(err, "objstore: delete %s", key)
	}
	return nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func mapGCSError(err error, msg string) error {
	if errors.Is(err, storage.ErrBucketNotExist) {
		return eris.Wrap(ErrBucketNotExist, msg)
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return eris.Wrap(ErrNotExist, msg)
	}
	return eris.Wrap(err, msg)
}
