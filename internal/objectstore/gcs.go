package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"notesync/internal/notesync"
)

// GCSOptions configures a Google Cloud Storage store.
type GCSOptions struct {
	Bucket          string
	ProjectID       string // required to create the bucket
	Endpoint        string // emulator endpoint; disables authentication
	CredentialsFile string
	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration
}

// GCSStore implements notesync.ObjectStore on one GCS bucket.
type GCSStore struct {
	client    *storage.Client
	bucket    string
	projectID string
	timeout   time.Duration

	mu      sync.Mutex
	ensured bool
}

// NewGCSStore creates a storage client from opts.
func NewGCSStore(ctx context.Context, opts GCSOptions) (*GCSStore, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("gcs store requires a bucket")
	}

	var clientOpts []option.ClientOption
	if ep := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/"); ep != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(ep+"/storage/v1/"), option.WithoutAuthentication())
	} else {
		if opts.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
		}
		clientOpts = append(clientOpts, option.WithScopes(storage.ScopeReadWrite))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{
		client:    client,
		bucket:    opts.Bucket,
		projectID: opts.ProjectID,
		timeout:   callTimeout(opts.Timeout),
	}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (g *GCSStore) EnsureBucket(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ensured {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	b := g.client.Bucket(g.bucket)
	_, err := b.Attrs(ctx)
	if err == nil {
		g.ensured = true
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return classifyGCS("bucket attrs", g.bucket, err)
	}
	if g.projectID == "" {
		return fmt.Errorf("bucket %s does not exist and no project id is configured to create it", g.bucket)
	}
	if err := b.Create(ctx, g.projectID, nil); err != nil {
		return classifyGCS("create bucket", g.bucket, err)
	}
	g.ensured = true
	return nil
}

func (g *GCSStore) Stat(ctx context.Context, key string) (*notesync.ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	attrs, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx)
	if err != nil {
		return nil, classifyGCS("attrs", key, err)
	}
	return &notesync.ObjectInfo{
		Key:      key,
		Size:     attrs.Size,
		ModTime:  attrs.Updated,
		Metadata: attrs.Metadata,
	}, nil
}

func (g *GCSStore) Get(ctx context.Context, key string) ([]byte, *notesync.ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	info, err := g.Stat(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, nil, classifyGCS("read", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading %s: %w", notesync.ErrUnreachable, key, err)
	}
	info.Size = int64(len(data))
	return data, info, nil
}

func (g *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	if err := g.EnsureBucket(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return classifyGCS("write", key, err)
	}
	if err := w.Close(); err != nil {
		return classifyGCS("close writer", key, err)
	}
	return nil
}

func (g *GCSStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) && !errors.Is(err, storage.ErrBucketNotExist) {
		return classifyGCS("delete", key, err)
	}
	return nil
}

// Location returns the bucket URL.
func (g *GCSStore) Location() string {
	return "gs://" + g.bucket
}

// Close releases the storage client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

func classifyGCS(op, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%s %s: %w", op, key, notesync.ErrNotFound)
	}
	return fmt.Errorf("%w: gcs %s %s: %w", notesync.ErrUnreachable, op, key, err)
}

var _ notesync.ObjectStore = (*GCSStore)(nil)
