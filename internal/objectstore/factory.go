package objectstore

import (
	"context"
	"fmt"
	"time"

	"notesync/internal/config"
	"notesync/internal/notesync"
)

// DefaultTimeout bounds a network store call when no timeout is configured.
const DefaultTimeout = 60 * time.Second

func callTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

// NewObjectStoreFromConfig creates an ObjectStore implementation based on the
// object store config type. profile names the scope the store belongs to and
// feeds the derived bucket name.
func NewObjectStoreFromConfig(ctx context.Context, profile string, cfg config.ObjectStoreConfig) (notesync.ObjectStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(profile), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem object store requires root to be set")
		}
		s, err := NewFileSystemStore(cfg.Root)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "s3":
		bucket, err := BucketName(cfg.BucketPrefix, profile, cfg.Bucket)
		if err != nil {
			return nil, err
		}
		s, err := NewS3Store(ctx, S3Options{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Secure:    cfg.Secure,
			Bucket:    bucket,
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "gcs":
		bucket, err := BucketName(cfg.BucketPrefix, profile, cfg.Bucket)
		if err != nil {
			return nil, err
		}
		s, err := NewGCSStore(ctx, GCSOptions{
			Bucket:          bucket,
			ProjectID:       cfg.ProjectID,
			Endpoint:        cfg.Endpoint,
			CredentialsFile: cfg.CredentialsFile,
			Timeout:         time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown object store type: %s", cfg.Type)
	}
}
