package notesync

import (
	"context"
	"time"
)

// ObjectInfo describes a stored object without its content.
type ObjectInfo struct {
	Key      string
	Size     int64
	ModTime  time.Time
	Metadata map[string]string
}

// ObjectStore is a key-value blob store bound to one bucket or namespace.
// Implementations report a missing key with ErrNotFound and network or
// credential failures with ErrUnreachable.
type ObjectStore interface {
	// Stat returns the object's info, or ErrNotFound.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	// Get returns the object's content and info, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, *ObjectInfo, error)
	// Put writes the object, replacing any previous content. The namespace
	// is created on first write when it does not exist yet.
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Location names the bucket or directory backing the store, for logs.
	Location() string
}

// Encryptor encrypts bundle objects at rest.
type Encryptor interface {
	// Encrypt returns ciphertext for data using the public key only.
	Encrypt(data []byte) ([]byte, error)
	// Scheme is recorded in object metadata so readers know how to decrypt.
	Scheme() string
}

// Decryptor reverses an Encryptor for one session.
type Decryptor interface {
	Decrypt(data []byte) ([]byte, error)
}
