package notesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"notesync/internal/bundle"
)

// Object metadata keys attached to bundle objects.
const (
	MetaBundleSHA256     = "bundle-sha256"
	MetaSyncID           = "sync-id"
	MetaSourceKey        = "source-key"
	MetaNoteSHA256       = "note-sha256"
	MetaTranscriptSHA256 = "transcript-sha256"
	MetaEncryption       = "encryption"
)

// Default key prefixes inside a scope's bucket.
const (
	DefaultObjectPrefix    = "bundles/"
	DefaultTombstonePrefix = "tombstones/"
)

// BundleInfo summarizes a stored bundle from its metadata.
type BundleInfo struct {
	Key              string
	Hash             string
	NoteSHA256       string
	TranscriptSHA256 string
	Encryption       string
	Size             int64
}

// Tombstone marks an identity as logically deleted.
type Tombstone struct {
	Version      int    `json:"version"`
	SourceKey    string `json:"source_key"`
	SyncID       string `json:"sync_id"`
	DeletedAtMs  int64  `json:"deleted_at_ms"`
	Profile      string `json:"profile"`
	BundleSHA256 string `json:"bundle_sha256,omitempty"`
}

// BundleStore layers bundle and tombstone semantics over an ObjectStore.
type BundleStore struct {
	store           ObjectStore
	objectPrefix    string
	tombstonePrefix string
	encryptor       Encryptor
	decryptor       Decryptor
}

// BundleStoreOption configures a BundleStore.
type BundleStoreOption func(*BundleStore)

// WithPrefixes overrides the bundle and tombstone key prefixes.
func WithPrefixes(objectPrefix, tombstonePrefix string) BundleStoreOption {
	return func(b *BundleStore) {
		if objectPrefix != "" {
			b.objectPrefix = objectPrefix
		}
		if tombstonePrefix != "" {
			b.tombstonePrefix = tombstonePrefix
		}
	}
}

// WithEncryption encrypts bundles on write. dec may be nil when the session
// only pushes.
func WithEncryption(enc Encryptor, dec Decryptor) BundleStoreOption {
	return func(b *BundleStore) {
		b.encryptor = enc
		b.decryptor = dec
	}
}

// NewBundleStore wraps store.
func NewBundleStore(store ObjectStore, opts ...BundleStoreOption) *BundleStore {
	b := &BundleStore{
		store:           store,
		objectPrefix:    DefaultObjectPrefix,
		tombstonePrefix: DefaultTombstonePrefix,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BundleKey returns prefix + sync_id + ".zip".
func (b *BundleStore) BundleKey(syncID string) string {
	return b.objectPrefix + syncID + ".zip"
}

// TombstoneKey returns tombstone prefix + sync_id + ".json".
func (b *BundleStore) TombstoneKey(syncID string) string {
	return b.tombstonePrefix + syncID + ".json"
}

// Location names the backing bucket.
func (b *BundleStore) Location() string { return b.store.Location() }

// Exists reports whether the bundle for syncID is stored.
func (b *BundleStore) Exists(ctx context.Context, syncID string) (bool, error) {
	info, err := b.Stat(ctx, syncID)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

// Stat returns the bundle's metadata summary, or nil when absent.
func (b *BundleStore) Stat(ctx context.Context, syncID string) (*BundleInfo, error) {
	key := b.BundleKey(syncID)
	oi, err := b.store.Stat(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat bundle %s: %w", key, err)
	}
	return bundleInfo(oi), nil
}

func bundleInfo(oi *ObjectInfo) *BundleInfo {
	return &BundleInfo{
		Key:              oi.Key,
		Hash:             metaValue(oi.Metadata, MetaBundleSHA256),
		NoteSHA256:       metaValue(oi.Metadata, MetaNoteSHA256),
		TranscriptSHA256: metaValue(oi.Metadata, MetaTranscriptSHA256),
		Encryption:       metaValue(oi.Metadata, MetaEncryption),
		Size:             oi.Size,
	}
}

// metaValue looks a key up case-insensitively, accepting the x-amz-meta-
// form some S3-compatible servers echo back.
func metaValue(md map[string]string, key string) string {
	if v, ok := md[key]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range md {
		lk := strings.ToLower(strings.TrimSpace(k))
		if lk == key || lk == "x-amz-meta-"+key {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Get returns the plaintext archive and its info. It fails with ErrNotFound
// when absent and ErrCorruptBundle when the content does not match the
// recorded hash.
func (b *BundleStore) Get(ctx context.Context, syncID string) ([]byte, *BundleInfo, error) {
	key := b.BundleKey(syncID)
	data, oi, err := b.store.Get(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("get bundle %s: %w", key, err)
	}
	info := bundleInfo(oi)

	if info.Encryption != "" {
		if b.decryptor == nil {
			return nil, nil, fmt.Errorf("bundle %s is encrypted with %s and no key is unlocked", key, info.Encryption)
		}
		if data, err = b.decryptor.Decrypt(data); err != nil {
			return nil, nil, fmt.Errorf("%w: decrypting %s: %w", ErrCorruptBundle, key, err)
		}
	}

	got := bundle.Hash(data)
	if info.Hash == "" {
		info.Hash = got
	} else if info.Hash != got {
		return nil, nil, fmt.Errorf("%w: %s hash %s, metadata says %s", ErrCorruptBundle, key, got, info.Hash)
	}
	return data, info, nil
}

// Put stores the encoded bundle under id. It is a no-op when an object with
// the same bundle hash is already stored and reports whether it uploaded.
func (b *BundleStore) Put(ctx context.Context, id Identity, bn *bundle.Bundle) (bool, error) {
	existing, err := b.Stat(ctx, id.SyncID)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.Hash == bn.Hash {
		return false, nil
	}

	md := map[string]string{
		MetaBundleSHA256: bn.Hash,
		MetaSyncID:       id.SyncID,
		MetaSourceKey:    id.SourceKey,
	}
	if h := bn.NoteSHA256(); h != "" {
		md[MetaNoteSHA256] = h
	}
	if h := bn.TranscriptSHA256(); h != "" {
		md[MetaTranscriptSHA256] = h
	}

	data := bn.Data
	if b.encryptor != nil {
		if data, err = b.encryptor.Encrypt(bn.Data); err != nil {
			return false, fmt.Errorf("encrypting bundle: %w", err)
		}
		md[MetaEncryption] = b.encryptor.Scheme()
	}

	key := b.BundleKey(id.SyncID)
	if err := b.store.Put(ctx, key, data, "application/zip", md); err != nil {
		return false, fmt.Errorf("put bundle %s: %w", key, err)
	}
	return true, nil
}

// TombstoneExists reports whether id is marked deleted.
func (b *BundleStore) TombstoneExists(ctx context.Context, syncID string) (bool, error) {
	key := b.TombstoneKey(syncID)
	_, err := b.store.Stat(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat tombstone %s: %w", key, err)
	}
	return true, nil
}

// ReadTombstone returns the tombstone for syncID, or nil when absent.
func (b *BundleStore) ReadTombstone(ctx context.Context, syncID string) (*Tombstone, error) {
	key := b.TombstoneKey(syncID)
	data, _, err := b.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tombstone %s: %w", key, err)
	}
	var t Tombstone
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing tombstone %s: %w", key, err)
	}
	return &t, nil
}

// WriteTombstone marks the identity as deleted.
func (b *BundleStore) WriteTombstone(ctx context.Context, t Tombstone) error {
	if t.Version == 0 {
		t.Version = 1
	}
	data, err := bundle.CanonicalJSON(t)
	if err != nil {
		return fmt.Errorf("encoding tombstone: %w", err)
	}
	key := b.TombstoneKey(t.SyncID)
	if err := b.store.Put(ctx, key, data, "application/json", nil); err != nil {
		return fmt.Errorf("put tombstone %s: %w", key, err)
	}
	return nil
}

// ClearTombstone removes the deletion marker. Clearing an absent tombstone
// is a no-op.
func (b *BundleStore) ClearTombstone(ctx context.Context, syncID string) error {
	key := b.TombstoneKey(syncID)
	if err := b.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete tombstone %s: %w", key, err)
	}
	return nil
}
