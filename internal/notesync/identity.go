package notesync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Identity names one note-generation event for one video.
type Identity struct {
	Platform    string
	VideoID     string
	CreatedAtMs int64
	SourceKey   string
	SyncID      string
}

// DeriveSourceKey returns "platform:video_id:created_at_ms".
func DeriveSourceKey(platform, videoID string, createdAtMs int64) (string, error) {
	p := strings.TrimSpace(platform)
	v := strings.TrimSpace(videoID)
	if p == "" {
		return "", fmt.Errorf("%w: empty platform", ErrInvalidIdentity)
	}
	if v == "" {
		return "", fmt.Errorf("%w: empty video id", ErrInvalidIdentity)
	}
	if strings.Contains(p, ":") {
		return "", fmt.Errorf("%w: platform %q contains ':'", ErrInvalidIdentity, p)
	}
	if createdAtMs < 0 {
		return "", fmt.Errorf("%w: negative created_at_ms %d", ErrInvalidIdentity, createdAtMs)
	}
	return p + ":" + v + ":" + strconv.FormatInt(createdAtMs, 10), nil
}

// DeriveSyncID returns the hex sha256 of the UTF-8 bytes of sourceKey.
// It is only used to address storage and is never reversed.
func DeriveSyncID(sourceKey string) string {
	sum := sha256.Sum256([]byte(sourceKey))
	return hex.EncodeToString(sum[:])
}

// NewIdentity derives both keys for a generation event.
func NewIdentity(platform, videoID string, createdAtMs int64) (Identity, error) {
	key, err := DeriveSourceKey(platform, videoID, createdAtMs)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		Platform:    strings.TrimSpace(platform),
		VideoID:     strings.TrimSpace(videoID),
		CreatedAtMs: createdAtMs,
		SourceKey:   key,
		SyncID:      DeriveSyncID(key),
	}, nil
}

// ParseSourceKey splits a source key back into its components. The video id
// may itself contain ':'; the platform is the first segment and the
// timestamp the last.
func ParseSourceKey(sourceKey string) (Identity, error) {
	key := strings.TrimSpace(sourceKey)
	first := strings.Index(key, ":")
	last := strings.LastIndex(key, ":")
	if first < 0 || first == last {
		return Identity{}, fmt.Errorf("%w: malformed source key %q", ErrInvalidIdentity, sourceKey)
	}
	ms, err := strconv.ParseInt(key[last+1:], 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: source key %q has no created_at_ms", ErrInvalidIdentity, sourceKey)
	}
	return NewIdentity(key[:first], key[first+1:last], ms)
}

// WithCreatedAt returns the identity of another generation of the same video.
func (id Identity) WithCreatedAt(createdAtMs int64) (Identity, error) {
	return NewIdentity(id.Platform, id.VideoID, createdAtMs)
}

func (id Identity) String() string { return id.SourceKey }
