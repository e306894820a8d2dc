package notesync

import (
	"errors"

	"notesync/internal/bundle"
)

// Error taxonomy shared by every adapter and operation. Adapters wrap one of
// these so callers can classify failures with errors.Is.
var (
	// ErrNotFound means an object, document or record is absent.
	ErrNotFound = errors.New("not found")
	// ErrUnreachable means a store could not be reached or refused the
	// credentials. It is retryable and never means "absent".
	ErrUnreachable = errors.New("unreachable")
	// ErrCorruptBundle means an archive failed to decode or verify.
	ErrCorruptBundle = bundle.ErrCorrupt
	// ErrBundleMissing means the remote index has content but the object
	// store holds no bundle for the identity.
	ErrBundleMissing = errors.New("bundle missing")
	// ErrNoContent means a push had nothing to upload.
	ErrNoContent = errors.New("no content to push")
	// ErrConflictingWrite means a push or pull would overwrite divergent
	// content without an explicit overwrite or fork.
	ErrConflictingWrite = errors.New("conflicting write")
	// ErrTombstoned means the identity was deleted remotely.
	ErrTombstoned = errors.New("identity is tombstoned")
	// ErrInvalidIdentity means a source key could not be derived or parsed.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
