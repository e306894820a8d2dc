package testutil

import (
	"notesync/internal/encryption"
)

// NewTestEncryptor creates a deterministic, keyless encryptor.
func NewTestEncryptor() encryption.Encryptor {
	return encryption.NewTestEncryptor()
}
