package encryption

import (
	"fmt"

	"notesync/internal/config"
	"notesync/internal/notesync"
)

// Encryptor is a bundle encryptor that also manages its keys.
type Encryptor interface {
	notesync.Encryptor
	// Setup creates keys protected by passphrase.
	Setup(passphrase string) error
	// Unlock opens the private key for the current session.
	Unlock(passphrase string) (notesync.Decryptor, error)
	// IsConfigured reports whether keys exist.
	IsConfigured() bool
}

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// Type "none" (or empty) disables encryption and returns nil.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
