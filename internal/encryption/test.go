package encryption

import (
	"bytes"
	"fmt"

	"notesync/internal/notesync"
)

// SchemeTest is recorded in object metadata for TestEncryptor output.
const SchemeTest = "test"

// testHeader is prepended by TestEncryptor so ciphertext differs from
// plaintext while staying deterministic and reversible.
var testHeader = []byte("NSENC\x00\x00\x00")

// TestEncryptor prepends a fixed 8-byte header on encrypt and strips it on
// decrypt. It needs no keys.
type TestEncryptor struct {
	setupCalled bool
}

var _ Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a new TestEncryptor.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Scheme() string { return SchemeTest }

func (e *TestEncryptor) Setup(passphrase string) error {
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) Encrypt(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(testHeader)+len(data))
	out = append(out, testHeader...)
	return append(out, data...), nil
}

func (e *TestEncryptor) Unlock(passphrase string) (notesync.Decryptor, error) {
	return TestDecryptor{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptor strips the header added by TestEncryptor.
type TestDecryptor struct{}

var _ notesync.Decryptor = TestDecryptor{}

func (TestDecryptor) Decrypt(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return bytes.Clone(data[len(testHeader):]), nil
}
