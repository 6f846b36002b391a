package integrations

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// CredentialKeyLen is the required byte length of the credential cipher key.
const CredentialKeyLen = chacha20poly1305.KeySize

var (
	// ErrInvalidCredentialKey indicates the configured key has the wrong length.
	ErrInvalidCredentialKey = errors.New("integrations: credential key must be 32 bytes")
	// ErrCredentialDecrypt indicates ciphertext that does not authenticate under the key.
	ErrCredentialDecrypt = errors.New("integrations: credential decryption failed")
)

// credentialCipher seals and opens workspace access tokens with
// XChaCha20-Poly1305 using a fresh random nonce per record.
type credentialCipher struct {
	key []byte
}

func newCredentialCipher(key []byte) (*credentialCipher, error) {
	if len(key) != CredentialKeyLen {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCredentialKey, len(key))
	}
	copied := make([]byte, len(key))
	copy(copied, key)
	return &credentialCipher{key: copied}, nil
}

// seal encrypts the plaintext and returns ciphertext and nonce separately so
// they can be persisted in distinct columns.
func (c *credentialCipher) seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (c *credentialCipher) open(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrCredentialDecrypt
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCredentialDecrypt
	}
	return plaintext, nil
}
