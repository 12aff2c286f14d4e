package audit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	dErrors "devguard/pkg/domain-errors"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the per-line GCM nonce length in bytes.
	NonceSize = 16
	tagSize   = 16
)

// Envelope is the stored form of one shadow line. All fields are hex encoded.
type Envelope struct {
	IV      string `json:"iv"`
	AuthTag string `json:"authTag"`
	Data    string `json:"data"`
}

// Cipher seals and opens shadow lines with AES-256-GCM. It is safe for
// concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a cipher from a 256-bit key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "shadow key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create block cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext []byte) (Envelope, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - tagSize
	return Envelope{
		IV:      hex.EncodeToString(nonce),
		AuthTag: hex.EncodeToString(sealed[split:]),
		Data:    hex.EncodeToString(sealed[:split]),
	}, nil
}

// Decrypt verifies the tag and returns the plaintext. Any tampering with the
// nonce, tag or ciphertext, or a wrong key, yields CodeDecryption and no
// plaintext.
func (c *Cipher) Decrypt(env Envelope) ([]byte, error) {
	nonce, err := hex.DecodeString(env.IV)
	if err != nil || len(nonce) != NonceSize {
		return nil, dErrors.New(dErrors.CodeDecryption, "invalid nonce")
	}
	tag, err := hex.DecodeString(env.AuthTag)
	if err != nil || len(tag) != tagSize {
		return nil, dErrors.New(dErrors.CodeDecryption, "invalid authentication tag")
	}
	data, err := hex.DecodeString(env.Data)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeDecryption, "invalid ciphertext encoding")
	}
	sealed := make([]byte, 0, len(data)+len(tag))
	sealed = append(sealed, data...)
	sealed = append(sealed, tag...)
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDecryption, "authentication failed")
	}
	return plaintext, nil
}
