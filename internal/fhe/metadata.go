package fhe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// MetadataHandle is a non-serializable handle to the process's AES-256-GCM
// metadata key. It carries the same no-leak guarantees as
// SecretHandle: no exported fields, no String/Marshal methods.
type MetadataHandle struct {
	key []byte
}

// NewMetadataHandle wraps a raw 32-byte key. Used by the key store both for
// freshly generated keys and for keys loaded back from MetadataKey.json.
func NewMetadataHandle(key []byte) (*MetadataHandle, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("fhe: metadata key must be 32 bytes, got %d", len(key))
	}
	cp := make([]byte, 32)
	copy(cp, key)
	return &MetadataHandle{key: cp}, nil
}

// GenerateMetadataKey draws a fresh AES-256 key from the OS CSPRNG.
func GenerateMetadataKey() (*MetadataHandle, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("fhe: generating metadata key: %w", err)
	}
	return &MetadataHandle{key: key}, nil
}

// MarshalForStorage returns the raw key bytes for the key store to persist
// to MetadataKey.json at mode 0600. No other caller should use this method.
func (h *MetadataHandle) MarshalForStorage() []byte {
	cp := make([]byte, len(h.key))
	copy(cp, h.key)
	return cp
}

func (h *MetadataHandle) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(h.key)
	if err != nil {
		return nil, fmt.Errorf("fhe: building AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// SealMetadata encrypts plaintext metadata bytes. The wire format is
// nonce || ciphertext||tag, the same layout the key wrapping in the
// surrounding ecosystem uses (a GCM nonce prefix, no separate envelope
// header. Metadata blobs are opaque and single-use, unlike a rotating key
// wrap, so there is no provider-id field to carry).
func (h *MetadataHandle) SealMetadata(plaintext, aad []byte) ([]byte, error) {
	gcm, err := h.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("fhe: generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// OpenMetadata authenticates and decrypts a WrappedMetadata blob.
// Authentication failure (bad key, truncated blob, tampered bytes) and
// malformed-input all return a plain error; the caller folds every failure
// mode into vaulterr.InvalidInput; this function does not distinguish
// "wrong key" from "corrupt ciphertext" in its return value.
func (h *MetadataHandle) OpenMetadata(wrapped, aad []byte) ([]byte, error) {
	gcm, err := h.aead()
	if err != nil {
		return nil, err
	}
	if len(wrapped) < gcm.NonceSize() {
		return nil, fmt.Errorf("fhe: wrapped metadata shorter than nonce")
	}
	nonce, ct := wrapped[:gcm.NonceSize()], wrapped[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("fhe: metadata authentication failed: %w", err)
	}
	return pt, nil
}
