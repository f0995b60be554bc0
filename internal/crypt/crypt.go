// Package crypt encrypts and decrypts frame payloads with a pre-shared
// key bundle persisted next to the daemon. Only the payload is ever
// encrypted; the length prefix and header travel in the clear.
package crypt

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
)

// payloadDescriptorName identifies the payload descriptor stored in the
// key bundle.
const payloadDescriptorName = "gatesql/payload"

// payloadContext binds minted material to its purpose.
var payloadContext = []byte("gatesql/payload/v1")

// ErrDecrypt wraps any decryption failure. A request that fails to
// decrypt cannot be trusted, so callers treat this as fatal to the
// connection that produced it.
var ErrDecrypt = errors.New("crypt: payload decrypt failed")

// Cipher performs symmetric authenticated encryption of payload bytes.
// Read-only after construction; safe for concurrent use.
type Cipher struct {
	kg       kryptograf.Kryptograf
	material kryptograf.Material
}

// New builds a Cipher from root key material and the payload descriptor.
func New(root keymgmt.RootKey, desc keymgmt.Descriptor) (*Cipher, error) {
	kg := kryptograf.New(root)
	mat, err := kg.ReconstructDEK(payloadContext, desc)
	if err != nil {
		return nil, fmt.Errorf("crypt: reconstruct payload material: %w", err)
	}
	return &Cipher{kg: kg, material: mat}, nil
}

// Encrypt returns the authenticated ciphertext of plaintext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.kg.EncryptWriter(&buf, c.material)
	if err != nil {
		return nil, fmt.Errorf("crypt: encrypt: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		w.Close()
		return nil, fmt.Errorf("crypt: encrypt write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("crypt: encrypt close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt authenticates and decrypts ciphertext. Tampered or malformed
// input fails with ErrDecrypt.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	r, err := c.kg.DecryptReader(bytes.NewReader(ciphertext), c.material)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	defer r.Close()
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
