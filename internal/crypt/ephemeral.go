package crypt

import (
	"fmt"

	"pkt.systems/kryptograf"
)

// NewEphemeral mints a throwaway cipher backed by a fresh root key.
// Nothing is persisted; intended for tests and one-shot tooling.
func NewEphemeral() (*Cipher, error) {
	root := kryptograf.MustGenerateRootKey()
	kg := kryptograf.New(root)
	mat, err := kg.MintDEK(payloadContext)
	if err != nil {
		return nil, fmt.Errorf("crypt: mint ephemeral material: %w", err)
	}
	return &Cipher{kg: kg, material: mat}, nil
}
