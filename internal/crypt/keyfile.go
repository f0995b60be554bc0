package crypt

import (
	"fmt"

	"pkt.systems/kryptograf/keymgmt"
)

// EnsureKeyBundle loads the PEM key bundle at path, minting and
// persisting a root key and payload descriptor on first run. Every
// subsequent start reads back the same material, so all deployed
// clients keep working across restarts.
func EnsureKeyBundle(path string) (*Cipher, error) {
	store, err := keymgmt.LoadPEM(path)
	if err != nil {
		return nil, fmt.Errorf("crypt: load key bundle %s: %w", path, err)
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		return nil, fmt.Errorf("crypt: ensure root key: %w", err)
	}
	mat, err := store.EnsureDescriptor(payloadDescriptorName, root, payloadContext)
	if err != nil {
		return nil, fmt.Errorf("crypt: ensure payload descriptor: %w", err)
	}
	if err := store.Commit(); err != nil {
		return nil, fmt.Errorf("crypt: commit key bundle %s: %w", path, err)
	}
	return New(root, mat.Descriptor)
}

// BundleMaterial reads the root key and payload descriptor from an
// existing bundle without creating anything. Client tooling uses this to
// share the server's key file.
func BundleMaterial(path string) (keymgmt.RootKey, keymgmt.Descriptor, error) {
	store, err := keymgmt.LoadPEM(path)
	if err != nil {
		return keymgmt.RootKey{}, keymgmt.Descriptor{}, fmt.Errorf("crypt: load key bundle %s: %w", path, err)
	}
	root, ok, err := store.RootKey()
	if err != nil {
		return keymgmt.RootKey{}, keymgmt.Descriptor{}, fmt.Errorf("crypt: read root key: %w", err)
	}
	if !ok {
		return keymgmt.RootKey{}, keymgmt.Descriptor{}, fmt.Errorf("crypt: bundle %s missing root key", path)
	}
	desc, ok, err := store.Descriptor(payloadDescriptorName)
	if err != nil {
		return keymgmt.RootKey{}, keymgmt.Descriptor{}, fmt.Errorf("crypt: read payload descriptor: %w", err)
	}
	if !ok {
		return keymgmt.RootKey{}, keymgmt.Descriptor{}, fmt.Errorf("crypt: bundle %s missing descriptor %q", path, payloadDescriptorName)
	}
	return root, desc, nil
}
