package soft

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

// Keyring is an in-memory ed25519 key store keyed by agent id. The
// scenario orchestrator and tests use it to mint issuer and agent keys
// and to fetch private keys for signing cards, delegation grants, and
// challenge responses. Not suitable for anything beyond the sandbox.
type Keyring struct {
	mu   sync.Mutex
	keys map[string]ed25519.PrivateKey
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]ed25519.PrivateKey)}
}

// NewKeyringFromSeeds builds a deterministic keyring for tests; each
// seed is 32 hex-encoded bytes.
func NewKeyringFromSeeds(seeds map[string]string) (*Keyring, error) {
	k := NewKeyring()
	for id, seedHex := range seeds {
		seed, err := hex.DecodeString(seedHex)
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("invalid seed for %s", id)
		}
		k.keys[id] = ed25519.NewKeyFromSeed(seed)
	}
	return k, nil
}

// Generate creates a keypair for id, returning the public key. An
// existing key is returned as-is, so Generate is idempotent per id.
func (k *Keyring) Generate(id string) ([]byte, error) {
	if id == "" {
		return nil, errors.New("key id is required")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if key, ok := k.keys[id]; ok {
		return append([]byte(nil), key.Public().(ed25519.PublicKey)...), nil
	}
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	k.keys[id] = priv
	return append([]byte(nil), pub...), nil
}

func (k *Keyring) PrivateKeyFor(id string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.keys[id]
	if !ok {
		return nil, fmt.Errorf("private key not found for %s", id)
	}
	return append([]byte(nil), key...), nil
}

func (k *Keyring) PublicKeyFor(id string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.keys[id]
	if !ok {
		return nil, fmt.Errorf("public key not found for %s", id)
	}
	return append([]byte(nil), key.Public().(ed25519.PublicKey)...), nil
}
