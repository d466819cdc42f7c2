// Package keys handles ed25519 key material in the DER-hex text form used by
// Hedera tooling, plus raw hex seeds for convenience.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// DER prefixes for PKCS#8 private keys and SPKI public keys.
const (
	privateDERPrefix = "302e020100300506032b657004220420"
	publicDERPrefix  = "302a300506032b6570032100"
)

// ErrInvalidKey is returned when key text cannot be decoded.
var ErrInvalidKey = errors.New("invalid key")

// PrivateKey is an ed25519 signing key.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// PublicKey is an ed25519 verification key.
type PublicKey struct {
	key ed25519.PublicKey
}

// Generate creates a fresh random private key.
func Generate() (PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return PrivateKey{key: priv}, nil
}

// FromSeed builds a private key from a 32-byte seed.
func FromSeed(seed []byte) (PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return PrivateKey{}, fmt.Errorf("%w: seed length %d, expected %d", ErrInvalidKey, len(seed), ed25519.SeedSize)
	}
	return PrivateKey{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// ParsePrivateKey decodes a private key from DER hex, a raw 32-byte seed in
// hex, or a raw 64-byte ed25519 key in hex. A leading "0x" is ignored.
func ParsePrivateKey(s string) (PrivateKey, error) {
	s = normalize(s)
	if s == "" {
		return PrivateKey{}, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	s = strings.TrimPrefix(s, privateDERPrefix)
	raw, err := hex.DecodeString(s)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("%w: not hex: %v", ErrInvalidKey, err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return FromSeed(raw)
	case ed25519.PrivateKeySize:
		priv := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !priv.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
			return PrivateKey{}, fmt.Errorf("%w: public half does not match seed", ErrInvalidKey)
		}
		return PrivateKey{key: priv}, nil
	default:
		return PrivateKey{}, fmt.Errorf("%w: decoded length %d", ErrInvalidKey, len(raw))
	}
}

// ParsePublicKey decodes a public key from DER hex or raw 32-byte hex.
func ParsePublicKey(s string) (PublicKey, error) {
	s = strings.TrimPrefix(normalize(s), publicDERPrefix)
	raw, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: not hex: %v", ErrInvalidKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("%w: public key length %d", ErrInvalidKey, len(raw))
	}
	return PublicKey{key: ed25519.PublicKey(raw)}, nil
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "0x")
}

// IsZero reports whether the key is unset.
func (k PrivateKey) IsZero() bool { return len(k.key) == 0 }

// Public returns the matching public key.
func (k PrivateKey) Public() PublicKey {
	if k.IsZero() {
		return PublicKey{}
	}
	return PublicKey{key: k.key.Public().(ed25519.PublicKey)}
}

// Seed returns the 32-byte seed.
func (k PrivateKey) Seed() []byte { return k.key.Seed() }

// Sign signs msg.
func (k PrivateKey) Sign(msg []byte) []byte { return ed25519.Sign(k.key, msg) }

// String returns the DER hex encoding.
func (k PrivateKey) String() string {
	if k.IsZero() {
		return ""
	}
	return privateDERPrefix + hex.EncodeToString(k.key.Seed())
}

// IsZero reports whether the key is unset.
func (k PublicKey) IsZero() bool { return len(k.key) == 0 }

// Equal reports whether both keys hold the same bytes.
func (k PublicKey) Equal(other PublicKey) bool {
	if k.IsZero() || other.IsZero() {
		return false
	}
	return k.key.Equal(other.key)
}

// Verify checks sig over msg.
func (k PublicKey) Verify(msg, sig []byte) bool {
	if k.IsZero() {
		return false
	}
	return ed25519.Verify(k.key, msg, sig)
}

// Bytes returns the raw 32 bytes.
func (k PublicKey) Bytes() []byte { return []byte(k.key) }

// String returns the DER hex encoding.
func (k PublicKey) String() string {
	if k.IsZero() {
		return ""
	}
	return publicDERPrefix + hex.EncodeToString(k.key)
}
