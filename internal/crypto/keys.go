// Package crypto holds validator keys: secp256k1 key pairs, DER signatures
// over 32-byte digests and short node IDs.
package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	common "github.com/LeJamon/rcld/internal/crypto/common"
)

// PublicKeySize is the size of a compressed secp256k1 public key.
const PublicKeySize = 33

var (
	// ErrInvalidPrivateKey is returned for malformed or out of range keys.
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrInvalidPublicKey is returned when a public key does not parse.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidSignature is returned when a signature does not parse, is
	// not fully canonical or does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
)

// KeyPair is a secp256k1 signing key.
type KeyPair struct {
	priv *btcec.PrivateKey
	pub  [PublicKeySize]byte
}

func newKeyPair(priv *btcec.PrivateKey) *KeyPair {
	k := &KeyPair{priv: priv}
	copy(k.pub[:], priv.PubKey().SerializeCompressed())
	return k
}

// GenerateKeyPair creates a random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newKeyPair(priv), nil
}

// KeyPairFromSeed derives a key pair deterministically from seed. The
// candidate scalar is SHA512-Half(seed || counter) for the first counter
// that yields a valid key.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidPrivateKey
	}
	buf := make([]byte, len(seed)+4)
	copy(buf, seed)
	defer SecureErase(buf)

	for counter := uint32(0); counter < 128; counter++ {
		binary.BigEndian.PutUint32(buf[len(seed):], counter)
		candidate := common.Sha512Half(buf)

		var scalar secp256k1.ModNScalar
		overflow := scalar.SetBytes(&candidate)
		SecureErase(candidate[:])
		if overflow == 0 && !scalar.IsZero() {
			return newKeyPair(secp256k1.NewPrivateKey(&scalar)), nil
		}
	}
	return nil, ErrInvalidPrivateKey
}

// KeyPairFromHex parses a 32-byte private key in hex.
func KeyPairFromHex(s string) (*KeyPair, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(b) != 32 {
		return nil, ErrInvalidPrivateKey
	}
	defer SecureErase(b)

	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow || scalar.IsZero() {
		return nil, ErrInvalidPrivateKey
	}
	return newKeyPair(secp256k1.NewPrivateKey(&scalar)), nil
}

// PublicKey returns the compressed public key.
func (k *KeyPair) PublicKey() [PublicKeySize]byte { return k.pub }

// PrivateKeyHex returns the private key in hex, for keygen output.
func (k *KeyPair) PrivateKeyHex() string {
	b := k.priv.Serialize()
	defer SecureErase(b)
	return hex.EncodeToString(b)
}

// ShortID returns the short ID of the public key.
func (k *KeyPair) ShortID() ShortID { return CalcShortID(k.pub[:]) }

// Sign returns the DER signature of digest. btcec produces low-S
// signatures, so the result is fully canonical.
func (k *KeyPair) Sign(digest [32]byte) []byte {
	return btcecdsa.Sign(k.priv, digest[:]).Serialize()
}

// Zero erases the private key.
func (k *KeyPair) Zero() {
	k.priv.Zero()
}

// Verify checks a DER signature of digest against a compressed public key.
// High-S signatures are rejected so a signature cannot be malleated into a
// second valid one.
func Verify(publicKey []byte, digest [32]byte, sig []byte) error {
	pub, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	s := parsed.S()
	if s.IsOverHalfOrder() {
		return fmt.Errorf("%w: not fully canonical", ErrInvalidSignature)
	}
	if !parsed.Verify(digest[:], pub) {
		return ErrInvalidSignature
	}
	return nil
}
