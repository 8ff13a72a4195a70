package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/decred/dcrd/crypto/ripemd160"
)

// ShortIDSize is the size of a short node ID in bytes.
const ShortIDSize = 20

// ShortID is the 160-bit digest of a node's public key, used in logs and
// history rows where the full 33-byte key is noise.
type ShortID [ShortIDSize]byte

// CalcShortID computes RIPEMD160(SHA256(publicKey)).
func CalcShortID(publicKey []byte) ShortID {
	sha := sha256.Sum256(publicKey)

	h := ripemd160.New()
	h.Write(sha[:])

	var id ShortID
	copy(id[:], h.Sum(nil))
	return id
}

func (id ShortID) String() string { return hex.EncodeToString(id[:]) }
