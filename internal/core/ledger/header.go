package ledger

import (
	"encoding/binary"
	"time"

	"github.com/LeJamon/rcld/internal/core/consensus"
	crypto "github.com/LeJamon/rcld/internal/crypto/common"
	"github.com/LeJamon/rcld/internal/protocol"
)

// Ledger close flags
const (
	// FlagNoConsensusTime marks a ledger whose close time was not agreed
	// and was derived from its parent instead.
	FlagNoConsensusTime uint8 = 0x01
)

// Header is the hashed part of a ledger.
type Header struct {
	Seq             uint32             `codec:"seq"`
	ParentHash      consensus.LedgerID `codec:"parent"`
	TxSetHash       consensus.TxSetID  `codec:"txset"`
	ParentCloseTime time.Time          `codec:"parentClose"`

	// CloseTime is the effective close time, rounded to the resolution.
	CloseTime time.Time `codec:"close"`

	// CloseTimeResolution is the rounding applied to CloseTime.
	CloseTimeResolution time.Duration `codec:"resolution"`

	CloseFlags uint8 `codec:"flags"`
}

// CloseAgree reports whether validators agreed on the close time.
func (h *Header) CloseAgree() bool {
	return h.CloseFlags&FlagNoConsensusTime == 0
}

// Hash computes the ledger hash:
// SHA512-Half(LWR, seq, parent, txset, parentClose, close, resolution, flags).
func (h *Header) Hash() consensus.LedgerID {
	var fixed [4 + 8 + 8 + 4 + 1]byte
	binary.BigEndian.PutUint32(fixed[0:4], h.Seq)
	binary.BigEndian.PutUint64(fixed[4:12], uint64(unixSeconds(h.ParentCloseTime)))
	binary.BigEndian.PutUint64(fixed[12:20], uint64(unixSeconds(h.CloseTime)))
	binary.BigEndian.PutUint32(fixed[20:24], uint32(h.CloseTimeResolution/time.Second))
	fixed[24] = h.CloseFlags
	return consensus.LedgerID(crypto.Sha512HalfPrefixed(protocol.HashPrefixLedgerMaster,
		fixed[:4], h.ParentHash[:], h.TxSetHash[:], fixed[4:]))
}

func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
