// Package validator signs and verifies the consensus messages a validator
// emits: positions, validations and dispute votes.
package validator

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/crypto"
	common "github.com/LeJamon/rcld/internal/crypto/common"
	"github.com/LeJamon/rcld/internal/protocol"
)

// Signer signs messages with a validator key.
type Signer struct {
	key *crypto.KeyPair
	id  consensus.NodeID
}

// NewSigner wraps key. The node ID is the compressed public key.
func NewSigner(key *crypto.KeyPair) *Signer {
	return &Signer{key: key, id: consensus.NodeID(key.PublicKey())}
}

// NodeID returns the signer's node ID.
func (s *Signer) NodeID() consensus.NodeID { return s.id }

// ShortID returns the signer's short ID.
func (s *Signer) ShortID() crypto.ShortID { return s.key.ShortID() }

// SignPosition stamps p with our node ID and signature.
func (s *Signer) SignPosition(p *consensus.Position) {
	p.NodeID = s.id
	p.Signature = s.key.Sign(PositionDigest(*p))
}

// SignValidation stamps v with our node ID and signature.
func (s *Signer) SignValidation(v *consensus.Validation) {
	v.NodeID = s.id
	v.Signature = s.key.Sign(ValidationDigest(*v))
}

// SignDispute returns the signature of a dispute vote.
func (s *Signer) SignDispute(d consensus.DisputeVote) []byte {
	d.NodeID = s.id
	return s.key.Sign(DisputeDigest(d))
}

// VerifyPosition checks that p is signed by p.NodeID.
func VerifyPosition(p consensus.Position) error {
	if err := crypto.Verify(p.NodeID[:], PositionDigest(p), p.Signature); err != nil {
		return fmt.Errorf("position from %s: %w", p.NodeID.Short(), err)
	}
	return nil
}

// VerifyValidation checks that v is signed by v.NodeID.
func VerifyValidation(v consensus.Validation) error {
	if err := crypto.Verify(v.NodeID[:], ValidationDigest(v), v.Signature); err != nil {
		return fmt.Errorf("validation from %s: %w", v.NodeID.Short(), err)
	}
	return nil
}

// VerifyDispute checks a dispute vote signature.
func VerifyDispute(d consensus.DisputeVote, sig []byte) error {
	if err := crypto.Verify(d.NodeID[:], DisputeDigest(d), sig); err != nil {
		return fmt.Errorf("dispute vote from %s: %w", d.NodeID.Short(), err)
	}
	return nil
}

// PositionDigest is the signed hash of a position. ReceivedAt and the
// signature itself are not covered.
func PositionDigest(p consensus.Position) [32]byte {
	var fixed [4 + 8 + 1]byte
	binary.BigEndian.PutUint32(fixed[0:4], p.ProposeSeq)
	putTime(fixed[4:12], p.CloseTime)
	if p.BowOut {
		fixed[12] = 1
	}
	return common.Sha512HalfPrefixed(protocol.HashPrefixProposal,
		p.PreviousLedger[:], p.TxSet[:], fixed[:], p.NodeID[:])
}

// ValidationDigest is the signed hash of a validation. SeenTime and the
// signature are not covered.
func ValidationDigest(v consensus.Validation) [32]byte {
	var fixed [4 + 8 + 1]byte
	binary.BigEndian.PutUint32(fixed[0:4], v.LedgerSeq)
	putTime(fixed[4:12], v.SignTime)
	if v.Full {
		fixed[12] = 1
	}
	return common.Sha512HalfPrefixed(protocol.HashPrefixValidation,
		v.LedgerID[:], fixed[:], v.NodeID[:])
}

// DisputeDigest is the signed hash of a dispute vote.
func DisputeDigest(d consensus.DisputeVote) [32]byte {
	vote := []byte{0}
	if d.Vote {
		vote[0] = 1
	}
	return common.Sha512HalfPrefixed(protocol.HashPrefixDispute,
		d.PreviousLedger[:], d.TxID[:], d.NodeID[:], vote)
}

func putTime(b []byte, t time.Time) {
	var ns int64
	if !t.IsZero() {
		ns = t.UnixNano()
	}
	binary.BigEndian.PutUint64(b, uint64(ns))
}
