// Package relationaldb keeps a queryable history of consensus rounds and
// the validations a node saw, in SQLite or PostgreSQL.
package relationaldb

import (
	"context"
	"time"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

// RoundRecord is one finished consensus round.
type RoundRecord struct {
	LedgerSeq       uint32
	LedgerID        consensus.LedgerID
	ParentID        consensus.LedgerID
	TxSetID         consensus.TxSetID
	TxCount         int
	CloseTime       time.Time
	CloseTimeAgreed bool
	CloseResolution time.Duration

	// Result is the consensus.Result name.
	Result    string
	Proposers int
	Disputes  int
	Discarded int
	Duration  time.Duration
	Recorded  time.Time
}

// ValidationRecord is a validation as received.
type ValidationRecord struct {
	LedgerID  consensus.LedgerID
	LedgerSeq uint32
	NodeID    consensus.NodeID
	SignTime  time.Time
	SeenTime  time.Time
	Full      bool
}

// HistoryDB stores round history.
type HistoryDB interface {
	RecordRound(ctx context.Context, r RoundRecord) error
	RecordValidation(ctx context.Context, v ValidationRecord) error

	// Rounds returns up to limit rounds, most recent first.
	Rounds(ctx context.Context, limit int) ([]RoundRecord, error)

	// Validations returns the validations seen for a ledger.
	Validations(ctx context.Context, ledger consensus.LedgerID) ([]ValidationRecord, error)

	Close() error
}
