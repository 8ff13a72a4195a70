package relationaldb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/logging"
)

func openSQLite(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), SQLiteConfig(filepath.Join(t.TempDir(), "history.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var closeTime = time.Date(2025, 1, 1, 0, 0, 30, 0, time.UTC)

func TestRecordRounds(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	for seq := uint32(2); seq <= 4; seq++ {
		require.NoError(t, db.RecordRound(ctx, RoundRecord{
			LedgerSeq:       seq,
			LedgerID:        consensus.LedgerID{byte(seq)},
			ParentID:        consensus.LedgerID{byte(seq - 1)},
			TxSetID:         consensus.TxSetID{0xaa},
			TxCount:         int(seq),
			CloseTime:       closeTime,
			CloseTimeAgreed: seq%2 == 0,
			CloseResolution: 30 * time.Second,
			Result:          consensus.ResultSuccess.String(),
			Proposers:       4,
			Duration:        2500 * time.Millisecond,
		}))
	}

	rounds, err := db.Rounds(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, uint32(4), rounds[0].LedgerSeq)
	assert.Equal(t, uint32(3), rounds[1].LedgerSeq)

	r := rounds[0]
	assert.Equal(t, consensus.LedgerID{4}, r.LedgerID)
	assert.Equal(t, consensus.LedgerID{3}, r.ParentID)
	assert.Equal(t, consensus.TxSetID{0xaa}, r.TxSetID)
	assert.True(t, r.CloseTimeAgreed)
	assert.False(t, rounds[1].CloseTimeAgreed)
	assert.True(t, closeTime.Equal(r.CloseTime))
	assert.Equal(t, 30*time.Second, r.CloseResolution)
	assert.Equal(t, 2500*time.Millisecond, r.Duration)
	assert.Equal(t, "success", r.Result)
	assert.False(t, r.Recorded.IsZero())
}

func TestRecordRoundReplaces(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	rec := RoundRecord{LedgerSeq: 2, LedgerID: consensus.LedgerID{2}, Result: "Expired"}
	require.NoError(t, db.RecordRound(ctx, rec))
	rec.Result = "Success"
	require.NoError(t, db.RecordRound(ctx, rec))

	rounds, err := db.Rounds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, "Success", rounds[0].Result)
}

func TestRecordValidations(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	v := ValidationRecord{
		LedgerID:  consensus.LedgerID{9},
		LedgerSeq: 9,
		NodeID:    consensus.NodeID{2, 1},
		SignTime:  closeTime,
		SeenTime:  closeTime.Add(time.Second),
		Full:      true,
	}
	require.NoError(t, db.RecordValidation(ctx, v))
	require.NoError(t, db.RecordValidation(ctx, v))
	other := v
	other.NodeID = consensus.NodeID{3}
	require.NoError(t, db.RecordValidation(ctx, other))

	got, err := db.Validations(ctx, consensus.LedgerID{9})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, v.NodeID, got[0].NodeID)
	assert.True(t, got[0].Full)
	assert.True(t, v.SeenTime.Equal(got[0].SeenTime))

	none, err := db.Validations(ctx, consensus.LedgerID{1})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClosed(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	_, err := db.Rounds(context.Background(), 1)
	assert.ErrorIs(t, err, ErrDatabaseClosed)
}

func TestConfig(t *testing.T) {
	c := PostgresConfig()
	require.NoError(t, c.Validate())
	dsn, err := c.BuildConnectionString()
	require.NoError(t, err)
	assert.Equal(t, "postgres://rcld@localhost:5432/rcld?sslmode=prefer", dsn)

	c.Password = "secret"
	dsn, err = c.BuildConnectionString()
	require.NoError(t, err)
	assert.Contains(t, dsn, "rcld:secret@")

	c = PostgresConfig()
	c.Host = ""
	assert.ErrorIs(t, c.Validate(), ErrMissingHost)
	c.ConnectionString = "postgres://elsewhere/db"
	assert.NoError(t, c.Validate())

	c = DefaultConfig()
	c.Driver = "sqlite3"
	require.NoError(t, c.Validate())
	assert.Equal(t, DriverSQLite, c.Driver)
	c.Path = ""
	assert.ErrorIs(t, c.Validate(), ErrMissingPath)

	c.Driver = "mysql"
	assert.ErrorIs(t, c.Validate(), ErrUnsupportedDriver)
}

func TestRebind(t *testing.T) {
	pg := dialects[DriverPostgres]
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	lite := dialects[DriverSQLite]
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestRecorder(t *testing.T) {
	db := openSQLite(t)
	rec := NewRecorder(db, logging.NewTestEntry(t, "history"))
	parent := consensus.LedgerID{1}

	rec.OnEvent(&consensus.ConsensusReachedEvent{
		Round:           consensus.RoundID{Seq: 2, Parent: parent},
		TxSet:           consensus.TxSetID{5},
		CloseTime:       closeTime,
		CloseTimeAgreed: true,
		Resolution:      20 * time.Second,
		Stats: consensus.RoundStats{
			Result:    consensus.ResultExpired,
			Proposers: 3,
			Disputes:  1,
			Discarded: consensus.Discards{Late: 2},
		},
	})
	rec.OnEvent(&consensus.LedgerAcceptedEvent{
		LedgerID:  consensus.LedgerID{2},
		LedgerSeq: 2,
		TxCount:   7,
		CloseTime: closeTime,
		Timestamp: closeTime.Add(time.Second),
	})
	rec.OnEvent(&consensus.RoundAbandonedEvent{Round: consensus.RoundID{Seq: 3, Parent: consensus.LedgerID{2}}})
	rec.OnEvent(&consensus.ValidationReceivedEvent{Validation: consensus.Validation{
		LedgerID: consensus.LedgerID{2}, LedgerSeq: 2, NodeID: consensus.NodeID{8}, Full: true,
	}})

	rounds, err := db.Rounds(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	r := rounds[0]
	assert.Equal(t, parent, r.ParentID)
	assert.Equal(t, consensus.TxSetID{5}, r.TxSetID)
	assert.Equal(t, 7, r.TxCount)
	assert.Equal(t, "expired", r.Result)
	assert.Equal(t, 20*time.Second, r.CloseResolution)
	assert.Equal(t, 2, r.Discarded)

	vals, err := db.Validations(context.Background(), consensus.LedgerID{2})
	require.NoError(t, err)
	assert.Len(t, vals, 1)

	rounds2, abandoned, failures := rec.Counts()
	assert.Equal(t, uint64(1), rounds2)
	assert.Equal(t, uint64(1), abandoned)
	assert.Zero(t, failures)
}
