package relationaldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/LeJamon/rcld/internal/core/consensus"
)

// dialect covers the differences between the SQL backends.
type dialect struct {
	driver string
	blob   string
	bigint string

	// numbered placeholders ($1) instead of ?
	numbered bool
}

var dialects = map[string]dialect{
	DriverSQLite:   {driver: "sqlite", blob: "BLOB", bigint: "INTEGER"},
	DriverPostgres: {driver: "postgres", blob: "BYTEA", bigint: "BIGINT", numbered: true},
}

// rebind rewrites ? placeholders for the dialect.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rounds (
			ledger_hash %[1]s PRIMARY KEY,
			ledger_seq %[2]s NOT NULL,
			prev_hash %[1]s NOT NULL,
			txset_hash %[1]s NOT NULL,
			tx_count INTEGER NOT NULL,
			close_time %[2]s NOT NULL,
			close_agreed BOOLEAN NOT NULL,
			close_res INTEGER NOT NULL,
			result VARCHAR(32) NOT NULL,
			proposers INTEGER NOT NULL,
			disputes INTEGER NOT NULL,
			discarded INTEGER NOT NULL,
			duration_ms %[2]s NOT NULL,
			recorded_at %[2]s NOT NULL
		)`, d.blob, d.bigint),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS validations (
			ledger_hash %[1]s NOT NULL,
			ledger_seq %[2]s NOT NULL,
			node_pubkey %[1]s NOT NULL,
			sign_time %[2]s NOT NULL,
			seen_time %[2]s NOT NULL,
			full_validation BOOLEAN NOT NULL,
			PRIMARY KEY (ledger_hash, node_pubkey)
		)`, d.blob, d.bigint),
		`CREATE INDEX IF NOT EXISTS idx_rounds_seq ON rounds(ledger_seq)`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_recorded ON rounds(recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_validations_seq ON validations(ledger_seq)`,
	}
}

// DB is a HistoryDB over database/sql.
type DB struct {
	mu      sync.RWMutex
	db      *sql.DB
	dialect dialect
	config  Config
}

var _ HistoryDB = (*DB)(nil)

// Open connects to the configured database and creates the schema.
func Open(ctx context.Context, config Config) (*DB, error) {
	if err := config.Validate(); err != nil {
		return nil, newError("open", "invalid configuration", err)
	}
	d := dialects[config.Driver]
	dsn, err := config.BuildConnectionString()
	if err != nil {
		return nil, newError("open", "failed to build connection string", err)
	}

	sqlDB, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, newError("open", "failed to open database connection", err)
	}
	maxOpen := config.MaxOpenConns
	if config.Driver == DriverSQLite {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, config.DefaultTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, newError("open", "failed to ping database", err)
	}
	for _, q := range d.schema() {
		if _, err := sqlDB.ExecContext(ctx, q); err != nil {
			sqlDB.Close()
			return nil, newError("open", "failed to initialize schema", err)
		}
	}
	return &DB{db: sqlDB, dialect: d, config: config}, nil
}

func (db *DB) handle() (*sql.DB, error) {
	if db.db == nil {
		return nil, ErrDatabaseClosed
	}
	return db.db, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// RecordRound stores a round. A round for the same ledger replaces the
// earlier row.
func (db *DB) RecordRound(ctx context.Context, r RoundRecord) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	h, err := db.handle()
	if err != nil {
		return err
	}
	if r.Recorded.IsZero() {
		r.Recorded = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, db.config.DefaultTimeout)
	defer cancel()

	tx, err := h.BeginTx(ctx, nil)
	if err != nil {
		return newError("record_round", "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, db.dialect.rebind(`DELETE FROM rounds WHERE ledger_hash = ?`), r.LedgerID[:]); err != nil {
		return newError("record_round", "failed to replace round", err)
	}
	_, err = tx.ExecContext(ctx, db.dialect.rebind(`INSERT INTO rounds (
			ledger_hash, ledger_seq, prev_hash, txset_hash, tx_count, close_time, close_agreed,
			close_res, result, proposers, disputes, discarded, duration_ms, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.LedgerID[:], int64(r.LedgerSeq), r.ParentID[:], r.TxSetID[:], r.TxCount,
		toMillis(r.CloseTime), r.CloseTimeAgreed, int64(r.CloseResolution/time.Second),
		r.Result, r.Proposers, r.Disputes, r.Discarded, r.Duration.Milliseconds(), toMillis(r.Recorded))
	if err != nil {
		return newError("record_round", "failed to insert round", err)
	}
	if err := tx.Commit(); err != nil {
		return newError("record_round", "failed to commit", err)
	}
	return nil
}

// RecordValidation stores a validation. Repeats from the same node for the
// same ledger are ignored.
func (db *DB) RecordValidation(ctx context.Context, v ValidationRecord) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	h, err := db.handle()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, db.config.DefaultTimeout)
	defer cancel()

	_, err = h.ExecContext(ctx, db.dialect.rebind(`INSERT INTO validations (
			ledger_hash, ledger_seq, node_pubkey, sign_time, seen_time, full_validation
		) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (ledger_hash, node_pubkey) DO NOTHING`),
		v.LedgerID[:], int64(v.LedgerSeq), v.NodeID[:], toMillis(v.SignTime), toMillis(v.SeenTime), v.Full)
	if err != nil {
		return newError("record_validation", "failed to insert validation", err)
	}
	return nil
}

// Rounds returns up to limit rounds, most recent first.
func (db *DB) Rounds(ctx context.Context, limit int) ([]RoundRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	h, err := db.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(ctx, db.config.DefaultTimeout)
	defer cancel()

	rows, err := h.QueryContext(ctx, db.dialect.rebind(`SELECT
			ledger_hash, ledger_seq, prev_hash, txset_hash, tx_count, close_time, close_agreed,
			close_res, result, proposers, disputes, discarded, duration_ms, recorded_at
		FROM rounds ORDER BY ledger_seq DESC, recorded_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, newError("rounds", "query failed", err)
	}
	defer rows.Close()

	var out []RoundRecord
	for rows.Next() {
		var (
			r                       RoundRecord
			ledgerHash, prev, txset []byte
			seq, closeMs, res       int64
			durationMs, recordedMs  int64
		)
		if err := rows.Scan(&ledgerHash, &seq, &prev, &txset, &r.TxCount, &closeMs, &r.CloseTimeAgreed,
			&res, &r.Result, &r.Proposers, &r.Disputes, &r.Discarded, &durationMs, &recordedMs); err != nil {
			return nil, newError("rounds", "scan failed", err)
		}
		copy(r.LedgerID[:], ledgerHash)
		copy(r.ParentID[:], prev)
		copy(r.TxSetID[:], txset)
		r.LedgerSeq = uint32(seq)
		r.CloseTime = fromMillis(closeMs)
		r.CloseResolution = time.Duration(res) * time.Second
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.Recorded = fromMillis(recordedMs)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Validations returns the validations seen for a ledger, by node key.
func (db *DB) Validations(ctx context.Context, ledger consensus.LedgerID) ([]ValidationRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	h, err := db.handle()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, db.config.DefaultTimeout)
	defer cancel()

	rows, err := h.QueryContext(ctx, db.dialect.rebind(`SELECT
			ledger_seq, node_pubkey, sign_time, seen_time, full_validation
		FROM validations WHERE ledger_hash = ? ORDER BY node_pubkey`), ledger[:])
	if err != nil {
		return nil, newError("validations", "query failed", err)
	}
	defer rows.Close()

	var out []ValidationRecord
	for rows.Next() {
		var (
			v              ValidationRecord
			seq, sign, see int64
			node           []byte
		)
		if err := rows.Scan(&seq, &node, &sign, &see, &v.Full); err != nil {
			return nil, newError("validations", "scan failed", err)
		}
		v.LedgerID = ledger
		v.LedgerSeq = uint32(seq)
		copy(v.NodeID[:], node)
		v.SignTime = fromMillis(sign)
		v.SeenTime = fromMillis(see)
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close closes the connection pool.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.db == nil {
		return nil
	}
	err := db.db.Close()
	db.db = nil
	if err != nil {
		return newError("close", "failed to close database connection", err)
	}
	return nil
}
