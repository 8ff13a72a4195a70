package nodestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ugorji/go/codec"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/core/ledger"
	"github.com/LeJamon/rcld/internal/core/txset"
)

const latestLedgerKey = "latest_ledger"

var msgpack = &codec.MsgpackHandle{}

func init() {
	msgpack.Canonical = true
}

type ledgerRecord struct {
	Seq         uint32   `codec:"seq"`
	Parent      []byte   `codec:"parent"`
	TxSet       []byte   `codec:"txset"`
	ParentClose int64    `codec:"parent_close"`
	Close       int64    `codec:"close"`
	Resolution  int64    `codec:"resolution"`
	Flags       uint8    `codec:"flags"`
	Skip        [][]byte `codec:"skip"`
}

type txRecord struct {
	ID   []byte `codec:"id"`
	Blob []byte `codec:"blob"`
}

type txSetRecord struct {
	Txs []txRecord `codec:"txs"`
}

func encode(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	if err := codec.NewEncoder(&b, msgpack).Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	return codec.NewDecoderBytes(data, msgpack).Decode(v)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// SaveLedger stores a closed ledger.
func (s *Store) SaveLedger(ctx context.Context, l *ledger.Ledger) error {
	h := l.Header()
	rec := ledgerRecord{
		Seq:         h.Seq,
		Parent:      h.ParentHash[:],
		TxSet:       h.TxSetHash[:],
		ParentClose: unixNano(h.ParentCloseTime),
		Close:       unixNano(h.CloseTime),
		Resolution:  int64(h.CloseTimeResolution),
		Flags:       h.CloseFlags,
	}
	for _, id := range l.SkipList() {
		rec.Skip = append(rec.Skip, append([]byte(nil), id[:]...))
	}
	data, err := encode(&rec)
	if err != nil {
		return fmt.Errorf("encode ledger %d: %w", h.Seq, err)
	}
	return s.Store(ctx, &Node{Type: NodeLedger, Hash: Hash(l.ID()), Data: data})
}

// LoadLedger returns a stored ledger. The stored header must hash to id.
func (s *Store) LoadLedger(ctx context.Context, id consensus.LedgerID) (*ledger.Ledger, error) {
	n, err := s.Fetch(ctx, NodeLedger, Hash(id))
	if err != nil {
		return nil, err
	}
	var rec ledgerRecord
	if err := decode(n.Data, &rec); err != nil {
		return nil, wrapError("decode", NodeLedger, n.Hash, fmt.Errorf("%w: %v", ErrDataCorrupt, err))
	}
	h := ledger.Header{
		Seq:                 rec.Seq,
		ParentCloseTime:     fromUnixNano(rec.ParentClose),
		CloseTime:           fromUnixNano(rec.Close),
		CloseTimeResolution: time.Duration(rec.Resolution),
		CloseFlags:          rec.Flags,
	}
	copy(h.ParentHash[:], rec.Parent)
	copy(h.TxSetHash[:], rec.TxSet)
	skip := make([]consensus.LedgerID, len(rec.Skip))
	for i, b := range rec.Skip {
		copy(skip[i][:], b)
	}

	l := ledger.New(h, skip)
	if l.ID() != id {
		return nil, wrapError("decode", NodeLedger, n.Hash, fmt.Errorf("%w: header hashes to %s", ErrDataCorrupt, Hash(l.ID())))
	}
	return l, nil
}

// SetLatest records the last closed ledger.
func (s *Store) SetLatest(ctx context.Context, id consensus.LedgerID) error {
	return s.putMeta(ctx, latestLedgerKey, id[:])
}

// Latest returns the ledger recorded by SetLatest.
func (s *Store) Latest(ctx context.Context) (consensus.LedgerID, error) {
	var id consensus.LedgerID
	value, err := s.getMeta(ctx, latestLedgerKey)
	if err != nil {
		return id, err
	}
	if len(value) != len(id) {
		return id, fmt.Errorf("%w: latest ledger key has %d bytes", ErrDataCorrupt, len(value))
	}
	copy(id[:], value)
	return id, nil
}

var _ txset.Backing = (*Store)(nil)

// StoreTxSet stores a transaction set, including transactions known only
// by ID.
func (s *Store) StoreTxSet(set *txset.Set) error {
	var rec txSetRecord
	for _, id := range set.IDs() {
		blob, _ := set.Tx(id)
		rec.Txs = append(rec.Txs, txRecord{ID: append([]byte(nil), id[:]...), Blob: blob})
	}
	data, err := encode(&rec)
	if err != nil {
		return fmt.Errorf("encode tx set: %w", err)
	}
	id := set.ID()
	return s.Store(context.Background(), &Node{Type: NodeTxSet, Hash: Hash(id), Data: data})
}

// LoadTxSet returns a stored transaction set, or txset.ErrNotFound.
func (s *Store) LoadTxSet(id consensus.TxSetID) (*txset.Set, error) {
	n, err := s.Fetch(context.Background(), NodeTxSet, Hash(id))
	if errors.Is(err, ErrNotFound) {
		return nil, txset.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec txSetRecord
	if err := decode(n.Data, &rec); err != nil {
		return nil, wrapError("decode", NodeTxSet, n.Hash, fmt.Errorf("%w: %v", ErrDataCorrupt, err))
	}
	txs := make(map[consensus.TxID][]byte, len(rec.Txs))
	for _, tx := range rec.Txs {
		var txID consensus.TxID
		copy(txID[:], tx.ID)
		txs[txID] = tx.Blob
	}
	set := txset.New(txs)
	if set.ID() != id {
		return nil, wrapError("decode", NodeTxSet, n.Hash, ErrDataCorrupt)
	}
	return set, nil
}
