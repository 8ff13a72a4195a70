package nodestore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/LeJamon/rcld/internal/storage/database"
	"github.com/LeJamon/rcld/internal/storage/database/leveldb"
	"github.com/LeJamon/rcld/internal/storage/database/pebble"
	"github.com/LeJamon/rcld/internal/storage/nodestore/compression"
)

const dbName = "nodes"

// metaPrefix keys bookkeeping entries. It is not a NodeType.
const metaPrefix = 0xff

type cacheKey struct {
	t NodeType
	h Hash
}

// Store is the node store.
type Store struct {
	manager    database.Manager
	db         database.DB
	compressor compression.Compressor
	cache      *lru.Cache[cacheKey, *Node]
	log        *logrus.Entry

	closed atomic.Bool

	reads        atomic.Uint64
	writes       atomic.Uint64
	hits         atomic.Uint64
	misses       atomic.Uint64
	bytesWritten atomic.Uint64
	bytesStored  atomic.Uint64
}

// Open opens the configured backend and returns a store over it.
func Open(config Config, log *logrus.Entry) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var manager database.Manager
	switch config.Backend {
	case BackendPebble:
		manager = pebble.NewManager(config.Path, pebble.Options{
			CacheSize:  int64(config.BackendCacheMB) << 20,
			InMemory:   config.InMemory,
			SyncWrites: config.SyncWrites,
		})
	case BackendLevelDB:
		manager = leveldb.NewManager(config.Path, leveldb.Options{
			CacheSize:  config.BackendCacheMB << 20,
			InMemory:   config.InMemory,
			SyncWrites: config.SyncWrites,
		})
	}

	db, err := manager.OpenDB(dbName)
	if err != nil {
		return nil, fmt.Errorf("open %s node store: %w", config.Backend, err)
	}
	s, err := New(db, config, log)
	if err != nil {
		manager.Close()
		return nil, err
	}
	s.manager = manager
	s.log.WithFields(logrus.Fields{
		"backend":    config.Backend,
		"path":       config.Path,
		"in_memory":  config.InMemory,
		"compressor": config.Compressor,
	}).Info("Node store opened")
	return s, nil
}

// New returns a store over an open database. The caller keeps ownership
// of db.
func New(db database.DB, config Config, log *logrus.Entry) (*Store, error) {
	compressor, err := compression.Get(config.Compressor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	size := config.CacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New[cacheKey, *Node](size)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		db:         db,
		compressor: compressor,
		cache:      cache,
		log:        log.WithField("component", "nodestore"),
	}, nil
}

func nodeKey(t NodeType, h Hash) []byte {
	key := make([]byte, 1+len(h))
	key[0] = byte(t)
	copy(key[1:], h[:])
	return key
}

func metaKey(name string) []byte {
	return append([]byte{metaPrefix}, name...)
}

// Store persists a node.
func (s *Store) Store(ctx context.Context, node *Node) error {
	return s.StoreBatch(ctx, []*Node{node})
}

// StoreBatch persists nodes atomically.
func (s *Store) StoreBatch(ctx context.Context, nodes []*Node) error {
	if s.closed.Load() {
		return ErrClosed
	}
	ops := make([]database.BatchOperation, 0, len(nodes))
	var written, stored int
	for _, n := range nodes {
		if n.Type == NodeUnknown {
			return wrapError("store", n.Type, n.Hash, errors.New("unknown node type"))
		}
		value, err := s.compressor.Compress(n.Data)
		if err != nil {
			return wrapError("store", n.Type, n.Hash, err)
		}
		ops = append(ops, database.BatchOperation{Type: database.BatchPut, Key: nodeKey(n.Type, n.Hash), Value: value})
		written += len(n.Data)
		stored += len(value)
	}
	if err := s.db.Batch(ctx, ops); err != nil {
		return fmt.Errorf("store %d nodes: %w", len(nodes), err)
	}
	for _, n := range nodes {
		s.cache.Add(cacheKey{n.Type, n.Hash}, n)
	}
	s.writes.Add(uint64(len(nodes)))
	s.bytesWritten.Add(uint64(written))
	s.bytesStored.Add(uint64(stored))
	return nil
}

// Fetch returns the node of type t with hash h.
func (s *Store) Fetch(ctx context.Context, t NodeType, h Hash) (*Node, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.reads.Add(1)
	if n, ok := s.cache.Get(cacheKey{t, h}); ok {
		s.hits.Add(1)
		return n, nil
	}
	s.misses.Add(1)

	value, err := s.db.Read(ctx, nodeKey(t, h))
	if errors.Is(err, database.ErrKeyNotFound) {
		return nil, wrapError("fetch", t, h, ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("fetch", t, h, err)
	}
	data, err := s.compressor.Decompress(value)
	if err != nil {
		s.log.WithError(err).WithField("hash", h).Warn("Corrupt node")
		return nil, wrapError("fetch", t, h, fmt.Errorf("%w: %v", ErrDataCorrupt, err))
	}
	n := &Node{Type: t, Hash: h, Data: data}
	s.cache.Add(cacheKey{t, h}, n)
	return n, nil
}

// Has reports whether a node is stored.
func (s *Store) Has(ctx context.Context, t NodeType, h Hash) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	if s.cache.Contains(cacheKey{t, h}) {
		return true, nil
	}
	return s.db.Has(ctx, nodeKey(t, h))
}

// Hashes lists the hashes stored for a node type, in key order.
func (s *Store) Hashes(ctx context.Context, t NodeType) ([]Hash, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	it, err := s.db.Iterator(ctx, []byte{byte(t)}, []byte{byte(t) + 1})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Hash
	for it.Next() {
		key := it.Key()
		if len(key) != 1+len(Hash{}) {
			continue
		}
		var h Hash
		copy(h[:], key[1:])
		out = append(out, h)
	}
	return out, it.Error()
}

func (s *Store) putMeta(ctx context.Context, name string, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Write(ctx, metaKey(name), value)
}

func (s *Store) getMeta(ctx context.Context, name string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	value, err := s.db.Read(ctx, metaKey(name))
	if errors.Is(err, database.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Stats returns the store's counters.
func (s *Store) Stats() Statistics {
	return Statistics{
		Reads:        s.reads.Load(),
		Writes:       s.writes.Load(),
		CacheHits:    s.hits.Load(),
		CacheMisses:  s.misses.Load(),
		BytesWritten: s.bytesWritten.Load(),
		BytesStored:  s.bytesStored.Load(),
	}
}

// Close closes the store, and the backend if Open created it.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cache.Purge()
	if s.manager != nil {
		return s.manager.Close()
	}
	return nil
}
