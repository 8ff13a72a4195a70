// Package leveldb implements database.DB on syndtr/goleveldb.
package leveldb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/LeJamon/rcld/internal/storage/database"
)

// DB is a database.DB over a goleveldb instance.
type DB struct {
	mu    sync.RWMutex
	db    *leveldb.DB
	write *opt.WriteOptions
}

var _ database.DB = (*DB)(nil)

func (l *DB) handle() (*leveldb.DB, error) {
	if l.db == nil {
		return nil, database.ErrDBClosed
	}
	return l.db, nil
}

func (l *DB) Read(ctx context.Context, key []byte) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	db, err := l.handle()
	if err != nil {
		return nil, err
	}
	val, err := db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, database.ErrKeyNotFound
	}
	return val, err
}

func (l *DB) Has(ctx context.Context, key []byte) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	db, err := l.handle()
	if err != nil {
		return false, err
	}
	return db.Has(key, nil)
}

func (l *DB) Write(ctx context.Context, key, value []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	db, err := l.handle()
	if err != nil {
		return err
	}
	return db.Put(key, value, l.write)
}

func (l *DB) Delete(ctx context.Context, key []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	db, err := l.handle()
	if err != nil {
		return err
	}
	return db.Delete(key, l.write)
}

func (l *DB) Batch(ctx context.Context, ops []database.BatchOperation) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	db, err := l.handle()
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	for _, op := range ops {
		switch op.Type {
		case database.BatchPut:
			batch.Put(op.Key, op.Value)
		case database.BatchDelete:
			batch.Delete(op.Key)
		default:
			return fmt.Errorf("%w: %d", database.ErrUnknownBatchOp, op.Type)
		}
	}
	return db.Write(batch, l.write)
}

func (l *DB) Iterator(ctx context.Context, start, end []byte) (database.Iterator, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	db, err := l.handle()
	if err != nil {
		return nil, err
	}
	return &Iterator{iter: db.NewIterator(&util.Range{Start: start, Limit: end}, nil)}, nil
}

// Iterator walks a goleveldb key range.
type Iterator struct {
	iter iterator.Iterator
}

func (it *Iterator) Next() bool    { return it.iter.Next() }
func (it *Iterator) Key() []byte   { return append([]byte(nil), it.iter.Key()...) }
func (it *Iterator) Value() []byte { return append([]byte(nil), it.iter.Value()...) }
func (it *Iterator) Error() error  { return it.iter.Error() }

func (it *Iterator) Close() error {
	it.iter.Release()
	return nil
}

// Options tune the instances a Manager opens.
type Options struct {
	// CacheSize is the block cache size in bytes. Zero keeps the default.
	CacheSize int

	// InMemory keeps every database in memory.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool
}

// Manager opens goleveldb databases as subdirectories of a path.
type Manager struct {
	mu      sync.Mutex
	path    string
	options Options
	dbs     map[string]*DB
}

var _ database.Manager = (*Manager)(nil)

// NewManager creates a manager rooted at path.
func NewManager(path string, options Options) *Manager {
	return &Manager{path: path, options: options, dbs: make(map[string]*DB)}
}

func (m *Manager) OpenDB(name string) (database.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if db, ok := m.dbs[name]; ok {
		return db, nil
	}

	o := &opt.Options{}
	if m.options.CacheSize > 0 {
		o.BlockCacheCapacity = m.options.CacheSize
	}

	var (
		ldb *leveldb.DB
		err error
	)
	if m.options.InMemory {
		ldb, err = leveldb.Open(storage.NewMemStorage(), o)
	} else {
		ldb, err = leveldb.OpenFile(filepath.Join(m.path, name+".ldb"), o)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb database %s: %w", name, err)
	}

	db := &DB{db: ldb, write: &opt.WriteOptions{Sync: m.options.SyncWrites}}
	m.dbs[name] = db
	return db, nil
}

func (m *Manager) CloseDB(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(name)
}

func (m *Manager) closeLocked(name string) error {
	db, ok := m.dbs[name]
	if !ok {
		return fmt.Errorf("leveldb database %s is not open", name)
	}
	delete(m.dbs, name)

	db.mu.Lock()
	defer db.mu.Unlock()
	err := db.db.Close()
	db.db = nil
	return err
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for name := range m.dbs {
		if err := m.closeLocked(name); err != nil {
			lastErr = fmt.Errorf("close leveldb database %s: %w", name, err)
		}
	}
	return lastErr
}
