// Package pebble implements database.DB on cockroachdb/pebble.
package pebble

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/LeJamon/rcld/internal/storage/database"
)

// Options tune the pebble instances a Manager opens.
type Options struct {
	// CacheSize is the block cache size in bytes. Zero keeps pebble's default.
	CacheSize int64

	// InMemory keeps every database in memory.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool
}

// Manager opens pebble databases as subdirectories of a path.
type Manager struct {
	mu      sync.Mutex
	path    string
	options Options
	dbs     map[string]*pebble.DB
	handles map[string]*DB
}

var _ database.Manager = (*Manager)(nil)

// NewManager creates a manager rooted at path.
func NewManager(path string, options Options) *Manager {
	return &Manager{
		path:    path,
		options: options,
		dbs:     make(map[string]*pebble.DB),
		handles: make(map[string]*DB),
	}
}

func (m *Manager) OpenDB(name string) (database.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handles[name]; ok {
		return h, nil
	}

	opts := &pebble.Options{}
	if m.options.InMemory {
		opts.FS = vfs.NewMem()
	}
	if m.options.CacheSize > 0 {
		cache := pebble.NewCache(m.options.CacheSize)
		defer cache.Unref()
		opts.Cache = cache
	}

	db, err := pebble.Open(filepath.Join(m.path, name+".db"), opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble database %s: %w", name, err)
	}

	h := NewDB(db, m.options.SyncWrites)
	m.dbs[name] = db
	m.handles[name] = h
	return h, nil
}

func (m *Manager) CloseDB(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(name)
}

func (m *Manager) closeLocked(name string) error {
	db, ok := m.dbs[name]
	if !ok {
		return fmt.Errorf("pebble database %s is not open", name)
	}
	m.handles[name].close()
	delete(m.dbs, name)
	delete(m.handles, name)
	return db.Close()
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for name := range m.dbs {
		if err := m.closeLocked(name); err != nil {
			lastErr = fmt.Errorf("close pebble database %s: %w", name, err)
		}
	}
	return lastErr
}
