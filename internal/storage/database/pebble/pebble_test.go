package pebble

import (
	"testing"

	"github.com/LeJamon/rcld/internal/storage/database"
	"github.com/LeJamon/rcld/internal/storage/database/dbtest"
)

func TestPebbleOnDisk(t *testing.T) {
	dbtest.Run(t, func(t *testing.T) database.Manager {
		return NewManager(t.TempDir(), Options{})
	})
}

func TestPebbleInMemory(t *testing.T) {
	dbtest.Run(t, func(t *testing.T) database.Manager {
		return NewManager("mem", Options{InMemory: true, CacheSize: 1 << 20})
	})
}
