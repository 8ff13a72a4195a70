package leveldb

import (
	"testing"

	"github.com/LeJamon/rcld/internal/storage/database"
	"github.com/LeJamon/rcld/internal/storage/database/dbtest"
)

func TestLevelDBOnDisk(t *testing.T) {
	dbtest.Run(t, func(t *testing.T) database.Manager {
		return NewManager(t.TempDir(), Options{})
	})
}

func TestLevelDBInMemory(t *testing.T) {
	dbtest.Run(t, func(t *testing.T) database.Manager {
		return NewManager("", Options{InMemory: true})
	})
}
