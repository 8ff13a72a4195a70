// Package dbtest is a conformance suite every database.DB backend runs.
package dbtest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/rcld/internal/storage/database"
)

// Run exercises a fresh manager produced by open.
func Run(t *testing.T, open func(t *testing.T) database.Manager) {
	ctx := context.Background()

	t.Run("ReadWriteDelete", func(t *testing.T) {
		m := open(t)
		defer m.Close()
		db, err := m.OpenDB("rw")
		require.NoError(t, err)

		_, err = db.Read(ctx, []byte("missing"))
		assert.ErrorIs(t, err, database.ErrKeyNotFound)

		require.NoError(t, db.Write(ctx, []byte("k"), []byte("v")))
		got, err := db.Read(ctx, []byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)

		ok, err := db.Has(ctx, []byte("k"))
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, db.Delete(ctx, []byte("k")))
		ok, err = db.Has(ctx, []byte("k"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Batch", func(t *testing.T) {
		m := open(t)
		defer m.Close()
		db, err := m.OpenDB("batch")
		require.NoError(t, err)

		require.NoError(t, db.Batch(ctx, []database.BatchOperation{
			{Type: database.BatchPut, Key: []byte("batch1"), Value: []byte("value1")},
			{Type: database.BatchPut, Key: []byte("batch2"), Value: []byte("value2")},
			{Type: database.BatchDelete, Key: []byte("batch1")},
		}))

		_, err = db.Read(ctx, []byte("batch1"))
		assert.ErrorIs(t, err, database.ErrKeyNotFound)
		got, err := db.Read(ctx, []byte("batch2"))
		require.NoError(t, err)
		assert.Equal(t, []byte("value2"), got)

		err = db.Batch(ctx, []database.BatchOperation{{Type: 99, Key: []byte("x")}})
		assert.ErrorIs(t, err, database.ErrUnknownBatchOp)
	})

	t.Run("IteratorIsHalfOpen", func(t *testing.T) {
		m := open(t)
		defer m.Close()
		db, err := m.OpenDB("iter")
		require.NoError(t, err)

		for _, k := range []string{"iter1", "iter2", "iter3"} {
			require.NoError(t, db.Write(ctx, []byte(k), []byte("v"+k)))
		}

		it, err := db.Iterator(ctx, []byte("iter1"), []byte("iter3"))
		require.NoError(t, err)
		var keys []string
		for it.Next() {
			keys = append(keys, string(it.Key()))
			assert.Equal(t, "v"+string(it.Key()), string(it.Value()))
		}
		require.NoError(t, it.Error())
		require.NoError(t, it.Close())
		assert.Equal(t, []string{"iter1", "iter2"}, keys)
	})

	t.Run("ClosedDatabase", func(t *testing.T) {
		m := open(t)
		db, err := m.OpenDB("closed")
		require.NoError(t, err)
		require.NoError(t, m.CloseDB("closed"))

		_, err = db.Read(ctx, []byte("k"))
		assert.ErrorIs(t, err, database.ErrDBClosed)
		assert.ErrorIs(t, db.Write(ctx, []byte("k"), nil), database.ErrDBClosed)
		assert.Error(t, m.CloseDB("closed"))
		require.NoError(t, m.Close())
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		m := open(t)
		defer m.Close()
		db, err := m.OpenDB("concurrent")
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					key := []byte(fmt.Sprintf("concurrent-%d-%d", g, i))
					if err := db.Write(ctx, key, key); err != nil {
						errs <- err
						return
					}
					if _, err := db.Read(ctx, key); err != nil {
						errs <- err
						return
					}
				}
			}(g)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}
	})
}
