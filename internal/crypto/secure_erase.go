package crypto

import (
	"runtime"
	"sync/atomic"
)

// sink keeps the compiler from proving the erased buffer is dead.
var sink atomic.Uint64

// SecureErase overwrites b with zeros.
func SecureErase(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
	sink.Add(uint64(b[0]))
}
