package bucketguard

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Goroutines have no stable identity, so stripes are chosen by processor
// affinity instead. sync.Pool keeps a private slot per P: a goroutine running
// on a given P keeps drawing the same hint until the pool is flushed by GC.
type affinityHint struct {
	hash uint64
}

var (
	hintSeq   atomic.Uint64
	hintsPool = sync.Pool{
		New: func() any {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], hintSeq.Add(1))
			return &affinityHint{hash: xxhash.Sum64(buf[:])}
		},
	}
)

// affinity returns a well-mixed value that is stable for the current P.
func affinity() uint64 {
	h := hintsPool.Get().(*affinityHint)
	v := h.hash
	hintsPool.Put(h)
	return v
}
