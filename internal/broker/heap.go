package broker

import "sync"

// ClientScratchSize is the size in bytes of the per-client scratch area
// processor plugins can stash fixed-offset state in, avoiding a hash lookup
// on the hot path (spec.md §9).
const ClientScratchSize = 128

// bumpAllocator hands out non-overlapping offsets into a fixed-size region.
// It is shared across every client of a Queue: all clients get the same
// layout, since a plugin calls Queue.AllocateClientHeap once up front and
// reuses the returned offset against whichever client it is handling.
type bumpAllocator struct {
	mu   sync.Mutex
	used int
	size int
}

func newBumpAllocator(size int) *bumpAllocator {
	if size <= 0 {
		size = ClientScratchSize
	}
	return &bumpAllocator{size: size}
}

// allocate returns a non-negative offset for n bytes, or (-1, NotEnoughClientHeap).
func (b *bumpAllocator) allocate(n int) (int, Result) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n < 0 || b.used+n > b.size {
		return -1, NotEnoughClientHeap
	}
	offset := b.used
	b.used += n
	return offset, Success
}

// scratch is the fixed-size memory block embedded in every BaseClient.
// memory returns a slice view at offset, valid for the lifetime of the
// client; offsets come from Queue.AllocateClientHeap.
type scratch [ClientScratchSize]byte

func (s *scratch) memory(offset int) []byte {
	if offset < 0 || offset >= ClientScratchSize {
		return nil
	}
	return s[offset:]
}
