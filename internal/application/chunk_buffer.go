package application

import (
	"math/bits"
	"sync"
)

// chunkArena holds the bytes of one upload in a single contiguous region. Chunk i
// lives at offset i*chunkSize, so once every index is present the region already
// is the file in index order regardless of arrival order.
type chunkArena struct {
	chunkSize   int64
	totalSize   int64
	totalChunks int

	data     []byte
	received []uint64
	count    int
}

func newChunkArena(totalSize, chunkSize int64, totalChunks int) *chunkArena {
	return &chunkArena{
		chunkSize:   chunkSize,
		totalSize:   totalSize,
		totalChunks: totalChunks,
		received:    make([]uint64, (totalChunks+63)/64),
	}
}

// put copies chunk into place and reports whether the index was new.
// Callers validate index and length beforehand.
func (a *chunkArena) put(index int, chunk []byte) bool {
	start := int64(index) * a.chunkSize
	end := start + int64(len(chunk))
	a.grow(end)
	copy(a.data[start:end], chunk)

	word, bit := index/64, uint(index%64)
	if a.received[word]&(1<<bit) != 0 {
		return false
	}
	a.received[word] |= 1 << bit
	a.count++
	return true
}

func (a *chunkArena) grow(end int64) {
	if end <= int64(len(a.data)) {
		return
	}
	if end <= int64(cap(a.data)) {
		a.data = a.data[:end]
		return
	}
	next := int64(cap(a.data)) * 2
	if next < end {
		next = end
	}
	if next > a.totalSize {
		next = a.totalSize
	}
	region := make([]byte, end, next)
	copy(region, a.data)
	a.data = region
}

func (a *chunkArena) has(index int) bool {
	if index < 0 || index >= a.totalChunks {
		return false
	}
	return a.received[index/64]&(1<<uint(index%64)) != 0
}

func (a *chunkArena) complete() bool {
	return a.count == a.totalChunks
}

// bytes returns the assembled file. Only meaningful once complete.
func (a *chunkArena) bytes() []byte {
	return a.data[:a.totalSize]
}

func (a *chunkArena) receivedIndices() []int {
	out := make([]int, 0, a.count)
	for word, v := range a.received {
		for v != 0 {
			bit := bits.TrailingZeros64(v)
			out = append(out, word*64+bit)
			v &^= 1 << uint(bit)
		}
	}
	return out
}

func (a *chunkArena) missingIndices() []int {
	out := make([]int, 0, a.totalChunks-a.count)
	for i := 0; i < a.totalChunks; i++ {
		if !a.has(i) {
			out = append(out, i)
		}
	}
	return out
}

func (a *chunkArena) release() {
	a.data = nil
	a.received = nil
	a.count = 0
}

// sessionSlot serializes every mutation of one session. sealed is set while the
// assembled bytes are being written to storage with the lock released.
type sessionSlot struct {
	mu     sync.Mutex
	arena  *chunkArena
	sealed bool
}

func (s *sessionSlot) discard() {
	if s.arena != nil {
		s.arena.release()
		s.arena = nil
	}
	s.sealed = false
}

type sessionSlots struct {
	mu    sync.Mutex
	slots map[string]*sessionSlot
}

func newSessionSlots() *sessionSlots {
	return &sessionSlots{slots: make(map[string]*sessionSlot)}
}

func (s *sessionSlots) get(token string) *sessionSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[token]
	if !ok {
		slot = &sessionSlot{}
		s.slots[token] = slot
	}
	return slot
}

func (s *sessionSlots) peek(token string) (*sessionSlot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[token]
	return slot, ok
}

func (s *sessionSlots) drop(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, token)
}

func (s *sessionSlots) tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.slots))
	for token := range s.slots {
		out = append(out, token)
	}
	return out
}

func (s *sessionSlots) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
