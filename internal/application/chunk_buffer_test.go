package application

import (
	"bytes"
	"testing"
)

func TestChunkArenaAssemblesInIndexOrder(t *testing.T) {
	t.Parallel()

	payload := []byte("abcdefghij")
	arena := newChunkArena(int64(len(payload)), 4, 3)
	for _, idx := range []int{2, 0, 1} {
		start := idx * 4
		end := min(start+4, len(payload))
		if !arena.put(idx, payload[start:end]) {
			t.Fatalf("expected chunk %d to be new", idx)
		}
	}
	if !arena.complete() {
		t.Fatalf("expected arena to be complete")
	}
	if !bytes.Equal(arena.bytes(), payload) {
		t.Fatalf("expected %q, got %q", payload, arena.bytes())
	}
}

func TestChunkArenaDuplicateOverwritesWithoutCounting(t *testing.T) {
	t.Parallel()

	arena := newChunkArena(8, 4, 2)
	arena.put(1, []byte("xxxx"))
	if arena.put(1, []byte("efgh")) {
		t.Fatalf("expected duplicate chunk to report not new")
	}
	if arena.count != 1 {
		t.Fatalf("expected count 1 after duplicate, got %d", arena.count)
	}
	arena.put(0, []byte("abcd"))
	if got := string(arena.bytes()); got != "abcdefgh" {
		t.Fatalf("expected latest duplicate bytes to win, got %q", got)
	}
}

func TestChunkArenaIndices(t *testing.T) {
	t.Parallel()

	arena := newChunkArena(130*2, 2, 130)
	for _, idx := range []int{0, 64, 129} {
		arena.put(idx, []byte("zz"))
	}
	received := arena.receivedIndices()
	if len(received) != 3 || received[0] != 0 || received[1] != 64 || received[2] != 129 {
		t.Fatalf("unexpected received indices %v", received)
	}
	missing := arena.missingIndices()
	if len(missing) != 127 {
		t.Fatalf("expected 127 missing indices, got %d", len(missing))
	}
	if arena.has(130) || arena.has(-1) {
		t.Fatalf("expected out-of-range indices to be absent")
	}
	arena.release()
	if arena.data != nil || arena.count != 0 {
		t.Fatalf("expected release to drop buffered bytes")
	}
}

func TestSessionSlotsLifecycle(t *testing.T) {
	t.Parallel()

	slots := newSessionSlots()
	first := slots.get("tok")
	if again := slots.get("tok"); again != first {
		t.Fatalf("expected the same slot for the same token")
	}
	if _, ok := slots.peek("other"); ok {
		t.Fatalf("expected peek to leave unknown tokens alone")
	}
	if slots.size() != 1 {
		t.Fatalf("expected one slot, got %d", slots.size())
	}
	slots.drop("tok")
	if slots.size() != 0 {
		t.Fatalf("expected slot to be dropped")
	}
}
