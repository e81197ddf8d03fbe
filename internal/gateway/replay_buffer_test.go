package gateway

import (
	"strconv"
	"testing"
)

func TestReplayBuffer_Since(t *testing.T) {
	rb := NewReplayBuffer(100)
	for i := int64(1); i <= 10; i++ {
		rb.Push(i, []byte(strconv.FormatInt(i, 10)))
	}

	got := rb.Since(7)
	if len(got) != 3 {
		t.Fatalf("Since(7): expected 3, got %d", len(got))
	}
	for i, e := range got {
		if want := strconv.Itoa(i + 8); string(e) != want {
			t.Errorf("entry[%d] = %s, want %s", i, e, want)
		}
	}
	if n := len(rb.Since(10)); n != 0 {
		t.Errorf("Since(latest) should be empty, got %d", n)
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte(strconv.FormatInt(i, 10)))
	}

	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}
	got := rb.Since(0)
	if len(got) != 5 || string(got[0]) != "4" || string(got[4]) != "8" {
		t.Fatalf("expected seqs 4..8 oldest first, got %q", got)
	}
}

func TestReplayBuffer_Empty(t *testing.T) {
	rb := NewReplayBuffer(0)
	if got := rb.Since(0); len(got) != 0 {
		t.Fatalf("empty buffer should return nothing, got %d", len(got))
	}
}
