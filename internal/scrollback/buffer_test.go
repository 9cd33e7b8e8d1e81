package scrollback

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

func TestBuffer_AppendAndSnapshot(t *testing.T) {
	b := NewBuffer(10)

	b.Append("first")
	b.Append("second")

	snap := b.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(snap))
	}
	if snap[0].Text != "first" || snap[1].Text != "second" {
		t.Errorf("snapshot content = %q,%q, want first,second", snap[0].Text, snap[1].Text)
	}
	if snap[0].Seq != 0 || snap[1].Seq != 1 {
		t.Errorf("seq = %d,%d, want 0,1", snap[0].Seq, snap[1].Seq)
	}
}

func TestBuffer_FIFOEviction(t *testing.T) {
	const capacity = 5
	b := NewBuffer(capacity)

	for i := 0; i < 12; i++ {
		b.Append(fmt.Sprintf("line-%d", i))
	}

	if b.Len() != capacity {
		t.Fatalf("Len() = %d, want %d", b.Len(), capacity)
	}

	snap := b.Snapshot()
	// The retained lines must be exactly the capacity most recent appends.
	for i, line := range snap {
		wantText := fmt.Sprintf("line-%d", 7+i)
		wantSeq := uint64(7 + i)
		if line.Text != wantText || line.Seq != wantSeq {
			t.Errorf("snap[%d] = {%d %q}, want {%d %q}", i, line.Seq, line.Text, wantSeq, wantText)
		}
	}
}

func TestBuffer_SequenceNeverReused(t *testing.T) {
	b := NewBuffer(2)

	for i := 0; i < 10; i++ {
		line := b.Append("x")
		if line.Seq != uint64(i) {
			t.Fatalf("append %d assigned seq %d", i, line.Seq)
		}
	}
	if got := b.NextSeq(); got != 10 {
		t.Errorf("NextSeq() = %d, want 10", got)
	}
}

func TestBuffer_ClearPreservesNumbering(t *testing.T) {
	b := NewBuffer(10)
	b.Append("a")
	b.Append("b")
	b.Clear()

	if b.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", b.Len())
	}

	line := b.Append("c")
	if line.Seq != 2 {
		t.Errorf("seq after Clear = %d, want 2", line.Seq)
	}
}

func TestBuffer_LongLineTruncated(t *testing.T) {
	b := NewBuffer(10)
	line := b.Append(strings.Repeat("A", MaxLineLength+100))
	if len(line.Text) != MaxLineLength {
		t.Errorf("truncated line length = %d, want %d", len(line.Text), MaxLineLength)
	}
}

func TestBuffer_TruncationKeepsValidUTF8(t *testing.T) {
	b := NewBuffer(10)
	// A three-byte rune straddling the cap: a naive byte cut would leave
	// a dangling partial rune at the end.
	line := b.Append(strings.Repeat("A", MaxLineLength-1) + "€")
	if len(line.Text) != MaxLineLength-1 {
		t.Errorf("truncated line length = %d, want %d", len(line.Text), MaxLineLength-1)
	}
	if !utf8.ValidString(line.Text) {
		t.Error("truncated line is not valid UTF-8")
	}
}

func TestBuffer_DefaultCapacity(t *testing.T) {
	b := NewBuffer(0)
	if b.Capacity() != DefaultCapacity {
		t.Errorf("Capacity() = %d, want %d", b.Capacity(), DefaultCapacity)
	}
	b = NewBuffer(-5)
	if b.Capacity() != DefaultCapacity {
		t.Errorf("Capacity() = %d, want %d", b.Capacity(), DefaultCapacity)
	}
}

func TestBuffer_SnapshotIsolation(t *testing.T) {
	b := NewBuffer(10)
	b.Append("before")

	snap := b.Snapshot()
	b.Append("after")

	if len(snap) != 1 {
		t.Fatalf("snapshot mutated by later append: len = %d, want 1", len(snap))
	}
	if snap[0].Text != "before" {
		t.Errorf("snap[0].Text = %q, want %q", snap[0].Text, "before")
	}
}

func TestBuffer_NotifySignaled(t *testing.T) {
	b := NewBuffer(10)

	b.Append("data")
	select {
	case <-b.Notify():
	default:
		t.Fatal("Notify channel not signaled after Append")
	}

	// A second append must not block even though nobody drained the channel.
	b.Append("more")
	b.Append("again")
}

func TestBuffer_ConcurrentAppendAndSnapshot(t *testing.T) {
	const total = 2000
	b := NewBuffer(500)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			b.Append(fmt.Sprintf("line-%d", i))
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			snap := b.Snapshot()
			// Sequence numbers in any snapshot must be strictly increasing
			// and the snapshot must never exceed capacity.
			if len(snap) > b.Capacity() {
				t.Errorf("snapshot len %d exceeds capacity %d", len(snap), b.Capacity())
				return
			}
			for j := 1; j < len(snap); j++ {
				if snap[j].Seq != snap[j-1].Seq+1 {
					t.Errorf("non-contiguous seq in snapshot: %d then %d", snap[j-1].Seq, snap[j].Seq)
					return
				}
			}
		}
	}()

	wg.Wait()

	if b.Len() != 500 {
		t.Errorf("final Len() = %d, want 500", b.Len())
	}
}
