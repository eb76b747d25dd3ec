package buffer_test

import (
	"strings"
	"testing"

	"github.com/pubnub-go/pncore/buffer"
)

func TestTX_AppendAndOverflow(t *testing.T) {
	tx := buffer.NewTX(buffer.MinTXCapacity)
	if err := tx.AppendString("GET /time/0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(tx.Bytes()) != "GET /time/0" {
		t.Errorf("got %q", tx.Bytes())
	}
	if err := tx.AppendString(strings.Repeat("x", buffer.MinTXCapacity)); err != buffer.ErrTooSmall {
		t.Errorf("expected ErrTooSmall, got %v", err)
	}
}

func TestTX_MinCapacity(t *testing.T) {
	tx := buffer.NewTX(10)
	if tx.Cap() < buffer.MinTXCapacity {
		t.Errorf("capacity should be clamped to MinTXCapacity, got %d", tx.Cap())
	}
}

func TestRX_Invariant(t *testing.T) {
	rx := buffer.NewFixedRX(64)
	if !rx.CheckInvariant() {
		t.Fatal("invariant should hold on a fresh buffer")
	}

	space := rx.WriteSpace()
	n := copy(space, []byte("HTTP/1.1 200 OK\r\n\r\n"))
	rx.Produce(n)
	if !rx.CheckInvariant() {
		t.Fatal("invariant should hold after Produce")
	}

	rx.Consume(10)
	if !rx.CheckInvariant() {
		t.Fatal("invariant should hold after Consume")
	}
	if rx.Left() != n-10 {
		t.Errorf("got Left()=%d, want %d", rx.Left(), n-10)
	}
}

func TestRX_CompactPreservesUnread(t *testing.T) {
	rx := buffer.NewFixedRX(32)
	n := copy(rx.WriteSpace(), []byte("0123456789"))
	rx.Produce(n)
	rx.Consume(4)

	rx.Compact()
	if got := string(rx.Peek()); got != "456789" {
		t.Errorf("got %q after Compact, want 456789", got)
	}
	if !rx.CheckInvariant() {
		t.Fatal("invariant should hold after Compact")
	}
}

func TestRX_GrowableVsFixed(t *testing.T) {
	fixed := buffer.NewFixedRX(8)
	if fixed.Grow() {
		t.Error("fixed buffer should not grow")
	}

	growable := buffer.NewGrowableRX(8)
	before := growable.Cap()
	if !growable.Grow() {
		t.Fatal("growable buffer should grow")
	}
	if growable.Cap() <= before {
		t.Errorf("capacity should increase, got %d -> %d", before, growable.Cap())
	}
}

func TestRX_ResetClearsCursors(t *testing.T) {
	rx := buffer.NewFixedRX(16)
	n := copy(rx.WriteSpace(), []byte("abcdef"))
	rx.Produce(n)
	rx.Consume(2)
	rx.Reset()
	if rx.Left() != 0 || rx.Filled() != 0 {
		t.Errorf("Reset should clear cursor/filled, got Left=%d Filled=%d", rx.Left(), rx.Filled())
	}
	if !rx.CheckInvariant() {
		t.Fatal("invariant should hold after Reset")
	}
}
