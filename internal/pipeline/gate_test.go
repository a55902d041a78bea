package pipeline

import (
	"context"
	"testing"
	"time"
)

// runGate feeds chunks to an ordering gate and returns the emitted sequence
// numbers once the gate has drained. closeIn controls whether the sentinel
// (input close) is posted.
func runGate(t *testing.T, ctx context.Context, grace time.Duration, chunks []Chunk, closeIn bool) []int {
	t.Helper()
	in := make(chan Chunk, len(chunks))
	out := make(chan Chunk, len(chunks)+4)
	for _, c := range chunks {
		in <- c
	}
	if closeIn {
		close(in)
	}
	go orderChunks(ctx, in, out, grace)

	var got []int
	for c := range out {
		got = append(got, c.Seq)
	}
	return got
}

func equalSeqs(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestGate_OutOfOrderArrivalsDeliveredInOrder(t *testing.T) {
	t.Parallel()
	chunks := []Chunk{{Seq: 2}, {Seq: 1}, {Seq: 3}}
	got := runGate(t, context.Background(), time.Second, chunks, true)
	if !equalSeqs(got, []int{1, 2, 3}) {
		t.Errorf("emitted %v, want [1 2 3]", got)
	}
}

func TestGate_FillerEmittedBeforeFirstReal(t *testing.T) {
	t.Parallel()
	chunks := []Chunk{{Seq: 0, Filler: true}, {Seq: 1}}
	got := runGate(t, context.Background(), time.Second, chunks, true)
	if !equalSeqs(got, []int{0, 1}) {
		t.Errorf("emitted %v, want [0 1]", got)
	}
}

func TestGate_FillerSuppressedAfterRealArrived(t *testing.T) {
	t.Parallel()
	chunks := []Chunk{{Seq: 1}, {Seq: 0, Filler: true}}
	got := runGate(t, context.Background(), time.Second, chunks, true)
	if !equalSeqs(got, []int{1}) {
		t.Errorf("emitted %v, want [1]", got)
	}
}

func TestGate_AtMostOneFiller(t *testing.T) {
	t.Parallel()
	chunks := []Chunk{{Seq: 0, Filler: true}, {Seq: 0, Filler: true}, {Seq: 1}}
	got := runGate(t, context.Background(), time.Second, chunks, true)
	if !equalSeqs(got, []int{0, 1}) {
		t.Errorf("emitted %v, want [0 1]", got)
	}
}

func TestGate_GapAdvancesAfterGrace(t *testing.T) {
	t.Parallel()
	in := make(chan Chunk, 4)
	out := make(chan Chunk, 4)
	go orderChunks(context.Background(), in, out, 20*time.Millisecond)

	in <- Chunk{Seq: 1}
	in <- Chunk{Seq: 3} // seq 2 failed synthesis and never arrives

	if c := <-out; c.Seq != 1 {
		t.Fatalf("first emission seq = %d, want 1", c.Seq)
	}
	select {
	case c := <-out:
		if c.Seq != 3 {
			t.Fatalf("second emission seq = %d, want 3", c.Seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gate never advanced past the gap")
	}
	close(in)
	for range out {
	}
}

func TestGate_SentinelFlushesRemainingAscending(t *testing.T) {
	t.Parallel()
	// Seq 1 never arrives; closing the input must flush 2 and 3 in order
	// without waiting out the grace period.
	chunks := []Chunk{{Seq: 3}, {Seq: 2}}
	start := time.Now()
	got := runGate(t, context.Background(), 5*time.Second, chunks, true)
	if !equalSeqs(got, []int{2, 3}) {
		t.Errorf("emitted %v, want [2 3]", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("flush waited %v; sentinel flush must not wait out the grace", elapsed)
	}
}

func TestGate_StopSignalAbandonsWork(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chunks := []Chunk{{Seq: 1}, {Seq: 2}}
	got := runGate(t, ctx, time.Second, chunks, true)
	if len(got) != 0 {
		t.Errorf("emitted %v after stop, want nothing", got)
	}
}
