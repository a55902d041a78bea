package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// Chunk is one synthesized reply fragment ready for delivery. Seq 0 is the
// filler; real sentences start at 1.
type Chunk struct {
	Seq     int
	Text    string
	Audio   []byte
	Timings []tts.Mark
	Filler  bool
}

// defaultGapGrace bounds how long the gate waits for a missing sequence
// before advancing past it.
const defaultGapGrace = 100 * time.Millisecond

// orderChunks releases chunks from in to out in strictly-increasing,
// contiguous sequence order. The filler (seq 0) is released immediately, but
// only once and only while no real sentence has arrived. When a sequence
// number never shows up (synthesis failure skipped its slot), the gate waits
// up to grace while later results are pending, then advances past the gap.
// Once in closes, remaining results flush in ascending order without further
// waits. ctx is the request stop signal: it is checked before every release,
// and once done nothing further is emitted.
//
// orderChunks closes out before returning.
func orderChunks(ctx context.Context, in <-chan Chunk, out chan<- Chunk, grace time.Duration) {
	defer close(out)
	if grace <= 0 {
		grace = defaultGapGrace
	}

	pending := make(map[int]Chunk)
	nextToEmit := 1
	fillerEmitted := false
	firstRealArrived := false

	emit := func(c Chunk) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// flushReady releases every contiguous pending entry at the cursor.
	flushReady := func() bool {
		for {
			c, ok := pending[nextToEmit]
			if !ok {
				return true
			}
			delete(pending, nextToEmit)
			nextToEmit++
			if !emit(c) {
				return false
			}
		}
	}

	var gapTimer *time.Timer
	var gapC <-chan time.Time
	stopGapTimer := func() {
		if gapTimer != nil {
			gapTimer.Stop()
			gapTimer = nil
			gapC = nil
		}
	}
	armGapTimer := func() {
		stopGapTimer()
		if len(pending) > 0 {
			gapTimer = time.NewTimer(grace)
			gapC = gapTimer.C
		}
	}
	defer stopGapTimer()

	for {
		select {
		case <-ctx.Done():
			return

		case <-gapC:
			// The next sequence never arrived; skip over the gap.
			nextToEmit++
			if !flushReady() {
				return
			}
			armGapTimer()

		case c, ok := <-in:
			if !ok {
				// Sentinel: flush whatever remains, ascending, no waits.
				seqs := make([]int, 0, len(pending))
				for seq := range pending {
					seqs = append(seqs, seq)
				}
				sort.Ints(seqs)
				for _, seq := range seqs {
					if !emit(pending[seq]) {
						return
					}
				}
				return
			}

			if c.Seq == 0 {
				if !fillerEmitted && !firstRealArrived {
					fillerEmitted = true
					if !emit(c) {
						return
					}
				}
				continue
			}

			firstRealArrived = true
			pending[c.Seq] = c
			if !flushReady() {
				return
			}
			armGapTimer()
		}
	}
}
