package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// synthJob is one sentence to synthesize.
type synthJob struct {
	seq    int
	text   string
	filler bool
}

// synthPool runs TTS jobs with bounded concurrency and feeds completed chunks
// to the ordering gate. The stop signal (ctx) is checked before dispatch and
// again after completion; a stopped job's result is discarded, never
// enqueued. A failed synthesis is logged and its sequence slot skipped.
type synthPool struct {
	ctx    context.Context
	p      *Pipeline
	voice  string
	gateIn chan<- Chunk
	g      *errgroup.Group
}

func newSynthPool(ctx context.Context, p *Pipeline, voice string, gateIn chan<- Chunk) *synthPool {
	g := &errgroup.Group{}
	g.SetLimit(p.cfg.Workers)
	return &synthPool{ctx: ctx, p: p, voice: voice, gateIn: gateIn, g: g}
}

// dispatch schedules one job. It blocks while all workers are busy, which is
// the pipeline's back-pressure on the reasoning stream.
func (sp *synthPool) dispatch(job synthJob) {
	sp.g.Go(func() error {
		sp.synth(job)
		return nil
	})
}

// wait blocks until every dispatched job has finished.
func (sp *synthPool) wait() {
	_ = sp.g.Wait()
}

func (sp *synthPool) synth(job synthJob) {
	if sp.ctx.Err() != nil {
		return
	}

	start := time.Now()
	res, err := sp.p.tts.Synthesize(sp.ctx, tts.SpeechRequest{
		Text:         job.text,
		Voice:        tts.VoiceProfile{ID: sp.voice},
		SampleRate:   sp.p.cfg.SampleRate,
		SpeakingRate: sp.p.cfg.SpeakingRate,
	})
	sp.p.metrics.TTSDuration.Record(context.Background(), time.Since(start).Seconds())
	if err != nil {
		if sp.ctx.Err() == nil {
			slog.Warn("tts pool: synthesis failed; skipping sentence",
				"seq", job.seq, "error", err)
		}
		return
	}
	if sp.ctx.Err() != nil {
		return
	}

	chunk := Chunk{
		Seq:     job.seq,
		Text:    job.text,
		Audio:   res.Audio,
		Timings: res.Timings,
		Filler:  job.filler,
	}
	select {
	case sp.gateIn <- chunk:
	case <-sp.ctx.Done():
	}
}
