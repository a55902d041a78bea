package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/reasoning"
	"github.com/voxgate/voxgate/internal/session"
	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// Mode selects the reasoning backend for a reply.
type Mode string

const (
	ModeGeneral   Mode = "general"
	ModeDocuments Mode = "documents"
	ModeAgent     Mode = "agent"
)

// Backends groups the reasoning backends by mode. Documents and Agent may be
// nil when the deployment does not configure them; document mode then
// degrades to general.
type Backends struct {
	General   reasoning.Streamer
	Documents reasoning.Streamer
	Agent     reasoning.Answerer
}

// Config tunes the pipeline. Zero values get defaults from New.
type Config struct {
	// Workers bounds concurrent TTS synthesis. Default 3.
	Workers int

	// GapGrace is how long the ordering gate waits for a missing sequence.
	// Default 100ms.
	GapGrace time.Duration

	// SampleRate and SpeakingRate are passed to every synthesis request.
	SampleRate   int
	SpeakingRate float64
}

// Request describes one reply to produce.
type Request struct {
	Transcript string
	Mode       Mode
	Voice      string
	Document   string
	SessionID  string
}

// Emitter receives the pipeline's outputs in delivery order. Implementations
// translate them to wire frames.
type Emitter interface {
	AudioChunk(ctx context.Context, c Chunk) error
	ConversationPair(ctx context.Context, user, assistant string) error
}

// Pipeline coordinates one reply: reasoning, sentence splitting, bounded TTS
// synthesis, and ordered delivery.
type Pipeline struct {
	tts      tts.Provider
	backends Backends
	sessions session.Store
	cfg      Config
	metrics  *observe.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a reply pipeline.
func New(ttsProvider tts.Provider, backends Backends, sessions session.Store, cfg Config, opts ...Option) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.GapGrace <= 0 {
		cfg.GapGrace = defaultGapGrace
	}
	p := &Pipeline{tts: ttsProvider, backends: backends, sessions: sessions, cfg: cfg}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Run produces one reply for req and emits it through emit. It returns
// ctx.Err() when the reply was cancelled mid-flight and nil otherwise.
// Cancelling ctx is the stop signal: no further chunks are emitted, no
// history is written.
func (p *Pipeline) Run(ctx context.Context, req Request, emit Emitter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	p.metrics.ActiveReplies.Add(ctx, 1)
	defer p.metrics.ActiveReplies.Add(context.Background(), -1)

	mode, streamer, answerer := p.resolveBackend(req.Mode)

	sess, err := p.sessions.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		return err
	}
	query := reasoning.Query{
		Text:      req.Transcript,
		History:   sess.History,
		Document:  req.Document,
		Variables: sess.Variables,
	}

	// Ordering gate and the single emitter goroutine.
	gateIn := make(chan Chunk, p.cfg.Workers*2)
	gateOut := make(chan Chunk, 8)
	go orderChunks(ctx, gateIn, gateOut, p.cfg.GapGrace)

	emitDone := make(chan struct{})
	go func() {
		defer close(emitDone)
		for c := range gateOut {
			if err := emit.AudioChunk(ctx, c); err != nil {
				slog.Warn("reply pipeline: audio chunk emit failed; stopping reply", "error", err)
				cancel()
				return
			}
			kind := "sentence"
			if c.Filler {
				kind = "filler"
			}
			p.metrics.RecordAudioChunk(ctx, kind)
		}
	}()

	pool := newSynthPool(ctx, p, req.Voice, gateIn)

	if filler := fillerFor(req.Transcript, mode == ModeDocuments); filler != "" {
		pool.dispatch(synthJob{seq: 0, text: filler, filler: true})
	}

	reply := p.produceReply(ctx, mode, streamer, answerer, query, pool)

	pool.wait()
	close(gateIn)
	<-emitDone

	if ctx.Err() != nil {
		p.metrics.RecordReply(ctx, string(mode), "interrupted")
		p.metrics.ReplyDuration.Record(context.Background(), time.Since(start).Seconds())
		return ctx.Err()
	}

	// Persist variables mutated by the backend (e.g. a pending confirmation)
	// and the exchange itself, unless the reply is boilerplate.
	if err := p.sessions.Save(ctx, sess); err != nil {
		slog.Warn("reply pipeline: session save failed", "session_id", sess.ID, "error", err)
	}
	if !isTrivialReply(reply) {
		ex := session.Exchange{User: req.Transcript, Assistant: reply, Timestamp: time.Now().UTC()}
		if err := p.sessions.AppendExchange(ctx, sess.ID, ex); err != nil {
			slog.Warn("reply pipeline: history append failed", "session_id", sess.ID, "error", err)
		}
	}

	if err := emit.ConversationPair(ctx, req.Transcript, reply); err != nil {
		slog.Warn("reply pipeline: conversation pair emit failed", "error", err)
	}

	p.metrics.RecordReply(ctx, string(mode), "completed")
	p.metrics.ReplyDuration.Record(ctx, time.Since(start).Seconds())
	return nil
}

// resolveBackend maps the requested mode onto an available backend, degrading
// document mode to general when no document backend is configured.
func (p *Pipeline) resolveBackend(mode Mode) (Mode, reasoning.Streamer, reasoning.Answerer) {
	switch mode {
	case ModeAgent:
		if p.backends.Agent != nil {
			return ModeAgent, nil, p.backends.Agent
		}
		slog.Warn("reply pipeline: agent mode requested but no agent backend configured; using general")
	case ModeDocuments:
		if p.backends.Documents != nil {
			return ModeDocuments, p.backends.Documents, nil
		}
		slog.Warn("reply pipeline: document mode requested but no document backend configured; using general")
	}
	return ModeGeneral, p.backends.General, nil
}

// produceReply runs the reasoning backend, dispatching one TTS job per
// completed sentence, and returns the full reply text.
func (p *Pipeline) produceReply(ctx context.Context, mode Mode, streamer reasoning.Streamer, answerer reasoning.Answerer, query reasoning.Query, pool *synthPool) string {
	var splitter Splitter
	seq := 0
	dispatchSentence := func(text string) {
		seq++
		pool.dispatch(synthJob{seq: seq, text: text})
	}

	var reply string
	switch {
	case answerer != nil:
		text, err := answerer.AnswerOnce(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return ""
			}
			slog.Warn("reply pipeline: agent backend failed", "error", err)
			text = reasoning.FallbackReply
		}
		reply = text
		for _, s := range splitter.Push(text) {
			dispatchSentence(s)
		}

	default:
		stream, err := streamer.StreamTokens(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return ""
			}
			slog.Warn("reply pipeline: reasoning backend failed", "error", err)
			reply = reasoning.FallbackReply
			for _, s := range splitter.Push(reply) {
				dispatchSentence(s)
			}
			break
		}
		var full strings.Builder
		for token := range stream.Tokens() {
			full.WriteString(token)
			for _, s := range splitter.Push(token) {
				dispatchSentence(s)
			}
		}
		reply = full.String()
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			slog.Warn("reply pipeline: reasoning stream died", "error", err, "partial_bytes", len(reply))
			if strings.TrimSpace(reply) == "" {
				reply = reasoning.FallbackReply
				for _, s := range splitter.Push(reply) {
					dispatchSentence(s)
				}
			}
		}
	}

	if rest := splitter.Flush(); rest != "" {
		dispatchSentence(rest)
	}
	return reply
}

// isTrivialReply reports whether a reply is boilerplate that should not enter
// session history.
func isTrivialReply(reply string) bool {
	switch strings.TrimSpace(reply) {
	case "", "Done.", reasoning.FallbackReply, reasoning.EmptyTranscriptReply:
		return true
	}
	return false
}
