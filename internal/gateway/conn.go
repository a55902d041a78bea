package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/voxgate/voxgate/internal/pipeline"
	sttbridge "github.com/voxgate/voxgate/internal/stt"
)

// connState is the connection's position in the protocol.
type connState int

const (
	stateAwaitAuth connState = iota
	stateReady
	stateStreaming
)

// conn is the per-connection state machine. All frame handling runs on the
// single read-loop goroutine; the reply worker and the outbox writer are the
// only concurrent parties, and they touch conn only through reply and outbox.
type conn struct {
	srv    *Server
	out    *outbox
	logger *slog.Logger

	state     connState
	origin    string
	sessionID string

	// utterance state
	stream   *sttbridge.Stream
	voice    string
	mode     pipeline.Mode
	document string

	reply *reply
}

// reply tracks one in-flight reply pipeline so barge-in and restart can
// cancel it and emit the interrupted status exactly once.
type reply struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	completed bool
}

// finish marks the reply completed unless it was already cancelled. Returns
// true when this call won, i.e. the worker should emit its own terminal
// status frame.
func (r *reply) finish() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed {
		return false
	}
	r.completed = true
	return true
}

func newConn(srv *Server, out *outbox, logger *slog.Logger) *conn {
	return &conn{
		srv:    srv,
		out:    out,
		logger: logger,
		state:  stateAwaitAuth,
	}
}

// handleFrame dispatches one inbound frame according to the current state.
func (c *conn) handleFrame(ctx context.Context, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.sendError("malformed frame")
		return
	}

	if c.state == stateAwaitAuth {
		if f.Type != TypeAuth {
			c.sendError("authentication required")
			return
		}
		c.handleAuth(ctx, f)
		return
	}

	switch f.Type {
	case TypeAuth:
		c.sendError("already authenticated")
	case TypeGetDocuments:
		c.handleGetDocuments(ctx)
	case TypeStartStream:
		c.handleStartStream(ctx, f)
	case TypeSTTAudio:
		c.handleSTTAudio(ctx, f)
	case TypeEndSpeech:
		c.handleEndSpeech(ctx)
	case TypeBargeIn:
		c.handleBargeIn(ctx)
	default:
		c.sendError("unknown message type: " + f.Type)
	}
}

func (c *conn) handleAuth(ctx context.Context, f Frame) {
	data, err := decodeData[AuthData](f)
	if err != nil {
		c.sendError("malformed auth data")
		return
	}
	if err := c.srv.authorizer.Authorize(data.APIKey, c.origin); err != nil {
		c.logger.WarnContext(ctx, "auth rejected", "error", err)
		c.sendError("authentication failed")
		return
	}

	sess, err := c.srv.sessions.GetOrCreate(ctx, data.SessionID)
	if err != nil {
		c.logger.ErrorContext(ctx, "session load failed", "error", err)
		c.sendError("session unavailable")
		return
	}
	c.sessionID = sess.ID
	c.state = stateReady
	c.logger = c.logger.With("session_id", sess.ID)
	c.out.send(TypeConnected, ConnectedData{Status: "ok", SessionID: sess.ID})
}

func (c *conn) handleGetDocuments(ctx context.Context) {
	docs := []string{}
	if c.srv.docs != nil {
		listed, err := c.srv.docs.ListDocuments(ctx)
		if err != nil {
			c.logger.WarnContext(ctx, "list documents failed", "error", err)
			c.sendError("document list unavailable")
			return
		}
		docs = append(docs, listed...)
	}
	c.out.send(TypeDocumentsList, DocumentsListData{Documents: docs})
}

func (c *conn) handleStartStream(ctx context.Context, f Frame) {
	data, err := decodeData[StartStreamData](f)
	if err != nil {
		c.sendError("malformed start_stream data")
		return
	}
	mode, ok := parseMode(data.Mode)
	if !ok {
		c.sendError("unknown mode: " + data.Mode)
		return
	}

	// A new utterance interrupts everything in flight.
	c.cancelReply(ctx)
	c.cancelStream()

	stream, err := c.srv.bridge.Open(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "stt stream open failed", "error", err)
		c.sendError("speech recognition unavailable")
		return
	}
	c.srv.metrics.ActiveStreams.Add(ctx, 1)

	c.stream = stream
	c.voice = data.Voice
	c.mode = mode
	c.document = data.SelectedDocument
	c.state = stateStreaming
	c.out.send(TypeStreamStarted, StreamStartedData{SessionID: c.sessionID})
}

func (c *conn) handleSTTAudio(ctx context.Context, f Frame) {
	if c.state != stateStreaming || c.stream == nil {
		// Clients race trailing audio past end_speech; stray frames are
		// dropped, not answered with an error.
		c.logger.DebugContext(ctx, "dropping stt_audio outside an active stream")
		return
	}
	data, err := decodeData[STTAudioData](f)
	if err != nil {
		c.sendError("malformed stt_audio data")
		return
	}
	frame, err := base64.StdEncoding.DecodeString(data.Audio)
	if err != nil {
		c.sendError("invalid audio encoding")
		return
	}
	c.stream.Push(frame)
}

func (c *conn) handleEndSpeech(ctx context.Context) {
	if c.state != stateStreaming || c.stream == nil {
		// end_speech without an open stream still gets its terminal frame so
		// the client's turn state machine can advance.
		c.out.send(TypeStreamComplete, StreamCompleteData{Status: StatusCompleted})
		return
	}
	stream := c.stream
	stream.EndOfSpeech()
	c.stream = nil
	c.state = stateReady
	c.srv.metrics.ActiveStreams.Add(ctx, -1)

	replyCtx, cancel := context.WithCancel(ctx)
	r := &reply{cancel: cancel, done: make(chan struct{})}
	c.reply = r

	req := pipeline.Request{
		Mode:      c.mode,
		Voice:     c.voice,
		Document:  c.document,
		SessionID: c.sessionID,
	}
	go c.runReply(replyCtx, r, stream, req)
}

// runReply is the per-utterance worker: transcript, pipeline, terminal frame.
func (c *conn) runReply(ctx context.Context, r *reply, stream *sttbridge.Stream, req pipeline.Request) {
	defer close(r.done)

	transcript := stream.Transcript(ctx)
	if ctx.Err() != nil {
		return
	}
	if transcript == "" {
		if r.finish() {
			c.out.send(TypeStreamComplete, StreamCompleteData{Status: StatusCompleted})
		}
		return
	}

	req.Transcript = transcript
	err := c.srv.pipeline.Run(ctx, req, &connEmitter{out: c.out})
	switch {
	case errors.Is(err, context.Canceled):
		// The canceller owns the interrupted frame.
	case err != nil:
		c.logger.WarnContext(ctx, "reply pipeline failed", "error", err)
		if r.finish() {
			c.sendError("reply failed")
		}
	default:
		if r.finish() {
			c.out.send(TypeStreamComplete, StreamCompleteData{Status: StatusCompleted})
		}
	}
}

func (c *conn) handleBargeIn(ctx context.Context) {
	c.cancelReply(ctx)
	c.cancelStream()
	if c.state == stateStreaming {
		c.state = stateReady
	}
}

// cancelReply stops the in-flight reply, if any, and emits the interrupted
// status exactly once on its behalf.
func (c *conn) cancelReply(ctx context.Context) {
	r := c.reply
	if r == nil {
		return
	}
	c.reply = nil
	r.cancel()
	<-r.done
	if r.finish() {
		c.out.send(TypeStreamComplete, StreamCompleteData{Status: StatusInterrupted})
	}
}

// cancelStream abandons the current STT stream, if any.
func (c *conn) cancelStream() {
	if c.stream == nil {
		return
	}
	c.stream.Cancel()
	c.stream = nil
	if c.state == stateStreaming {
		c.srv.metrics.ActiveStreams.Add(context.Background(), -1)
	}
}

// closeDown releases everything when the socket goes away.
func (c *conn) closeDown(ctx context.Context) {
	c.cancelReply(ctx)
	c.cancelStream()
	c.out.close()
}

func (c *conn) sendError(msg string) {
	c.out.send(TypeError, ErrorData{Message: msg})
}

// parseMode maps the wire mode string onto the pipeline mode.
func parseMode(s string) (pipeline.Mode, bool) {
	switch s {
	case "general", "":
		return pipeline.ModeGeneral, true
	case "document", "documents":
		return pipeline.ModeDocuments, true
	case "agent":
		return pipeline.ModeAgent, true
	}
	return "", false
}

// connEmitter adapts the pipeline outputs to wire frames.
type connEmitter struct {
	out *outbox
}

// AudioChunk implements [pipeline.Emitter].
func (e *connEmitter) AudioChunk(_ context.Context, chunk pipeline.Chunk) error {
	words := make([]WordMark, 0, len(chunk.Timings))
	for _, m := range chunk.Timings {
		words = append(words, WordMark{Word: m.Word, TimeSeconds: m.TimeSeconds})
	}
	e.out.send(TypeAudioChunk, AudioChunkData{
		Text:  chunk.Text,
		Audio: base64.StdEncoding.EncodeToString(chunk.Audio),
		Words: words,
	})
	return nil
}

// ConversationPair implements [pipeline.Emitter].
func (e *connEmitter) ConversationPair(_ context.Context, user, assistant string) error {
	e.out.send(TypeConversationPair, ConversationPairData{
		UserQuery:   user,
		LLMResponse: assistant,
	})
	return nil
}
