package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/pipeline"
	"github.com/voxgate/voxgate/internal/security"
	"github.com/voxgate/voxgate/internal/session"
	sttbridge "github.com/voxgate/voxgate/internal/stt"
	"github.com/voxgate/voxgate/pkg/docstore"
)

// readLimitSlack covers the JSON envelope and base64 expansion around the
// largest permitted audio frame.
const readLimitSlack = 64 * 1024

// defaultMaxAudioBytes bounds a single inbound frame when the config does
// not say otherwise.
const defaultMaxAudioBytes = 10 << 20

// Compile-time interface check.
var _ http.Handler = (*Server)(nil)

// Deps are the subsystems a Server needs. Docs may be nil when no document
// store is configured; get_documents then answers with an empty list.
type Deps struct {
	Authorizer *security.Authorizer
	Sessions   session.Store
	Pipeline   *pipeline.Pipeline
	Bridge     *sttbridge.Bridge
	Docs       docstore.Index
}

// Server upgrades HTTP requests to WebSocket connections and runs one state
// machine per connection.
type Server struct {
	authorizer *security.Authorizer
	sessions   session.Store
	pipeline   *pipeline.Pipeline
	bridge     *sttbridge.Bridge
	docs       docstore.Index

	maxAudioBytes int64
	logger        *slog.Logger
	metrics       *observe.Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithMaxAudioBytes bounds the inbound frame size.
func WithMaxAudioBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxAudioBytes = int64(n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates the gateway server.
func NewServer(deps Deps, opts ...Option) *Server {
	s := &Server{
		authorizer:    deps.Authorizer,
		sessions:      deps.Sessions,
		pipeline:      deps.Pipeline,
		bridge:        deps.Bridge,
		docs:          deps.Docs,
		maxAudioBytes: defaultMaxAudioBytes,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// ServeHTTP implements http.Handler: it accepts the WebSocket upgrade and
// runs the connection until the peer goes away. Origin enforcement happens
// at auth time against the key's allowlist, not at upgrade time.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "connection teardown")

	ws.SetReadLimit(s.maxAudioBytes + readLimitSlack)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	logger := observe.Logger(ctx).With("remote", r.RemoteAddr)
	s.metrics.ActiveConnections.Add(ctx, 1)
	defer s.metrics.ActiveConnections.Add(ctx, -1)

	out := newOutbox(logger)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		out.run(ctx, ws)
	}()

	c := newConn(s, out, logger)
	c.origin = r.Header.Get("Origin")

	logger.Debug("connection open")
	s.readLoop(ctx, ws, c)

	c.closeDown(ctx)
	cancel()
	<-writerDone
	ws.Close(websocket.StatusNormalClosure, "")
	logger.Debug("connection closed")
}

// readLoop feeds inbound frames to the state machine until the socket
// closes or the context ends.
func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, c *conn) {
	for {
		msgType, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			c.sendError("binary frames not supported")
			continue
		}
		c.handleFrame(ctx, data)
	}
}
