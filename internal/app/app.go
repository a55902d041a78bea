// Package app wires all voxgate subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the gateway until the context ends, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSessionStore, WithDocumentIndex, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/voxgate/voxgate/internal/booking"
	bookingpg "github.com/voxgate/voxgate/internal/booking/postgres"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/gateway"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/pipeline"
	"github.com/voxgate/voxgate/internal/reasoning"
	"github.com/voxgate/voxgate/internal/resilience"
	"github.com/voxgate/voxgate/internal/security"
	"github.com/voxgate/voxgate/internal/session"
	sttbridge "github.com/voxgate/voxgate/internal/stt"
	"github.com/voxgate/voxgate/pkg/docstore"
	docstorepg "github.com/voxgate/voxgate/pkg/docstore/postgres"
	"github.com/voxgate/voxgate/pkg/provider/embeddings"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// shutdownGrace bounds how long Run waits for the HTTP server to drain.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	sessions session.Store
	docs     docstore.Index
	tables   booking.Store
	pipeline *pipeline.Pipeline
	bridge   *sttbridge.Bridge
	gateway  *gateway.Server
	handler  http.Handler
	metrics  *observe.Metrics

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session store instead of creating one from config.
func WithSessionStore(s session.Store) Option {
	return func(a *App) { a.sessions = s }
}

// WithDocumentIndex injects a passage index instead of connecting to Postgres.
func WithDocumentIndex(idx docstore.Index) Option {
	return func(a *App) { a.docs = idx }
}

// WithBookingStore injects the agent's table store.
func WithBookingStore(s booking.Store) Option {
	return func(a *App) { a.tables = s }
}

// WithMetrics injects a metrics instance instead of the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initSessions(ctx); err != nil {
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}
	if err := a.initDocuments(ctx); err != nil {
		return nil, fmt.Errorf("app: init documents: %w", err)
	}
	if err := a.initBooking(ctx); err != nil {
		return nil, fmt.Errorf("app: init booking: %w", err)
	}
	a.initPipeline()
	a.initGateway()
	a.initHandler()

	return a, nil
}

// initSessions builds the Redis-backed session store, or the in-memory one
// when no Redis address is configured.
func (a *App) initSessions(ctx context.Context) error {
	if a.sessions != nil {
		return nil
	}

	ttl := a.cfg.Session.TTL.Std()
	capN := a.cfg.Session.HistoryCap

	rc := a.cfg.Session.Redis
	if rc.Addr == "" {
		slog.Info("sessions in memory only", "ttl", ttl, "history_cap", capN)
		a.sessions = session.NewMemoryStore(
			session.WithMemoryTTL(ttl),
			session.WithMemoryHistoryCap(capN),
		)
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable at startup, sessions degrade to memory", "addr", rc.Addr, "error", err)
	}

	opts := []session.RedisOption{
		session.WithTTL(ttl),
		session.WithHistoryCap(capN),
	}
	if rc.Prefix != "" {
		opts = append(opts, session.WithPrefix(rc.Prefix))
	}
	a.sessions = session.NewRedisStore(client, opts...)
	a.closers = append(a.closers, client.Close)
	slog.Info("sessions on redis", "addr", rc.Addr, "ttl", ttl)
	return nil
}

// initDocuments connects the pgvector passage index when a DSN is configured.
// Without one, document mode degrades to general at reply time.
func (a *App) initDocuments(ctx context.Context) error {
	if a.docs != nil {
		return nil
	}
	dsn := a.cfg.Documents.PostgresDSN
	if dsn == "" {
		slog.Info("no document store configured, document mode degrades to general")
		return nil
	}

	store, err := docstorepg.NewStore(ctx, dsn, a.cfg.Documents.EmbeddingDimensions)
	if err != nil {
		return err
	}
	a.docs = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("document index connected", "dimensions", a.cfg.Documents.EmbeddingDimensions)
	return nil
}

// initBooking builds the agent's table store. It shares the document store's
// pool when both live in the same Postgres, and falls back to an in-memory
// store when no database is configured.
func (a *App) initBooking(ctx context.Context) error {
	if a.tables != nil {
		return nil
	}
	tables := a.cfg.Agent.Tables
	if len(tables) == 0 {
		return nil
	}

	if pgStore, ok := a.docs.(*docstorepg.Store); ok {
		a.tables = bookingpg.NewStoreWithPool(pgStore.Pool(), tables)
		slog.Info("booking tables on shared postgres pool", "tables", tables)
		return nil
	}
	if dsn := a.cfg.Documents.PostgresDSN; dsn != "" {
		store, err := bookingpg.NewStore(ctx, dsn, tables)
		if err != nil {
			return err
		}
		a.tables = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		return nil
	}

	slog.Warn("booking tables in memory only", "tables", tables)
	a.tables = booking.NewMemoryStore(tables)
	return nil
}

// initPipeline assembles the reasoning backends and the reply pipeline.
func (a *App) initPipeline() {
	backends := pipeline.Backends{}
	if a.providers.LLM != nil {
		backends.General = reasoning.NewGeneral(a.providers.LLM)
		if a.docs != nil && a.providers.Embeddings != nil {
			backends.Documents = reasoning.NewDocument(
				a.providers.LLM, a.providers.Embeddings, a.docs,
				reasoning.WithTopK(a.cfg.Documents.TopK),
			)
		}
		if a.tables != nil {
			backends.Agent = reasoning.NewAgent(
				a.providers.LLM, a.tables,
				reasoning.WithMaxLoops(a.cfg.Agent.MaxLoops),
				reasoning.WithRetryConfig(resilience.RetryConfig{}),
			)
		}
	}

	a.pipeline = pipeline.New(a.providers.TTS, backends, a.sessions, pipeline.Config{
		Workers:      a.cfg.TTS.Workers,
		GapGrace:     a.cfg.TTS.GapGrace.Std(),
		SampleRate:   a.cfg.TTS.SampleRate,
		SpeakingRate: a.cfg.TTS.SpeakingRate,
	}, pipeline.WithMetrics(a.metrics))
}

// initGateway builds the STT bridge and the WebSocket server.
func (a *App) initGateway() {
	a.bridge = sttbridge.New(a.providers.STT, sttbridge.Config{
		Stream: stt.StreamConfig{
			SampleRate: a.cfg.STT.SampleRate,
			Channels:   1,
			Language:   a.cfg.STT.Language,
			Model:      a.cfg.STT.Model,
			Encoding:   a.cfg.STT.Encoding,
		},
		QueueSize:      a.cfg.STT.QueueSize,
		ReplayCapBytes: a.cfg.STT.ReplayCapBytes,
		TranscriptWait: a.cfg.STT.TranscriptWait.Std(),
	}, sttbridge.WithMetrics(a.metrics))

	a.gateway = gateway.NewServer(gateway.Deps{
		Authorizer: security.NewAuthorizer(a.cfg.Security.APIKeys),
		Sessions:   a.sessions,
		Pipeline:   a.pipeline,
		Bridge:     a.bridge,
		Docs:       a.docs,
	},
		gateway.WithMaxAudioBytes(a.cfg.Session.MaxAudioBytes),
		gateway.WithMetrics(a.metrics),
	)
}

// initHandler assembles the shared mux: gateway, health, metrics.
func (a *App) initHandler() {
	mux := http.NewServeMux()
	mux.Handle("/ws", a.gateway)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(a.healthCheckers()...).Register(mux)

	a.handler = observe.Middleware(a.metrics)(mux)
}

// healthCheckers lists the readiness probes for the configured subsystems.
func (a *App) healthCheckers() []health.Checker {
	checkers := []health.Checker{{
		Name: "providers",
		Check: func(context.Context) error {
			if a.providers.STT == nil || a.providers.TTS == nil || a.providers.LLM == nil {
				return errors.New("stt, tts and llm providers are required")
			}
			return nil
		},
	}}
	if rs, ok := a.sessions.(*session.RedisStore); ok {
		checkers = append(checkers, health.Checker{Name: "sessions", Check: rs.Ping})
	}
	return checkers
}

// Handler exposes the assembled HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves the gateway until ctx is cancelled, then drains connections.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        a.cfg.Server.ListenAddr,
		Handler:     a.handler,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("voxgate listening", "addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		slog.Warn("server drain incomplete", "error", err)
	}
	return ctx.Err()
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
