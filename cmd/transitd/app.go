package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/transitd/internal/assistant"
	"github.com/fyrsmithlabs/transitd/internal/classifier"
	"github.com/fyrsmithlabs/transitd/internal/config"
	"github.com/fyrsmithlabs/transitd/internal/disambiguation"
	"github.com/fyrsmithlabs/transitd/internal/httpapi"
	"github.com/fyrsmithlabs/transitd/internal/knowledge"
	"github.com/fyrsmithlabs/transitd/internal/learning"
	"github.com/fyrsmithlabs/transitd/internal/metrics"
	"github.com/fyrsmithlabs/transitd/internal/patternsql"
	"github.com/fyrsmithlabs/transitd/internal/retrieval"
	"github.com/fyrsmithlabs/transitd/internal/rules"
	"github.com/fyrsmithlabs/transitd/internal/session"
)

const sweepInterval = time.Minute

// app holds the wired components of a running daemon.
type app struct {
	engine  *assistant.Engine
	checks  []namedCheck
	logger  *zap.Logger
	cancel  context.CancelFunc
	closers []func()
}

type namedCheck struct {
	name string
	fn   httpapi.HealthCheck
}

// newApp initializes every dependency in order. On error, anything already
// opened is released.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, mt *metrics.Metrics) (_ *app, err error) {
	bg, cancel := context.WithCancel(context.Background())
	a := &app{logger: logger, cancel: cancel}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	set, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	holder, err := a.initKnowledge(bg, cfg.Knowledge)
	if err != nil {
		return nil, err
	}

	patterns := learning.NewStore()
	var publishers []learning.Publisher

	if cfg.Store.Driver != "none" {
		writer, err := a.initMirror(ctx, cfg, patterns, mt)
		if err != nil {
			return nil, err
		}
		if writer != nil {
			publishers = append(publishers, writer)
		}
	}

	if cfg.NATS.Enabled {
		b, err := a.initNATS(cfg.NATS, patterns, mt)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, b)
	}

	store, err := a.initSessions(bg, cfg)
	if err != nil {
		return nil, err
	}

	collab, err := disambiguation.NewCollaborator(cfg.Disambiguation)
	if err != nil {
		return nil, fmt.Errorf("failed to create disambiguation collaborator: %w", err)
	}

	engine, err := assistant.NewEngine(assistant.Deps{
		Classifier:  classifier.New(set, cfg.Classifier, cfg.Learning, patterns, logger, mt),
		Tracker:     session.NewTracker(store, set, cfg.Session, logger, mt),
		Retriever:   retrieval.New(holder, cfg.Retrieval, logger, mt),
		Learner:     learning.NewFeedbackLearner(patterns, set, cfg.Learning, logger, mt, publishers...),
		Interpreter: disambiguation.NewInterpreter(set, collab, cfg.Disambiguation, logger, mt),
	}, cfg.Learning, logger, mt)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	a.engine = engine
	// the engine closes first so no turn publishes into a closed writer
	a.onClose(engine.Close)

	logger.Info("Dependencies initialized",
		zap.Int("topics", len(set.Topics)),
		zap.Int("entries", holder.Catalogue().Len()),
		zap.Int("patterns", patterns.Len()),
		zap.String("session_backend", cfg.Session.Backend),
		zap.String("pattern_store", cfg.Store.Driver),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
		zap.String("disambiguation", cfg.Disambiguation.Provider))
	return a, nil
}

// initMirror opens the durable pattern store, warms the in-memory store from
// it and returns the writer that mirrors new patterns. When the database is
// unreachable it returns a nil writer and a failing health check instead of
// an error.
func (a *app) initMirror(ctx context.Context, cfg *config.Config, patterns *learning.Store, mt *metrics.Metrics) (*learning.Writer, error) {
	mirror, err := patternsql.Open(ctx, cfg.Store.Driver, cfg.Store.DSN.Value())
	if errors.Is(err, patternsql.ErrUnsupportedDriver) {
		return nil, fmt.Errorf("failed to open pattern store: %w", err)
	}
	if err != nil {
		mt.RecordMirrorFailure("open")
		a.logger.Warn("Pattern store unavailable, learned patterns will not persist",
			zap.String("driver", cfg.Store.Driver),
			zap.String("dsn", cfg.Store.DSN.Redacted()),
			zap.Error(err))
		openErr := err
		a.check("pattern_store", func(context.Context) error { return openErr })
		return nil, nil
	}
	a.onClose(func() { _ = mirror.Close() })
	a.check("pattern_store", mirror.Ping)

	// a failed warm-up leaves the assistant usable with an empty store
	_, _ = learning.Warm(ctx, mirror, patterns, cfg.Learning.StartupLoadLimit, a.logger, mt)

	writer := learning.NewWriter(mirror, cfg.Learning.WriteQueueSize, cfg.Learning.WriteTimeout.Duration(), a.logger, mt)
	a.onClose(writer.Close)
	return writer, nil
}

func (a *app) initKnowledge(ctx context.Context, cfg config.KnowledgeConfig) (*knowledge.Holder, error) {
	cat, err := knowledge.Load(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge catalogue: %w", err)
	}
	holder := knowledge.NewHolder(cat)

	if cfg.Path != "" && cfg.Watch {
		w, err := knowledge.NewWatcher(cfg.Path, holder, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create catalogue watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			w.Stop()
			return nil, fmt.Errorf("failed to start catalogue watcher: %w", err)
		}
		a.onClose(w.Stop)
	}
	return holder, nil
}

func (a *app) initNATS(cfg config.NATSConfig, store learning.PatternStore, mt *metrics.Metrics) (*learning.Broadcaster, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("transitd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.onClose(nc.Close)
	a.check("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats %s", nc.Status())
		}
		return nil
	})

	b := learning.NewBroadcaster(nc, cfg.Subject, store, a.logger, mt)
	if err := b.Start(); err != nil {
		return nil, fmt.Errorf("failed to subscribe to pattern updates: %w", err)
	}
	a.onClose(func() { _ = b.Close() })
	a.logger.Info("NATS pattern sharing enabled",
		zap.String("subject", cfg.Subject),
		zap.String("origin", b.Origin()))
	return b, nil
}

func (a *app) initSessions(ctx context.Context, cfg *config.Config) (session.Store, error) {
	ttl := cfg.Session.IdleTTL.Duration()
	switch cfg.Session.Backend {
	case "", "memory":
		store := session.NewMemoryStore(ttl, 0)
		go store.Run(ctx, sweepInterval)
		a.onClose(func() { _ = store.Close() })
		return store, nil
	case "redis":
		store := session.NewRedisStore(cfg.Redis, ttl)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.onClose(func() { _ = store.Close() })
		a.check("redis", store.Ping)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

func (a *app) check(name string, fn httpapi.HealthCheck) {
	a.checks = append(a.checks, namedCheck{name: name, fn: fn})
}

// healthOptions registers every dependency check with the HTTP server.
func (a *app) healthOptions() []httpapi.Option {
	opts := make([]httpapi.Option, 0, len(a.checks))
	for _, c := range a.checks {
		opts = append(opts, httpapi.WithHealthCheck(c.name, c.fn))
	}
	return opts
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	a.cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
