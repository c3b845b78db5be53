package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/transitd/internal/metrics"
)

// DefaultSubject is the NATS subject pattern updates are published on.
const DefaultSubject = "transitd.patterns"

// envelope is the wire form of a broadcast update.
type envelope struct {
	Origin  string  `json:"origin"`
	Pattern Pattern `json:"pattern"`
}

// Broadcaster shares pattern updates between transitd instances over NATS.
// Updates from peers are merged into the local store; an instance ignores
// its own messages.
type Broadcaster struct {
	nc      *nats.Conn
	subject string
	origin  string
	store   PatternStore
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewBroadcaster creates a broadcaster on subject (DefaultSubject when empty).
func NewBroadcaster(nc *nats.Conn, subject string, store PatternStore, logger *zap.Logger, mt *metrics.Metrics) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &Broadcaster{
		nc:      nc,
		subject: subject,
		origin:  uuid.NewString(),
		store:   store,
		logger:  logger,
		metrics: mt,
	}
}

var _ Publisher = (*Broadcaster)(nil)

// Origin identifies this instance on the wire.
func (b *Broadcaster) Origin() string { return b.origin }

// Publish sends p to peers. Failures are logged and counted.
func (b *Broadcaster) Publish(_ context.Context, p Pattern) {
	data, err := json.Marshal(envelope{Origin: b.origin, Pattern: p})
	if err != nil {
		b.logger.Warn("encoding pattern update failed", zap.Error(err))
		return
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		b.metrics.RecordMirrorFailure("publish")
		b.logger.Warn("publishing pattern update failed",
			zap.String("subject", b.subject),
			zap.Error(err))
	}
}

// Start subscribes to peer updates.
func (b *Broadcaster) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}
	sub, err := b.nc.Subscribe(b.subject, b.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	b.sub = sub
	return nil
}

// Close unsubscribes. The connection stays owned by the caller.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	return err
}

func (b *Broadcaster) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Debug("ignoring malformed pattern update", zap.Error(err))
		return
	}
	if env.Origin == b.origin {
		return
	}
	merged, changed, err := b.store.Merge(env.Pattern)
	if err != nil {
		b.logger.Debug("ignoring invalid pattern update", zap.Error(err))
		return
	}
	if changed {
		b.metrics.SetPatternsKnown(b.store.Len())
		b.logger.Debug("merged peer pattern update",
			zap.String("peer", env.Origin),
			zap.String("kind", string(merged.Kind)),
			zap.Int("frequency", merged.Frequency))
	}
}
