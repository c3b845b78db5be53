package learning

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/transitd/internal/metrics"
)

// Mirror is the durable copy of the pattern store.
type Mirror interface {
	// Upsert stores p, keeping the larger frequency when the key exists.
	Upsert(ctx context.Context, p Pattern) error

	// LoadTop returns up to k patterns ordered by frequency.
	LoadTop(ctx context.Context, k int) ([]Pattern, error)

	Close() error
}

// Publisher receives every pattern update after it is applied in memory.
// Implementations must not block the caller.
type Publisher interface {
	Publish(ctx context.Context, p Pattern)
}

// Warm loads the top k patterns from m into store. Failures are logged and
// reported but leave the store usable.
func Warm(ctx context.Context, m Mirror, store PatternStore, k int, logger *zap.Logger, mt *metrics.Metrics) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	patterns, err := m.LoadTop(ctx, k)
	if err != nil {
		mt.RecordMirrorFailure("load")
		logger.Warn("loading learned patterns failed, starting empty", zap.Error(err))
		return 0, err
	}
	loaded := 0
	for _, p := range patterns {
		if _, _, err := store.Merge(p); err != nil {
			logger.Debug("skipping invalid stored pattern", zap.String("key", p.Key), zap.Error(err))
			continue
		}
		loaded++
	}
	mt.SetPatternsKnown(store.Len())
	logger.Info("learned patterns loaded", zap.Int("count", loaded))
	return loaded, nil
}

// Writer mirrors pattern updates to durable storage from a single
// goroutine. A full queue drops the update with a warning.
type Writer struct {
	mirror  Mirror
	queue   chan Pattern
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	closeOnce sync.Once
	done      chan struct{}
}

// NewWriter starts a writer with the given queue size and per-write timeout.
func NewWriter(m Mirror, queueSize int, timeout time.Duration, logger *zap.Logger, mt *metrics.Metrics) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize < 1 {
		queueSize = 1
	}
	w := &Writer{
		mirror:  m,
		queue:   make(chan Pattern, queueSize),
		timeout: timeout,
		logger:  logger,
		metrics: mt,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

var _ Publisher = (*Writer)(nil)

// Publish enqueues p without blocking.
func (w *Writer) Publish(_ context.Context, p Pattern) {
	defer func() {
		// Publish after Close lands on a closed channel.
		if recover() != nil {
			w.metrics.RecordMirrorDropped()
		}
	}()
	select {
	case w.queue <- p:
	default:
		w.metrics.RecordMirrorDropped()
		w.logger.Warn("pattern write queue full, dropping update",
			zap.String("kind", string(p.Kind)),
			zap.String("key", p.Key))
	}
}

// Close stops accepting writes, drains the queue and waits for the
// goroutine to finish.
func (w *Writer) Close() {
	w.closeOnce.Do(func() { close(w.queue) })
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for p := range w.queue {
		w.write(p)
	}
}

func (w *Writer) write(p Pattern) {
	ctx := context.Background()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	if err := w.mirror.Upsert(ctx, p); err != nil {
		w.metrics.RecordMirrorFailure("upsert")
		w.logger.Warn("mirroring learned pattern failed",
			zap.String("kind", string(p.Kind)),
			zap.String("key", p.Key),
			zap.Error(err))
	}
}
