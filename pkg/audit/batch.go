package audit

import (
	"context"
	"log/slog"
	"time"
)

// BatchConfig bounds how long events wait before a batch flushes.
type BatchConfig struct {
	MaxBatchSize int
	MaxBatchAge  time.Duration
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{MaxBatchSize: 100, MaxBatchAge: time.Second}
}

// CapturedEvent pairs an Event with the instant it was captured, so the
// batch loop can compute wait-time diagnostics independent of the event's
// own Timestamp.
type CapturedEvent struct {
	Event      Event
	CapturedAt time.Time
}

// Batch is a closed group of events ready to hand to the store's
// PersistBatch.
type Batch struct {
	Events      []CapturedEvent
	CollectedAt time.Time
}

func (b Batch) IsEmpty() bool { return len(b.Events) == 0 }

// collector accumulates CapturedEvents and decides when to flush, by
// either count or age of the oldest buffered event.
type collector struct {
	cfg     BatchConfig
	current Batch
}

func newCollector(cfg BatchConfig) *collector {
	return &collector{cfg: cfg, current: Batch{CollectedAt: time.Now()}}
}

func (c *collector) add(e CapturedEvent) (Batch, bool) {
	if c.current.IsEmpty() {
		c.current.CollectedAt = time.Now()
	}
	c.current.Events = append(c.current.Events, e)
	if c.shouldFlush() {
		return c.take(), true
	}
	return Batch{}, false
}

func (c *collector) shouldFlush() bool {
	if len(c.current.Events) >= c.cfg.MaxBatchSize {
		return true
	}
	return !c.current.IsEmpty() && time.Since(c.current.CollectedAt) >= c.cfg.MaxBatchAge
}

func (c *collector) take() Batch {
	b := c.current
	c.current = Batch{}
	return b
}

// CaptureConfig tunes the ingress buffer and default enrichment applied to
// records before they're pushed onto the channel.
type CaptureConfig struct {
	BufferSize         int
	DefaultActor       *Actor
	CorrelationHeader  string
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{BufferSize: 10_000, CorrelationHeader: "X-Correlation-ID"}
}

// Sink is whatever ultimately persists flushed batches — the Store in
// store.go in production, a test double in unit tests.
type Sink interface {
	PersistBatch(ctx context.Context, events []Event) error
}

// Capture is the non-blocking ingress point for audit events: Record never
// blocks its caller, and a full buffer drops the event with a warning
// instead.
type Capture struct {
	ch     chan Event
	logger *slog.Logger
}

// NewCapture starts the batch-processing goroutine and returns the
// ingress handle. The goroutine runs until ctx is canceled, flushing any
// pending partial batch on exit.
func NewCapture(ctx context.Context, cfg CaptureConfig, batchCfg BatchConfig, sink Sink, logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Capture{ch: make(chan Event, cfg.BufferSize), logger: logger}
	go runBatchLoop(ctx, c.ch, batchCfg, sink, logger)
	return c
}

// Record attempts a non-blocking send; on a full buffer the event is
// dropped and a warning logged.
func (c *Capture) Record(e Event) {
	select {
	case c.ch <- e:
	default:
		c.logger.Warn("audit buffer full, event dropped", "event_id", e.ID, "action", e.Action)
	}
}

// BufferUsage reports the fraction of the ingress channel currently filled.
func (c *Capture) BufferUsage() float64 {
	return float64(len(c.ch)) / float64(cap(c.ch))
}

// runBatchLoop flushes on whichever comes first: the channel delivering
// enough events to fill a batch, or a ticker firing at half the max batch
// age. It makes a final flush when ctx is canceled.
func runBatchLoop(ctx context.Context, ch <-chan Event, cfg BatchConfig, sink Sink, logger *slog.Logger) {
	coll := newCollector(cfg)
	tickInterval := cfg.MaxBatchAge / 2
	if tickInterval <= 0 {
		tickInterval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	flush := func(b Batch) {
		if b.IsEmpty() {
			return
		}
		events := make([]Event, len(b.Events))
		for i, ce := range b.Events {
			events[i] = ce.Event
		}
		if err := sink.PersistBatch(context.Background(), events); err != nil {
			logger.Error("audit batch persist failed", "error", err, "count", len(events))
		}
	}

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				flush(coll.take())
				return
			}
			if b, ready := coll.add(CapturedEvent{Event: e, CapturedAt: time.Now()}); ready {
				flush(b)
			}
		case <-ticker.C:
			if coll.shouldFlush() && !coll.current.IsEmpty() {
				flush(coll.take())
			}
		case <-ctx.Done():
			flush(coll.take())
			return
		}
	}
}
