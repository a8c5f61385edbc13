package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vestvault/native/oracle"
	"vestvault/observability"
)

// Publisher receives accepted price updates. *oracle.ManualSource satisfies it.
type Publisher interface {
	Post(update oracle.PriceUpdate)
}

// SampleRecorder persists accepted updates.
type SampleRecorder interface {
	RecordSample(ctx context.Context, update oracle.PriceUpdate) error
}

// Poller periodically pulls the configured feed from an upstream source and
// republishes it to the in-process source read by the purchase engine.
type Poller struct {
	logger    *slog.Logger
	source    oracle.Source
	publisher Publisher
	recorder  SampleRecorder
	feed      oracle.FeedID
	interval  time.Duration
	timeout   time.Duration
	now       func() time.Time
	once      sync.Once

	mu   sync.RWMutex
	last *oracle.PriceUpdate
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRecorder journals every accepted update.
func WithRecorder(r SampleRecorder) Option {
	return func(p *Poller) { p.recorder = r }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// WithTimeout bounds each upstream fetch.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) { p.timeout = d }
}

// New constructs a poller for feed.
func New(source oracle.Source, publisher Publisher, feed oracle.FeedID, interval time.Duration, opts ...Option) (*Poller, error) {
	if source == nil {
		return nil, fmt.Errorf("oracle source required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("oracle publisher required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	p := &Poller{
		logger:    slog.Default(),
		source:    source,
		publisher: publisher,
		feed:      feed,
		interval:  interval,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Run blocks, polling until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.once.Do(func() {
		p.logger.Info("oracle poller started", slog.String("feed", p.feed.Hex()), slog.Duration("interval", p.interval))
	})
	for {
		if err := p.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("oracle tick failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one fetch. Updates for another feed, and updates that are not
// newer than the last accepted one, are dropped.
func (p *Poller) Tick(ctx context.Context) error {
	fetchCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	update, err := p.source.Latest(fetchCtx, p.feed)
	if err != nil {
		observability.Custody().RecordOracleFetch(false, 0)
		return fmt.Errorf("fetch %s: %w", p.feed.Hex(), err)
	}
	if update.FeedID != p.feed {
		observability.Custody().RecordOracleFetch(false, 0)
		return fmt.Errorf("source returned feed %s, want %s", update.FeedID.Hex(), p.feed.Hex())
	}
	now := p.now()
	age := now.Sub(time.Unix(update.Price.PublishTime, 0))
	if age < 0 {
		age = 0
	}
	observability.Custody().RecordOracleFetch(true, age)

	p.mu.Lock()
	if p.last != nil && update.Price.PublishTime <= p.last.Price.PublishTime {
		p.mu.Unlock()
		return nil
	}
	clone := update
	p.last = &clone
	p.mu.Unlock()

	p.publisher.Post(update)
	if p.recorder != nil {
		if err := p.recorder.RecordSample(ctx, update); err != nil {
			p.logger.Error("record oracle sample", slog.Any("error", err))
		}
	}
	return nil
}

// Last returns the most recently accepted update.
func (p *Poller) Last() (oracle.PriceUpdate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return oracle.PriceUpdate{}, false
	}
	return *p.last, true
}
