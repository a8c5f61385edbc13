package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	custodyerrors "vestvault/core/errors"
)

// ErrNoUpdate is returned by sources that have not observed any price yet.
var ErrNoUpdate = errors.New("oracle: no price update available")

// Source returns the latest posted update for a feed. Sources may return an
// update for a different feed; the adapter rejects it.
type Source interface {
	Latest(ctx context.Context, feed FeedID) (PriceUpdate, error)
}

// Adapter reads prices for the single configured feed and enforces the
// freshness policy.
type Adapter struct {
	source Source
	feed   FeedID
	maxAge uint64
}

// NewAdapter wires source to feed. A zero maxAge selects DefaultMaxAgeSeconds.
func NewAdapter(source Source, feed FeedID, maxAge uint64) *Adapter {
	if maxAge == 0 {
		maxAge = DefaultMaxAgeSeconds
	}
	return &Adapter{source: source, feed: feed, maxAge: maxAge}
}

// Feed returns the configured feed.
func (a *Adapter) Feed() FeedID { return a.feed }

// MaxAge returns the freshness bound in seconds.
func (a *Adapter) MaxAge() uint64 { return a.maxAge }

// ReadPrice fetches the latest update and validates feed and freshness against
// now (unix seconds).
func (a *Adapter) ReadPrice(ctx context.Context, now int64) (Reading, error) {
	if a == nil || a.source == nil {
		return Reading{}, fmt.Errorf("%w: oracle not configured", custodyerrors.ErrStalePrice)
	}
	update, err := a.source.Latest(ctx, a.feed)
	if err != nil {
		if errors.Is(err, ErrNoUpdate) {
			return Reading{}, fmt.Errorf("%w: %v", custodyerrors.ErrStalePrice, err)
		}
		return Reading{}, err
	}
	price, err := update.GetPriceNoOlderThan(now, a.maxAge, a.feed)
	if err != nil {
		return Reading{}, err
	}
	return Reading{Magnitude: price.Price, Exponent: price.Expo, PublishTime: price.PublishTime}, nil
}

// ManualSource holds the most recently posted update in memory. It is fed by
// the daemon's poller and by tests.
type ManualSource struct {
	mu     sync.RWMutex
	update *PriceUpdate
}

// NewManualSource constructs an empty manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{}
}

// Post replaces the stored update.
func (m *ManualSource) Post(update PriceUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := update
	m.update = &clone
}

// Latest implements Source.
func (m *ManualSource) Latest(context.Context, FeedID) (PriceUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.update == nil {
		return PriceUpdate{}, ErrNoUpdate
	}
	return *m.update, nil
}
