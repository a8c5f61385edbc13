package oracle

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	custodyerrors "vestvault/core/errors"
)

// DefaultMaxAgeSeconds is the freshness bound applied to purchase prices.
const DefaultMaxAgeSeconds uint64 = 600

// FeedID identifies a price feed.
type FeedID [32]byte

// FeedIDFromHex parses a 64 character hex feed identifier with an optional 0x
// prefix.
func FeedIDFromHex(s string) (FeedID, error) {
	var id FeedID
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(trimmed) != 64 {
		return id, fmt.Errorf("oracle: feed id must be 64 hex characters, got %d", len(trimmed))
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("oracle: invalid feed id: %w", err)
	}
	copy(id[:], raw)
	return id, nil
}

// Hex renders the feed identifier with a 0x prefix.
func (f FeedID) Hex() string {
	return "0x" + hex.EncodeToString(f[:])
}

// Price is a fixed-point oracle price: Price × 10^Expo, published at
// PublishTime (unix seconds) with confidence Conf.
type Price struct {
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime int64
}

// PriceUpdate is a posted price for one feed.
type PriceUpdate struct {
	FeedID FeedID
	Price  Price
}

// GetPriceNoOlderThan returns the price when it belongs to feed and was
// published no more than maxAge seconds before now.
func (u PriceUpdate) GetPriceNoOlderThan(now int64, maxAge uint64, feed FeedID) (Price, error) {
	if u.FeedID != feed {
		return Price{}, fmt.Errorf("%w: have %s, want %s", custodyerrors.ErrFeedMismatch, u.FeedID.Hex(), feed.Hex())
	}
	if isStale(u.Price.PublishTime, maxAge, now) {
		return Price{}, fmt.Errorf("%w: published %d, now %d, max age %ds", custodyerrors.ErrStalePrice, u.Price.PublishTime, now, maxAge)
	}
	return u.Price, nil
}

// isStale reports publish + maxAge < now without overflowing.
func isStale(publish int64, maxAge uint64, now int64) bool {
	if maxAge > math.MaxInt64 {
		return false
	}
	age := int64(maxAge)
	if publish > math.MaxInt64-age {
		return false
	}
	return publish+age < now
}

// Reading is the (magnitude, exponent) pair consumed by the purchase engine.
type Reading struct {
	Magnitude   int64
	Exponent    int32
	PublishTime int64
}
