package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaTokensExceeded  = errors.New("quota token cap exceeded")
	ErrQuotaCounterOverflow = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	Used    uint64
	EpochID uint64
}

// Quota bounds the raw token units one buyer may purchase per epoch. A zero
// MaxTokensPerEpoch disables the quota.
type Quota struct {
	MaxTokensPerEpoch uint64
	EpochSeconds      uint32
}

// Enabled reports whether the quota restricts anything.
func (q Quota) Enabled() bool {
	return q.MaxTokensPerEpoch > 0
}

// EpochOf maps a unix timestamp onto the quota epoch.
func (q Quota) EpochOf(unix int64) uint64 {
	if q.EpochSeconds == 0 || unix <= 0 {
		return 0
	}
	return uint64(unix) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional usage fits within the configured
// quota. The returned QuotaNow reflects the updated counters when the quota is
// not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, add uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if add > 0 {
		if next.Used > math.MaxUint64-add {
			return prev, ErrQuotaCounterOverflow
		}
		next.Used += add
	}
	if q.MaxTokensPerEpoch > 0 && next.Used > q.MaxTokensPerEpoch {
		return prev, ErrQuotaTokensExceeded
	}

	return next, nil
}
