package common

import (
	"errors"
	"math"
	"testing"
)

func TestCheckQuotaTokenCap(t *testing.T) {
	q := Quota{MaxTokensPerEpoch: 1000, EpochSeconds: 3600}
	prev := QuotaNow{EpochID: 5}

	next, err := CheckQuota(q, 5, prev, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Used != 1000 {
		t.Fatalf("unexpected usage: %d", next.Used)
	}

	denied, err := CheckQuota(q, 5, next, 1)
	if !errors.Is(err, ErrQuotaTokensExceeded) {
		t.Fatalf("expected ErrQuotaTokensExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 6, next, 500)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 6 || rollover.Used != 500 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestCheckQuotaDisabledAndOverflow(t *testing.T) {
	q := Quota{}
	if q.Enabled() {
		t.Fatalf("zero quota should be disabled")
	}
	next, err := CheckQuota(q, 0, QuotaNow{}, math.MaxUint64)
	if err != nil {
		t.Fatalf("disabled quota should not reject: %v", err)
	}
	if _, err := CheckQuota(q, 0, next, 1); !errors.Is(err, ErrQuotaCounterOverflow) {
		t.Fatalf("expected ErrQuotaCounterOverflow, got %v", err)
	}
}

func TestQuotaEpochOf(t *testing.T) {
	q := Quota{MaxTokensPerEpoch: 1, EpochSeconds: 60}
	if q.EpochOf(119) != 1 || q.EpochOf(120) != 2 {
		t.Fatalf("unexpected epoch mapping")
	}
	if (Quota{}).EpochOf(1000) != 0 {
		t.Fatalf("zero epoch length maps to epoch 0")
	}
}
