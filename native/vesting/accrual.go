package vesting

import (
	"fmt"
	"math"

	custodyerrors "vestvault/core/errors"
)

// VestingStart returns the instant accrual begins (start + cliff).
func (r *ReserveAccount) VestingStart() (int64, error) {
	if (r.CliffTime > 0 && r.StartTime > math.MaxInt64-r.CliffTime) ||
		(r.CliffTime < 0 && r.StartTime < math.MinInt64-r.CliffTime) {
		return 0, fmt.Errorf("%w: start %d + cliff %d", custodyerrors.ErrOverflow, r.StartTime, r.CliffTime)
	}
	return r.StartTime + r.CliffTime, nil
}

// ComputeAccrual evaluates how much of the reserve can be claimed at now:
// one monthly instalment per started calendar month since the cliff, capped by
// the total grant.
func ComputeAccrual(r *ReserveAccount, now int64) (Accrual, error) {
	vStart, err := r.VestingStart()
	if err != nil {
		return Accrual{}, err
	}
	if now < vStart {
		return Accrual{VestingStart: vStart}, custodyerrors.ErrCliffPeriodNotEnded
	}
	elapsed, err := MonthsElapsed(vStart, now)
	if err != nil {
		return Accrual{}, err
	}
	periods := elapsed + 1

	if r.MonthlyClaim > 0 && periods > math.MaxInt64/r.MonthlyClaim {
		return Accrual{}, fmt.Errorf("%w: %d periods of %d", custodyerrors.ErrOverflow, periods, r.MonthlyClaim)
	}
	maxClaimable := periods * r.MonthlyClaim
	claimable := minInt64(
		subFloorZero(maxClaimable, r.AmountWithdrawn),
		subFloorZero(r.TotalAmount, r.AmountWithdrawn),
	)

	next, err := NextClaimTime(vStart, periods)
	if err != nil {
		return Accrual{}, err
	}
	out := Accrual{VestingStart: vStart, Periods: periods, Claimable: claimable, NextClaim: next}
	if claimable <= 0 {
		return out, custodyerrors.ErrClaimNotAvailableYet
	}
	return out, nil
}

// ReserveStatus reports the lifecycle stage of r at now.
func ReserveStatus(r *ReserveAccount, now int64) Status {
	if r.AmountWithdrawn >= r.TotalAmount {
		return StatusFullyClaimed
	}
	vStart, err := r.VestingStart()
	if err != nil || now < vStart {
		return StatusLocked
	}
	return StatusAccruing
}

func subFloorZero(a, b int64) int64 {
	if b >= a {
		return 0
	}
	if b < 0 && a > math.MaxInt64+b {
		return math.MaxInt64
	}
	return a - b
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
