package vesting

import (
	"fmt"
	"math"
	"time"

	custodyerrors "vestvault/core/errors"
)

const (
	secondsPerDay        = 24 * 60 * 60
	fallbackMonthDays    = 30
	fallbackMonthSeconds = fallbackMonthDays * secondsPerDay
)

// Supported calendar range: 262143 BCE (year -262143) through year 262142.
var (
	minCalendarTime = time.Date(-262143, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxCalendarTime = time.Date(262142, time.December, 31, 23, 59, 59, 0, time.UTC).Unix()
)

func inCalendarRange(ts int64) bool {
	return ts >= minCalendarTime && ts <= maxCalendarTime
}

func toCalendar(ts int64) (time.Time, error) {
	if !inCalendarRange(ts) {
		return time.Time{}, fmt.Errorf("%w: %d", custodyerrors.ErrInvalidTime, ts)
	}
	return time.Unix(ts, 0).UTC(), nil
}

func secondOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// MonthsElapsed counts whole calendar months from start to end. A month counts
// once end has reached the same day-of-month and time-of-day as start. The
// result is 0 when end precedes start.
func MonthsElapsed(start, end int64) (int64, error) {
	s, err := toCalendar(start)
	if err != nil {
		return 0, err
	}
	e, err := toCalendar(end)
	if err != nil {
		return 0, err
	}
	if end < start {
		return 0, nil
	}
	total := int64(e.Year()-s.Year())*12 + int64(e.Month()) - int64(s.Month())
	if e.Day() < s.Day() || (e.Day() == s.Day() && secondOfDay(e) < secondOfDay(s)) {
		total--
	}
	if total < 0 {
		return 0, nil
	}
	return total, nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonths adds months calendar months to ts, clamping the day to the end of
// the target month and keeping the time of day. The boolean is false when ts
// or the result falls outside the supported calendar range.
func AddMonths(ts int64, months uint32) (int64, bool) {
	t, err := toCalendar(ts)
	if err != nil {
		return 0, false
	}
	index := int64(t.Year())*12 + int64(t.Month()-1) + int64(months)
	year := index / 12
	month := index % 12
	if month < 0 {
		month += 12
		year--
	}
	if year > math.MaxInt32 {
		return 0, false
	}
	day := t.Day()
	if last := daysIn(int(year), time.Month(month+1)); day > last {
		day = last
	}
	out := time.Date(int(year), time.Month(month+1), day, t.Hour(), t.Minute(), t.Second(), 0, time.UTC).Unix()
	if !inCalendarRange(out) {
		return 0, false
	}
	return out, true
}

// NextClaimTime returns vestingStart advanced by periods calendar months. When
// the calendar result is not representable it degrades to 30-day months.
func NextClaimTime(vestingStart, periods int64) (int64, error) {
	if periods < 0 {
		return vestingStart, nil
	}
	if periods <= math.MaxUint32 {
		if next, ok := AddMonths(vestingStart, uint32(periods)); ok {
			return next, nil
		}
	}
	return fallbackNextClaim(vestingStart, periods)
}

func fallbackNextClaim(vestingStart, periods int64) (int64, error) {
	if periods > math.MaxInt64/fallbackMonthSeconds {
		return 0, custodyerrors.ErrOverflow
	}
	offset := periods * fallbackMonthSeconds
	if vestingStart > math.MaxInt64-offset {
		return 0, custodyerrors.ErrOverflow
	}
	return vestingStart + offset, nil
}
