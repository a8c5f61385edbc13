package errors

import stderrors "errors"

// Code is the stable machine-readable identifier attached to custody failures.
type Code string

const (
	CodeAccessDenied         Code = "ACCESS_DENIED"
	CodeInsufficientTokens   Code = "INSUFFICIENT_TOKENS"
	CodeInsufficientFunds    Code = "INSUFFICIENT_FUNDS"
	CodeFundsRemaining       Code = "FUNDS_REMAINING"
	CodeOverflow             Code = "OVERFLOW"
	CodeStalePrice           Code = "STALE_PRICE"
	CodeFeedMismatch         Code = "FEED_MISMATCH"
	CodeInvalidTime          Code = "INVALID_TIME"
	CodeLimitExceeded        Code = "LIMIT_EXCEEDED"
	CodeCliffPeriodNotEnded  Code = "CLIFF_PERIOD_NOT_ENDED"
	CodeVestingNotOver       Code = "VESTING_NOT_OVER"
	CodeClaimNotAvailableYet Code = "CLAIM_NOT_AVAILABLE_YET"
	CodeAlreadyExists        Code = "ALREADY_EXISTS"
	CodeNotFound             Code = "NOT_FOUND"
	CodeInvalidAuthority     Code = "INVALID_AUTHORITY"
	CodeInvalidSchedule      Code = "INVALID_SCHEDULE"
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeMintMismatch         Code = "MINT_MISMATCH"
)

// Error is a typed custody failure. Two errors match under errors.Is when their
// codes are equal, so wrapped sentinels keep their identity.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !stderrors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

var (
	ErrAccessDenied         = newError(CodeAccessDenied, "custody: access denied")
	ErrInsufficientTokens   = newError(CodeInsufficientTokens, "custody: insufficient tokens")
	ErrInsufficientFunds    = newError(CodeInsufficientFunds, "custody: insufficient native balance")
	ErrFundsRemaining       = newError(CodeFundsRemaining, "custody: reserve still holds unclaimed tokens")
	ErrOverflow             = newError(CodeOverflow, "custody: arithmetic overflow")
	ErrStalePrice           = newError(CodeStalePrice, "custody: oracle price is stale")
	ErrFeedMismatch         = newError(CodeFeedMismatch, "custody: oracle feed mismatch")
	ErrInvalidTime          = newError(CodeInvalidTime, "custody: timestamp out of range")
	ErrLimitExceeded        = newError(CodeLimitExceeded, "custody: purchase exceeds the per-transaction limit of 1,000,000 tokens")
	ErrCliffPeriodNotEnded  = newError(CodeCliffPeriodNotEnded, "custody: cliff period has not ended")
	ErrVestingNotOver       = newError(CodeVestingNotOver, "custody: vesting period is not over")
	ErrClaimNotAvailableYet = newError(CodeClaimNotAvailableYet, "custody: nothing claimable yet")
	ErrAlreadyExists        = newError(CodeAlreadyExists, "custody: record already exists")
	ErrNotFound             = newError(CodeNotFound, "custody: record not found")
	ErrInvalidAuthority     = newError(CodeInvalidAuthority, "custody: derived authority mismatch")
	ErrInvalidSchedule      = newError(CodeInvalidSchedule, "custody: invalid vesting schedule")
	ErrInvalidArgument      = newError(CodeInvalidArgument, "custody: invalid argument")
	ErrMintMismatch         = newError(CodeMintMismatch, "custody: token account mint mismatch")
)

// CodeOf extracts the custody code from err, or "" when err is not a custody
// failure.
func CodeOf(err error) Code {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Code
	}
	return ""
}
