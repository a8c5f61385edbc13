package server

import (
	"encoding/json"
	"errors"
	"net/http"

	custodyerrors "vestvault/core/errors"
	"vestvault/native/common"
)

const codeModulePaused = "MODULE_PAUSED"

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusForCode(code custodyerrors.Code) int {
	switch code {
	case custodyerrors.CodeAccessDenied, custodyerrors.CodeInvalidAuthority:
		return http.StatusForbidden
	case custodyerrors.CodeNotFound:
		return http.StatusNotFound
	case custodyerrors.CodeAlreadyExists:
		return http.StatusConflict
	case custodyerrors.CodeStalePrice, custodyerrors.CodeFeedMismatch:
		return http.StatusServiceUnavailable
	case custodyerrors.CodeInvalidArgument, custodyerrors.CodeInvalidSchedule, custodyerrors.CodeMintMismatch:
		return http.StatusBadRequest
	case custodyerrors.CodeInsufficientTokens,
		custodyerrors.CodeInsufficientFunds,
		custodyerrors.CodeFundsRemaining,
		custodyerrors.CodeOverflow,
		custodyerrors.CodeInvalidTime,
		custodyerrors.CodeLimitExceeded,
		custodyerrors.CodeCliffPeriodNotEnded,
		custodyerrors.CodeVestingNotOver,
		custodyerrors.CodeClaimNotAvailableYet:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeEngineError translates a custody failure into its HTTP form and
// returns the code that was reported.
func writeEngineError(w http.ResponseWriter, err error) string {
	if errors.Is(err, common.ErrModulePaused) {
		writeError(w, http.StatusLocked, codeModulePaused, err.Error())
		return codeModulePaused
	}
	code := custodyerrors.CodeOf(err)
	if code == "" {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return "INTERNAL"
	}
	writeError(w, statusForCode(code), string(code), err.Error())
	return string(code)
}
