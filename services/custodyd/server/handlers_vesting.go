package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"vestvault/native/vesting"
)

type createVestingAccountRequest struct {
	ReserveType string `json:"reserveType"`
	Mint        string `json:"mint"`
}

type createReserveRequest struct {
	Beneficiary  string `json:"beneficiary"`
	StartTime    int64  `json:"startTime"`
	EndTime      int64  `json:"endTime"`
	TotalAmount  int64  `json:"totalAmount"`
	CliffTime    int64  `json:"cliffTime"`
	MonthlyClaim int64  `json:"monthlyClaim"`
}

type claimResponse struct {
	Reserve       string `json:"reserve"`
	Beneficiary   string `json:"beneficiary"`
	Claimed       int64  `json:"claimed"`
	NextClaimTime int64  `json:"nextClaimTime"`
	Decimals      uint8  `json:"decimals"`
}

func reserveTypeParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "reserveType"))
}

func (s *Server) handleCreateVestingAccount(w http.ResponseWriter, r *http.Request) {
	const op = "create_vesting_account"
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	var req createVestingAccountRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	mint, err := parseAddress("mint", req.Mint)
	if err != nil {
		s.fail(w, r, op, invalid("%v", err))
		return
	}
	account, err := s.vesting.CreateVestingAccount(caller, req.ReserveType, mint)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, newVestingAccountView(account))
}

func (s *Server) handleCreateReserve(w http.ResponseWriter, r *http.Request) {
	const op = "create_reserve"
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	var req createReserveRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	beneficiary, err := parseAddress("beneficiary", req.Beneficiary)
	if err != nil {
		s.fail(w, r, op, invalid("%v", err))
		return
	}
	reserve, err := s.vesting.CreateReserve(caller, reserveTypeParam(r), vesting.ReserveParams{
		Beneficiary:  beneficiary,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		TotalAmount:  req.TotalAmount,
		CliffTime:    req.CliffTime,
		MonthlyClaim: req.MonthlyClaim,
	})
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, newReserveView(reserve, s.vesting.Now()))
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	const op = "claim"
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	result, err := s.vesting.Claim(caller, reserveTypeParam(r))
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{
		Reserve:       custodyString(result.Reserve),
		Beneficiary:   accountString(result.Beneficiary),
		Claimed:       result.Claimed,
		NextClaimTime: result.NextClaimTime,
		Decimals:      result.Decimals,
	})
}

func (s *Server) handleCloseReserve(w http.ResponseWriter, r *http.Request) {
	const op = "close_reserve_account"
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	refunded, err := s.vesting.CloseReserveAccount(caller, reserveTypeParam(r))
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reserveType": reserveTypeParam(r),
		"status":      vesting.StatusClosed,
		"refunded":    refunded,
	})
}

func (s *Server) handleGetVestingAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.vesting.VestingAccount(reserveTypeParam(r))
	if err != nil {
		s.fail(w, r, "read_vesting_account", err)
		return
	}
	writeJSON(w, http.StatusOK, newVestingAccountView(account))
}

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	const op = "read_reserve"
	beneficiary, err := parseAddress("beneficiary", chi.URLParam(r, "beneficiary"))
	if err != nil {
		s.fail(w, r, op, invalid("%v", err))
		return
	}
	reserve, err := s.vesting.Reserve(reserveTypeParam(r), beneficiary)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newReserveView(reserve, s.vesting.Now()))
}
