package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	custodyerrors "vestvault/core/errors"
)

type initializeVaultRequest struct {
	Mint          string `json:"mint"`
	Index         uint64 `json:"index"`
	PricePerToken uint64 `json:"pricePerToken"`
}

type priceRequest struct {
	PricePerToken uint64 `json:"pricePerToken"`
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type transferRequest struct {
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount"`
}

// decodeBody decodes a JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", custodyerrors.ErrInvalidArgument, err)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", custodyerrors.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func (s *Server) caller(r *http.Request) ([20]byte, error) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		return caller, custodyerrors.ErrAccessDenied
	}
	return caller, nil
}

func vaultParam(r *http.Request) ([20]byte, error) {
	addr, err := parseAddress("vault", chi.URLParam(r, "vault"))
	if err != nil {
		return addr, invalid("%v", err)
	}
	return addr, nil
}

func (s *Server) handleInitializeVault(w http.ResponseWriter, r *http.Request) {
	const op = "initialize"
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	var req initializeVaultRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	mint, err := parseAddress("mint", req.Mint)
	if err != nil {
		s.fail(w, r, op, invalid("%v", err))
		return
	}
	vault, err := s.presale.Initialize(caller, mint, req.Index, req.PricePerToken)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, newVaultView(vault))
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	const op = "update_price"
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	vaultAddr, err := vaultParam(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	var req priceRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	if err := s.presale.UpdatePrice(caller, vaultAddr, req.PricePerToken); err != nil {
		s.fail(w, r, op, err)
		return
	}
	s.writeVault(w, r, op, vaultAddr)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleAmount(w, r, "deposit", s.presale.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleAmount(w, r, "withdraw", s.presale.Withdraw)
}

func (s *Server) handleAmount(w http.ResponseWriter, r *http.Request, op string, fn func(caller, vault [20]byte, amount uint64) error) {
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	vaultAddr, err := vaultParam(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	if err := fn(caller, vaultAddr, req.Amount); err != nil {
		s.fail(w, r, op, err)
		return
	}
	s.writeVault(w, r, op, vaultAddr)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	const op = "transfer_from_vault"
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	vaultAddr, err := vaultParam(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	dest, err := parseAddress("destination", req.Destination)
	if err != nil {
		s.fail(w, r, op, invalid("%v", err))
		return
	}
	if err := s.presale.TransferFromVault(caller, vaultAddr, dest, req.Amount); err != nil {
		s.fail(w, r, op, err)
		return
	}
	s.writeVault(w, r, op, vaultAddr)
}

func (s *Server) handleCloseVault(w http.ResponseWriter, r *http.Request) {
	const op = "close_vault"
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	vaultAddr, err := vaultParam(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	flushed, err := s.presale.Close(caller, vaultAddr)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"vault": custodyString(vaultAddr), "flushed": flushed})
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	const op = "purchase"
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	vaultAddr, err := vaultParam(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	receipt, err := s.presale.Purchase(r.Context(), caller, vaultAddr, req.Amount)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptView(receipt))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	const op = "quote"
	vaultAddr, err := vaultParam(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	amount, err := strconv.ParseUint(strings.TrimSpace(r.URL.Query().Get("amount")), 10, 64)
	if err != nil {
		s.fail(w, r, op, invalid("amount must be an unsigned integer"))
		return
	}
	receipt, err := s.presale.Quote(r.Context(), vaultAddr, amount)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptView(receipt))
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	vaultAddr, err := vaultParam(r)
	if err != nil {
		s.fail(w, r, "read_vault", err)
		return
	}
	s.writeVault(w, r, "read_vault", vaultAddr)
}

func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := s.presale.Vaults()
	if err != nil {
		s.fail(w, r, "list_vaults", err)
		return
	}
	out := make([]vaultView, 0, len(vaults))
	for _, vault := range vaults {
		out = append(out, newVaultView(vault))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"vaults": out})
}

func (s *Server) writeVault(w http.ResponseWriter, r *http.Request, op string, addr [20]byte) {
	vault, err := s.presale.Vault(addr)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newVaultView(vault))
}
