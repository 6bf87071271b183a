package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"banking-ledger/internal/errors"
	"banking-ledger/internal/ledger"
)

type TransactionHandler struct {
	engine *ledger.Engine
}

func NewTransactionHandler(engine *ledger.Engine) *TransactionHandler {
	return &TransactionHandler{
		engine: engine,
	}
}

type MoneyMovementRequest struct {
	AccountNumber       string `json:"account_number" validate:"required"`
	TargetAccountNumber string `json:"target_account_number,omitempty"`
	Amount              string `json:"amount" validate:"required"`
	Description         string `json:"description,omitempty" validate:"omitempty,max=500"`
	Channel             string `json:"channel,omitempty" validate:"omitempty,oneof=ONLINE ATM BRANCH MOBILE"`
}

func (h *TransactionHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.engine.Deposit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *TransactionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.engine.Withdraw(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.TargetAccountNumber == "" {
		writeError(w, errors.NewAppError(errors.InvalidInput, "target_account_number is required"))
		return
	}

	result, err := h.engine.Transfer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *TransactionHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountNumber := mux.Vars(r)["account_number"]

	result, err := h.engine.GetBalance(r.Context(), accountNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	referenceNumber := mux.Vars(r)["reference_number"]

	result, err := h.engine.GetTransaction(r.Context(), referenceNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *TransactionHandler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	accountNumber := mux.Vars(r)["account_number"]

	start, err := parseOptionalTime(r.URL.Query().Get("start_date"))
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid start_date, expected RFC 3339"))
		return
	}
	end, err := parseOptionalTime(r.URL.Query().Get("end_date"))
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid end_date, expected RFC 3339"))
		return
	}
	if (start == nil) != (end == nil) {
		writeError(w, errors.NewAppError(errors.InvalidInput, "start_date and end_date must be provided together"))
		return
	}

	results, err := h.engine.GetTransactionHistory(r.Context(), accountNumber, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": results,
		"count":        len(results),
	})
}

func (h *TransactionHandler) GetTotalDeposits(w http.ResponseWriter, r *http.Request) {
	accountNumber := mux.Vars(r)["account_number"]

	total, err := h.engine.GetTotalDeposits(r.Context(), accountNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account_number": accountNumber,
		"total_deposits": total.String(),
	})
}

func (h *TransactionHandler) parseRequest(r *http.Request) (*ledger.TransactionRequest, error) {
	var req MoneyMovementRequest
	if err := decodeAndValidate(r, &req); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, errors.NewAppError(errors.InvalidInput, "invalid amount format").WithDetails(err.Error())
	}

	return &ledger.TransactionRequest{
		AccountNumber:       req.AccountNumber,
		TargetAccountNumber: req.TargetAccountNumber,
		Amount:              amount,
		Description:         req.Description,
		Channel:             req.Channel,
	}, nil
}

func parseOptionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
