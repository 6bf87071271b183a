package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"banking-ledger/internal/domain"
	"banking-ledger/internal/errors"
	"banking-ledger/internal/service"
)

type AccountHandler struct {
	accountService *service.AccountService
}

func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

type CreateAccountRequest struct {
	AccountType    string  `json:"account_type" validate:"required,oneof=CHECKING SAVINGS CREDIT"`
	InterestRate   *string `json:"interest_rate,omitempty"`
	CreditLimit    *string `json:"credit_limit,omitempty"`
	OverdraftLimit *string `json:"overdraft_limit,omitempty"`
}

type AccountResponse struct {
	AccountNumber    string    `json:"account_number"`
	AccountType      string    `json:"account_type"`
	Balance          string    `json:"balance"`
	AvailableBalance string    `json:"available_balance"`
	OverdraftLimit   string    `json:"overdraft_limit"`
	CreditLimit      *string   `json:"credit_limit,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

type SuspendAccountRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	accountType := domain.AccountType(req.AccountType)

	var account *domain.Account
	var err error
	if req.InterestRate == nil && req.CreditLimit == nil && req.OverdraftLimit == nil {
		account, err = h.accountService.CreateAccount(r.Context(), accountType)
	} else {
		interestRate, perr := parseOptionalDecimal(req.InterestRate, "interest_rate")
		if perr != nil {
			writeError(w, perr)
			return
		}
		creditLimit, perr := parseOptionalDecimal(req.CreditLimit, "credit_limit")
		if perr != nil {
			writeError(w, perr)
			return
		}
		overdraftLimit, perr := parseOptionalDecimal(req.OverdraftLimit, "overdraft_limit")
		if perr != nil {
			writeError(w, perr)
			return
		}
		account, err = h.accountService.CreateCustomAccount(r.Context(), accountType, interestRate, creditLimit, overdraftLimit)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, buildAccountResponse(account))
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountNumber := mux.Vars(r)["account_number"]

	account, err := h.accountService.GetAccount(r.Context(), accountNumber)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, buildAccountResponse(account))
}

func (h *AccountHandler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	accountNumber := mux.Vars(r)["account_number"]

	if err := h.accountService.CloseAccount(r.Context(), accountNumber); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"account_number": accountNumber,
		"status":         string(domain.AccountStatusClosed),
	})
}

func (h *AccountHandler) SuspendAccount(w http.ResponseWriter, r *http.Request) {
	accountNumber := mux.Vars(r)["account_number"]

	var req SuspendAccountRequest
	if r.ContentLength > 0 {
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := h.accountService.SuspendAccount(r.Context(), accountNumber, req.Reason); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"account_number": accountNumber,
		"status":         string(domain.AccountStatusSuspended),
	})
}

func (h *AccountHandler) ActivateAccount(w http.ResponseWriter, r *http.Request) {
	accountNumber := mux.Vars(r)["account_number"]

	if err := h.accountService.ActivateAccount(r.Context(), accountNumber); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"account_number": accountNumber,
		"status":         string(domain.AccountStatusActive),
	})
}

func parseOptionalDecimal(raw *string, field string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, errors.NewAppErrorf(errors.InvalidInput, "invalid %s format", field)
	}
	return &value, nil
}

func buildAccountResponse(account *domain.Account) AccountResponse {
	response := AccountResponse{
		AccountNumber:    account.AccountNumber,
		AccountType:      string(account.AccountType),
		Balance:          account.Balance.String(),
		AvailableBalance: account.AvailableBalance().String(),
		OverdraftLimit:   account.OverdraftLimit.String(),
		Status:           string(account.Status),
		CreatedAt:        account.CreatedAt,
	}
	if account.CreditLimit != nil {
		limit := account.CreditLimit.String()
		response.CreditLimit = &limit
	}
	return response
}
