package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"banking-ledger/internal/domain"
	"banking-ledger/internal/errors"
	"banking-ledger/internal/notify"
)

// Engine executes money movement as all-or-nothing units against the store,
// serialized per account by exclusive row locks, and records every attempt
// in the audit trail.
type Engine struct {
	store    Store
	notifier *notify.Notifier
	logger   *slog.Logger
}

func NewEngine(store Store, notifier *notify.Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

type TransactionRequest struct {
	AccountNumber       string
	TargetAccountNumber string
	Amount              decimal.Decimal
	Description         string
	Channel             string
}

type TransactionResult struct {
	ReferenceNumber     string                   `json:"reference_number"`
	TransactionType     domain.TransactionType   `json:"transaction_type"`
	Amount              decimal.Decimal          `json:"amount"`
	BalanceAfter        decimal.Decimal          `json:"balance_after"`
	AccountNumber       string                   `json:"account_number"`
	TargetAccountNumber string                   `json:"target_account_number,omitempty"`
	Description         string                   `json:"description,omitempty"`
	Status              domain.TransactionStatus `json:"status"`
	TransactionDate     time.Time                `json:"transaction_date"`
	Channel             string                   `json:"channel"`
	Message             string                   `json:"message"`
}

// Deposit credits an ACTIVE account. The account row stays locked from the
// re-read until the account and its audit record commit together.
func (e *Engine) Deposit(ctx context.Context, req *TransactionRequest) (*TransactionResult, error) {
	e.logger.Info("processing deposit",
		"account_number", req.AccountNumber, "amount", req.Amount)

	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.NewAppError(errors.InvalidInput, "deposit amount must be positive")
	}

	var record *domain.Transaction
	err := e.store.WithTransaction(ctx, func(s Store) error {
		account, err := s.Accounts().FindByAccountNumberForUpdate(req.AccountNumber)
		if err != nil {
			return err
		}
		if !account.IsActive() {
			return errors.ErrAccountNotActive
		}

		record = domain.NewTransaction(account.AccountNumber,
			domain.TransactionTypeDeposit, req.Amount, req.Description, req.Channel)
		e.notifier.NotifyInitiated(record)

		if err := account.Deposit(req.Amount); err != nil {
			return err
		}
		record.MarkCompleted(account.Balance)

		if err := s.Accounts().Save(account); err != nil {
			return err
		}
		return s.Transactions().Create(record)
	})

	if err != nil {
		e.finalizeFailed(ctx, err, record)
		e.logger.Error("deposit failed",
			"account_number", req.AccountNumber, "error", err)
		return nil, err
	}

	e.notifier.NotifyCompleted(record)
	e.logger.Info("deposit successful",
		"reference_number", record.ReferenceNumber, "balance_after", record.BalanceAfter)
	return buildResult(record, "Deposit successful"), nil
}

// Withdraw debits an ACTIVE account. The available-balance check uses the
// post-lock read, and an insufficient-funds rejection leaves a FAILED audit
// record.
func (e *Engine) Withdraw(ctx context.Context, req *TransactionRequest) (*TransactionResult, error) {
	e.logger.Info("processing withdrawal",
		"account_number", req.AccountNumber, "amount", req.Amount)

	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.NewAppError(errors.InvalidInput, "withdrawal amount must be positive")
	}

	var record *domain.Transaction
	err := e.store.WithTransaction(ctx, func(s Store) error {
		account, err := s.Accounts().FindByAccountNumberForUpdate(req.AccountNumber)
		if err != nil {
			return err
		}
		if !account.IsActive() {
			return errors.ErrAccountNotActive
		}

		record = domain.NewTransaction(account.AccountNumber,
			domain.TransactionTypeWithdrawal, req.Amount, req.Description, req.Channel)
		e.notifier.NotifyInitiated(record)

		if err := account.Withdraw(req.Amount); err != nil {
			return err
		}
		record.MarkCompleted(account.Balance)

		if err := s.Accounts().Save(account); err != nil {
			return err
		}
		return s.Transactions().Create(record)
	})

	if err != nil {
		e.finalizeFailed(ctx, err, record)
		e.logger.Error("withdrawal failed",
			"account_number", req.AccountNumber, "error", err)
		return nil, err
	}

	e.notifier.NotifyCompleted(record)
	e.logger.Info("withdrawal successful",
		"reference_number", record.ReferenceNumber, "balance_after", record.BalanceAfter)
	return buildResult(record, "Withdrawal successful"), nil
}

// Transfer moves funds between two ACTIVE accounts as one atomic unit,
// producing a linked TRANSFER_OUT/TRANSFER_IN record pair that finalizes
// together. Locks are always acquired in ascending account-number order, so
// two opposite-direction transfers over the same pair cannot deadlock.
func (e *Engine) Transfer(ctx context.Context, req *TransactionRequest) (*TransactionResult, error) {
	e.logger.Info("processing transfer",
		"source_account", req.AccountNumber,
		"target_account", req.TargetAccountNumber,
		"amount", req.Amount)

	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.NewAppError(errors.InvalidInput, "transfer amount must be positive")
	}
	if req.AccountNumber == req.TargetAccountNumber {
		return nil, errors.ErrSameAccountTransfer
	}

	var outgoing, incoming *domain.Transaction
	err := e.store.WithTransaction(ctx, func(s Store) error {
		firstLock, secondLock := req.AccountNumber, req.TargetAccountNumber
		if firstLock > secondLock {
			firstLock, secondLock = secondLock, firstLock
		}

		first, err := s.Accounts().FindByAccountNumberForUpdate(firstLock)
		if err != nil {
			return err
		}
		second, err := s.Accounts().FindByAccountNumberForUpdate(secondLock)
		if err != nil {
			return err
		}

		source, target := first, second
		if source.AccountNumber != req.AccountNumber {
			source, target = second, first
		}

		if !source.IsActive() || !target.IsActive() {
			return errors.NewAppError(errors.InvalidState, "one or both accounts are not active")
		}

		outgoing = domain.NewTransaction(source.AccountNumber,
			domain.TransactionTypeTransferOut, req.Amount,
			"Transfer to "+target.AccountNumber, req.Channel)
		outgoing.TargetAccountNumber = target.AccountNumber

		incoming = domain.NewTransaction(target.AccountNumber,
			domain.TransactionTypeTransferIn, req.Amount,
			"Transfer from "+source.AccountNumber, req.Channel)
		incoming.TargetAccountNumber = source.AccountNumber

		e.notifier.NotifyInitiated(outgoing)

		if err := source.Withdraw(req.Amount); err != nil {
			return err
		}
		if err := target.Deposit(req.Amount); err != nil {
			return err
		}

		outgoing.MarkCompleted(source.Balance)
		incoming.MarkCompleted(target.Balance)

		if err := s.Accounts().Save(source); err != nil {
			return err
		}
		if err := s.Accounts().Save(target); err != nil {
			return err
		}
		if err := s.Transactions().Create(outgoing); err != nil {
			return err
		}
		return s.Transactions().Create(incoming)
	})

	if err != nil {
		e.finalizeFailed(ctx, err, outgoing, incoming)
		e.logger.Error("transfer failed",
			"source_account", req.AccountNumber,
			"target_account", req.TargetAccountNumber,
			"error", err)
		return nil, err
	}

	e.notifier.NotifyCompleted(outgoing)
	e.logger.Info("transfer successful",
		"reference_number", outgoing.ReferenceNumber,
		"source_balance", outgoing.BalanceAfter,
		"target_balance", incoming.BalanceAfter)
	return buildResult(outgoing, "Transfer successful"), nil
}

// GetBalance records a BALANCE_INQUIRY and returns the current balance.
// Inquiries are deliberately permitted on INACTIVE and SUSPENDED accounts;
// only existence is required.
func (e *Engine) GetBalance(ctx context.Context, accountNumber string) (*TransactionResult, error) {
	e.logger.Info("balance inquiry", "account_number", accountNumber)

	var record *domain.Transaction
	err := e.store.WithTransaction(ctx, func(s Store) error {
		account, err := s.Accounts().FindByAccountNumber(accountNumber)
		if err != nil {
			return err
		}

		record = domain.NewTransaction(account.AccountNumber,
			domain.TransactionTypeBalanceInquiry, decimal.Zero,
			"Balance inquiry", domain.DefaultChannel)
		record.MarkCompleted(account.Balance)
		return s.Transactions().Create(record)
	})
	if err != nil {
		return nil, err
	}

	return buildResult(record, "Balance retrieved successfully"), nil
}

// GetTransaction looks up a single audit record by reference number,
// letting callers resolve the outcome of an operation that failed with
// unknown result.
func (e *Engine) GetTransaction(ctx context.Context, referenceNumber string) (*TransactionResult, error) {
	record, err := e.store.Transactions().FindByReferenceNumber(referenceNumber)
	if err != nil {
		return nil, err
	}
	return buildResult(record, "Transaction record"), nil
}

// GetTransactionHistory returns COMPLETED records for the account in
// transaction-date descending order, optionally bounded to [start, end].
// Failed and pending records never appear in history views.
func (e *Engine) GetTransactionHistory(ctx context.Context, accountNumber string, start, end *time.Time) ([]*TransactionResult, error) {
	if _, err := e.store.Accounts().FindByAccountNumber(accountNumber); err != nil {
		return nil, err
	}

	var (
		records []*domain.Transaction
		err     error
	)
	if start != nil && end != nil {
		records, err = e.store.Transactions().FindByAccountAndDateRange(accountNumber, *start, *end)
	} else {
		records, err = e.store.Transactions().FindByAccount(accountNumber)
	}
	if err != nil {
		return nil, err
	}

	results := make([]*TransactionResult, 0, len(records))
	for _, record := range records {
		if !record.IsSuccessful() {
			continue
		}
		results = append(results, buildResult(record, "Transaction record"))
	}
	return results, nil
}

// GetTotalDeposits sums the amounts of all COMPLETED deposits into the
// account; zero for an account with none.
func (e *Engine) GetTotalDeposits(ctx context.Context, accountNumber string) (decimal.Decimal, error) {
	if _, err := e.store.Accounts().FindByAccountNumber(accountNumber); err != nil {
		return decimal.Zero, err
	}

	records, err := e.store.Transactions().FindByAccount(accountNumber)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, record := range records {
		if record.TransactionType == domain.TransactionTypeDeposit && record.IsSuccessful() {
			total = total.Add(record.Amount)
		}
	}
	return total, nil
}

// finalizeFailed marks the given records FAILED and persists them in a
// separate best-effort commit, then emits one failed notification keyed on
// the first record. The audit trail never keeps an orphaned PENDING entry
// past this step.
func (e *Engine) finalizeFailed(ctx context.Context, cause error, records ...*domain.Transaction) {
	var live []*domain.Transaction
	for _, record := range records {
		if record != nil {
			live = append(live, record)
		}
	}
	if len(live) == 0 {
		return
	}

	reason := cause.Error()
	for _, record := range live {
		record.MarkFailed(reason)
	}

	err := e.store.WithTransaction(ctx, func(s Store) error {
		for _, record := range live {
			if err := s.Transactions().Create(record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Error("failed to persist failed transaction record",
			"reference_number", live[0].ReferenceNumber, "error", err)
	}

	e.notifier.NotifyFailed(live[0], reason)
}

func buildResult(record *domain.Transaction, message string) *TransactionResult {
	return &TransactionResult{
		ReferenceNumber:     record.ReferenceNumber,
		TransactionType:     record.TransactionType,
		Amount:              record.Amount,
		BalanceAfter:        record.BalanceAfter,
		AccountNumber:       record.AccountNumber,
		TargetAccountNumber: record.TargetAccountNumber,
		Description:         record.Description,
		Status:              record.Status,
		TransactionDate:     record.TransactionDate,
		Channel:             record.Channel,
		Message:             message,
	}
}
