package service

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"banking-ledger/internal/domain"
	"banking-ledger/internal/errors"
	"banking-ledger/internal/ledger"
)

// AccountService manages the account lifecycle. Balance mutation is the
// ledger engine's job; this service only creates accounts and moves them
// through the status state machine.
type AccountService struct {
	store  ledger.Store
	logger *slog.Logger
}

func NewAccountService(store ledger.Store, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:  store,
		logger: logger,
	}
}

// CreateAccount opens an account of the given type with zero balance and
// the type's default limits.
func (s *AccountService) CreateAccount(ctx context.Context, accountType domain.AccountType) (*domain.Account, error) {
	s.logger.Info("creating account", "account_type", accountType)

	account, err := domain.NewAccount(accountType)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTransaction(ctx, func(tx ledger.Store) error {
		return tx.Accounts().Create(account)
	})
	if err != nil {
		s.logger.Error("failed to create account", "account_type", accountType, "error", err)
		return nil, err
	}

	s.logger.Info("account created", "account_number", account.AccountNumber)
	return account, nil
}

// CreateCustomAccount opens an account with explicit limit overrides.
func (s *AccountService) CreateCustomAccount(ctx context.Context, accountType domain.AccountType,
	interestRate, creditLimit, overdraftLimit *decimal.Decimal) (*domain.Account, error) {

	account, err := domain.NewCustomAccount(accountType, interestRate, creditLimit, overdraftLimit)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTransaction(ctx, func(tx ledger.Store) error {
		return tx.Accounts().Create(account)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("custom account created", "account_number", account.AccountNumber)
	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return s.store.Accounts().FindByAccountNumber(accountNumber)
}

// CloseAccount is only permitted when the balance is exactly zero. CLOSED
// is terminal: the account can never be reactivated and the ledger engine
// rejects all further money movement on it.
func (s *AccountService) CloseAccount(ctx context.Context, accountNumber string) error {
	s.logger.Info("closing account", "account_number", accountNumber)

	return s.store.WithTransaction(ctx, func(tx ledger.Store) error {
		account, err := tx.Accounts().FindByAccountNumberForUpdate(accountNumber)
		if err != nil {
			return err
		}
		if account.Status == domain.AccountStatusClosed {
			return errors.NewAppError(errors.InvalidState, "account is already closed")
		}
		if !account.Balance.Equal(decimal.Zero) {
			return errors.NewAppErrorf(errors.InvalidState,
				"cannot close account with non-zero balance: %s", account.Balance)
		}

		account.Status = domain.AccountStatusClosed
		return tx.Accounts().Save(account)
	})
}

func (s *AccountService) SuspendAccount(ctx context.Context, accountNumber, reason string) error {
	s.logger.Info("suspending account", "account_number", accountNumber, "reason", reason)

	return s.store.WithTransaction(ctx, func(tx ledger.Store) error {
		account, err := tx.Accounts().FindByAccountNumberForUpdate(accountNumber)
		if err != nil {
			return err
		}
		if account.Status == domain.AccountStatusClosed {
			return errors.NewAppError(errors.InvalidState, "cannot suspend a closed account")
		}

		account.Status = domain.AccountStatusSuspended
		return tx.Accounts().Save(account)
	})
}

func (s *AccountService) ActivateAccount(ctx context.Context, accountNumber string) error {
	s.logger.Info("activating account", "account_number", accountNumber)

	return s.store.WithTransaction(ctx, func(tx ledger.Store) error {
		account, err := tx.Accounts().FindByAccountNumberForUpdate(accountNumber)
		if err != nil {
			return err
		}
		if account.Status == domain.AccountStatusClosed {
			return errors.NewAppError(errors.InvalidState, "cannot activate a closed account")
		}

		account.Status = domain.AccountStatusActive
		return tx.Accounts().Save(account)
	})
}
