package repository

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"banking-ledger/internal/domain"
	"banking-ledger/internal/errors"
)

type accountRepository struct {
	db       SQLExecutor
	lockWait time.Duration
	logger   *slog.Logger
}

func NewAccountRepository(db SQLExecutor, lockWait time.Duration, logger *slog.Logger) domain.AccountRepository {
	return &accountRepository{
		db:       db,
		lockWait: lockWait,
		logger:   logger,
	}
}

const accountColumns = `id, account_number, account_type, balance, interest_rate,
		credit_limit, overdraft_limit, status, version, created_at, updated_at, last_transaction_at`

func (r *accountRepository) Create(account *domain.Account) error {
	query := `
		INSERT INTO accounts
		(account_number, account_type, balance, interest_rate, credit_limit,
		 overdraft_limit, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $8)
		RETURNING id
	`

	var creditLimit interface{}
	if account.CreditLimit != nil {
		creditLimit = account.CreditLimit.String()
	}

	now := time.Now()
	err := r.db.QueryRow(
		query,
		account.AccountNumber,
		string(account.AccountType),
		account.Balance.String(),
		account.InterestRate.String(),
		creditLimit,
		account.OverdraftLimit.String(),
		string(account.Status),
		now,
	).Scan(&account.ID)

	if err != nil {
		r.logger.Error("failed to create account",
			"account_number", account.AccountNumber, "error", err)
		return mapPQError(err, "failed to create account")
	}

	account.Version = 1
	account.CreatedAt = now
	account.UpdatedAt = now
	r.logger.Info("account created", "account_number", account.AccountNumber)
	return nil
}

func (r *accountRepository) FindByAccountNumber(accountNumber string) (*domain.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE account_number = $1`, accountColumns)
	return r.scanAccount(query, accountNumber)
}

// FindByAccountNumberForUpdate takes an exclusive row lock with bounded
// wait. Must be called inside a store transaction; a lock that cannot be
// acquired within the configured window fails with contention.
func (r *accountRepository) FindByAccountNumberForUpdate(accountNumber string) (*domain.Account, error) {
	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockWait.Milliseconds())
	if _, err := r.db.Exec(timeout); err != nil {
		return nil, mapPQError(err, "failed to set lock timeout")
	}

	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE account_number = $1 FOR UPDATE`, accountColumns)
	return r.scanAccount(query, accountNumber)
}

func (r *accountRepository) scanAccount(query string, accountNumber string) (*domain.Account, error) {
	var (
		account         domain.Account
		accountType     string
		status          string
		balanceStr      string
		interestStr     string
		overdraftStr    string
		creditLimitStr  sql.NullString
		lastTransaction sql.NullTime
	)

	err := r.db.QueryRow(query, accountNumber).Scan(
		&account.ID,
		&account.AccountNumber,
		&accountType,
		&balanceStr,
		&interestStr,
		&creditLimitStr,
		&overdraftStr,
		&status,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
		&lastTransaction,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			r.logger.Warn("account not found", "account_number", accountNumber)
			return nil, errors.ErrAccountNotFound
		}
		r.logger.Error("failed to get account", "account_number", accountNumber, "error", err)
		return nil, mapPQError(err, "failed to get account")
	}

	account.AccountType = domain.AccountType(accountType)
	account.Status = domain.AccountStatus(status)

	if account.Balance, err = decimal.NewFromString(balanceStr); err != nil {
		return nil, errors.NewAppError(errors.PersistenceError, "failed to parse balance").WithDetails(err.Error())
	}
	if account.InterestRate, err = decimal.NewFromString(interestStr); err != nil {
		return nil, errors.NewAppError(errors.PersistenceError, "failed to parse interest rate").WithDetails(err.Error())
	}
	if account.OverdraftLimit, err = decimal.NewFromString(overdraftStr); err != nil {
		return nil, errors.NewAppError(errors.PersistenceError, "failed to parse overdraft limit").WithDetails(err.Error())
	}
	if creditLimitStr.Valid {
		limit, err := decimal.NewFromString(creditLimitStr.String)
		if err != nil {
			return nil, errors.NewAppError(errors.PersistenceError, "failed to parse credit limit").WithDetails(err.Error())
		}
		account.CreditLimit = &limit
	}
	if lastTransaction.Valid {
		t := lastTransaction.Time
		account.LastTransactionAt = &t
	}

	return &account, nil
}

// Save persists a mutated account with an optimistic version check as a
// second safety net beneath the row lock. A version mismatch means a lost
// update slipped past and surfaces as contention.
func (r *accountRepository) Save(account *domain.Account) error {
	query := `
		UPDATE accounts
		SET balance = $1, status = $2, version = version + 1,
		    updated_at = $3, last_transaction_at = $4
		WHERE account_number = $5 AND version = $6
	`

	now := time.Now()
	var lastTransaction interface{}
	if account.LastTransactionAt != nil {
		lastTransaction = *account.LastTransactionAt
	}

	result, err := r.db.Exec(
		query,
		account.Balance.String(),
		string(account.Status),
		now,
		lastTransaction,
		account.AccountNumber,
		account.Version,
	)
	if err != nil {
		r.logger.Error("failed to save account",
			"account_number", account.AccountNumber, "error", err)
		return mapPQError(err, "failed to save account")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.PersistenceError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		r.logger.Warn("optimistic version check failed",
			"account_number", account.AccountNumber, "version", account.Version)
		return errors.ErrVersionConflict
	}

	account.Version++
	account.UpdatedAt = now
	return nil
}
