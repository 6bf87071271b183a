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

type transactionRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewTransactionRepository(db SQLExecutor, logger *slog.Logger) domain.TransactionRepository {
	return &transactionRepository{
		db:     db,
		logger: logger,
	}
}

const transactionColumns = `id, reference_number, transaction_type, amount, balance_after,
		account_number, target_account_number, description, status,
		transaction_date, processed_date, failure_reason, channel`

// Create appends one audit record in its current state. The unique index on
// reference_number is the collision check for generated references.
func (r *transactionRepository) Create(tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions
		(reference_number, transaction_type, amount, balance_after, account_number,
		 target_account_number, description, status, transaction_date,
		 processed_date, failure_reason, channel)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	var targetAccount, description, failureReason interface{}
	if tx.TargetAccountNumber != "" {
		targetAccount = tx.TargetAccountNumber
	}
	if tx.Description != "" {
		description = tx.Description
	}
	if tx.FailureReason != "" {
		failureReason = tx.FailureReason
	}
	var processedDate interface{}
	if tx.ProcessedDate != nil {
		processedDate = *tx.ProcessedDate
	}

	err := r.db.QueryRow(
		query,
		tx.ReferenceNumber,
		string(tx.TransactionType),
		tx.Amount.String(),
		tx.BalanceAfter.String(),
		tx.AccountNumber,
		targetAccount,
		description,
		string(tx.Status),
		tx.TransactionDate,
		processedDate,
		failureReason,
		tx.Channel,
	).Scan(&tx.ID)

	if err != nil {
		r.logger.Error("failed to create transaction record",
			"reference_number", tx.ReferenceNumber, "error", err)
		return mapPQError(err, "failed to create transaction record")
	}

	r.logger.Info("transaction record created",
		"reference_number", tx.ReferenceNumber, "status", tx.Status)
	return nil
}

func (r *transactionRepository) FindByReferenceNumber(referenceNumber string) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE reference_number = $1`, transactionColumns)

	rows, err := r.db.Query(query, referenceNumber)
	if err != nil {
		return nil, mapPQError(err, "failed to get transaction")
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, errors.ErrTransactionNotFound
	}
	return r.scanTransaction(rows)
}

func (r *transactionRepository) FindByAccount(accountNumber string) ([]*domain.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE account_number = $1
		ORDER BY transaction_date DESC`, transactionColumns)

	return r.queryTransactions(query, accountNumber)
}

func (r *transactionRepository) FindByAccountAndDateRange(accountNumber string, start, end time.Time) ([]*domain.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE account_number = $1 AND transaction_date BETWEEN $2 AND $3
		ORDER BY transaction_date DESC`, transactionColumns)

	return r.queryTransactions(query, accountNumber, start, end)
}

func (r *transactionRepository) queryTransactions(query string, args ...interface{}) ([]*domain.Transaction, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("failed to query transactions", "error", err)
		return nil, mapPQError(err, "failed to query transactions")
	}
	defer rows.Close()

	transactions := []*domain.Transaction{}
	for rows.Next() {
		tx, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPQError(err, "failed to iterate transactions")
	}
	return transactions, nil
}

func (r *transactionRepository) scanTransaction(rows *sql.Rows) (*domain.Transaction, error) {
	var (
		tx            domain.Transaction
		txType        string
		status        string
		amountStr     string
		balanceStr    string
		targetAccount sql.NullString
		description   sql.NullString
		processedDate sql.NullTime
		failureReason sql.NullString
	)

	err := rows.Scan(
		&tx.ID,
		&tx.ReferenceNumber,
		&txType,
		&amountStr,
		&balanceStr,
		&tx.AccountNumber,
		&targetAccount,
		&description,
		&status,
		&tx.TransactionDate,
		&processedDate,
		&failureReason,
		&tx.Channel,
	)
	if err != nil {
		return nil, mapPQError(err, "failed to scan transaction")
	}

	tx.TransactionType = domain.TransactionType(txType)
	tx.Status = domain.TransactionStatus(status)

	if tx.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, errors.NewAppError(errors.PersistenceError, "failed to parse amount").WithDetails(err.Error())
	}
	if tx.BalanceAfter, err = decimal.NewFromString(balanceStr); err != nil {
		return nil, errors.NewAppError(errors.PersistenceError, "failed to parse balance_after").WithDetails(err.Error())
	}
	if targetAccount.Valid {
		tx.TargetAccountNumber = targetAccount.String
	}
	if description.Valid {
		tx.Description = description.String
	}
	if processedDate.Valid {
		t := processedDate.Time
		tx.ProcessedDate = &t
	}
	if failureReason.Valid {
		tx.FailureReason = failureReason.String
	}

	return &tx, nil
}
