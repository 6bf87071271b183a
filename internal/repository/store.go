package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"banking-ledger/internal/domain"
	"banking-ledger/internal/errors"
	"banking-ledger/internal/ledger"
)

// DefaultLockWait bounds how long a FOR UPDATE acquisition may block before
// the operation fails with a retryable contention error.
const DefaultLockWait = 3 * time.Second

// Store is the Postgres realization of the ledger store contract. A
// top-level Store hands out repositories bound to the bare connection pool;
// WithTransaction hands the closure a Store bound to a single database
// transaction so that every save inside it commits or rolls back as one.
type Store struct {
	db       *sql.DB
	executor SQLExecutor
	lockWait time.Duration
	logger   *slog.Logger
}

func NewStore(db *sql.DB, lockWait time.Duration, logger *slog.Logger) *Store {
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	return &Store{
		db:       db,
		executor: db,
		lockWait: lockWait,
		logger:   logger,
	}
}

func (s *Store) Accounts() domain.AccountRepository {
	return NewAccountRepository(s.executor, s.lockWait, s.logger)
}

func (s *Store) Transactions() domain.TransactionRepository {
	return NewTransactionRepository(s.executor, s.logger)
}

// WithTransaction executes fn within a database transaction. Row locks taken
// by the repositories inside fn are held until commit or rollback.
func (s *Store) WithTransaction(ctx context.Context, fn func(ledger.Store) error) error {
	if s.db == nil {
		return errors.NewAppError(errors.InternalError, "nested store transaction")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapPQError(err, "failed to begin transaction")
	}

	txStore := &Store{
		executor: &TxWrapper{Tx: tx},
		lockWait: s.lockWait,
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapPQError(err, "failed to commit transaction")
	}
	return nil
}

var _ ledger.Store = (*Store)(nil)

// mapPQError translates driver failures into the error taxonomy: unique
// violations and lock/serialization conflicts are retryable contention,
// everything else is a persistence failure with unknown outcome.
func mapPQError(err error, message string) *errors.AppError {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "23505": // unique_violation
			return errors.ErrDuplicateReference.WithDetails(pqErr.Detail)
		case "55P03": // lock_not_available
			return errors.ErrLockTimeout.WithDetails(pqErr.Message)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return errors.ErrVersionConflict.WithDetails(pqErr.Message)
		}
	}
	return errors.NewAppError(errors.PersistenceError, message).WithDetails(err.Error())
}
