package ledger

import (
	"context"

	"banking-ledger/internal/domain"
)

// Store is the ledger's view of durable storage. WithTransaction groups
// every account and audit-record write of one operation into a single
// atomic commit; the repositories obtained inside the closure operate on
// that commit. Row locks taken via FindByAccountNumberForUpdate are held
// until the commit resolves.
type Store interface {
	Accounts() domain.AccountRepository
	Transactions() domain.TransactionRepository
	WithTransaction(ctx context.Context, fn func(Store) error) error
}
