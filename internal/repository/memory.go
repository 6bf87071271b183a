package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"banking-ledger/internal/domain"
	"banking-ledger/internal/errors"
	"banking-ledger/internal/ledger"
)

// MemoryStore is an in-process realization of the ledger store contract:
// a channel-based exclusive lock per account row with bounded wait, and
// staged writes applied as one atomic unit at commit. It backs the unit
// tests and a no-database development mode; the semantics mirror the
// Postgres store (row locks, optimistic versions, unique reference numbers).
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	byRef    map[string]*domain.Transaction
	records  []*domain.Transaction
	locks    map[string]chan struct{}
	lockWait time.Duration

	nextAccountID int64
	nextRecordID  int64
}

func NewMemoryStore(lockWait time.Duration) *MemoryStore {
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	return &MemoryStore{
		accounts: make(map[string]*domain.Account),
		byRef:    make(map[string]*domain.Transaction),
		locks:    make(map[string]chan struct{}),
		lockWait: lockWait,
	}
}

func (m *MemoryStore) Accounts() domain.AccountRepository {
	return &memAccountRepo{store: m}
}

func (m *MemoryStore) Transactions() domain.TransactionRepository {
	return &memTransactionRepo{store: m}
}

func (m *MemoryStore) WithTransaction(ctx context.Context, fn func(ledger.Store) error) error {
	tx := &memTx{
		store:          m,
		stagedAccounts: make(map[string]*domain.Account),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

var _ ledger.Store = (*MemoryStore)(nil)

func (m *MemoryStore) lockChan(accountNumber string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.locks[accountNumber]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[accountNumber] = ch
	}
	return ch
}

// memTx stages the writes of one logical operation. Nothing becomes visible
// to readers until commit applies the whole batch under the store mutex.
type memTx struct {
	store          *MemoryStore
	held           []string
	stagedNew      []*domain.Account
	stagedAccounts map[string]*domain.Account
	stagedRecords  []*domain.Transaction
	released       bool
}

func (t *memTx) Accounts() domain.AccountRepository {
	return &memAccountRepo{store: t.store, tx: t}
}

func (t *memTx) Transactions() domain.TransactionRepository {
	return &memTransactionRepo{store: t.store, tx: t}
}

func (t *memTx) WithTransaction(ctx context.Context, fn func(ledger.Store) error) error {
	return errors.NewAppError(errors.InternalError, "nested store transaction")
}

func (t *memTx) holds(accountNumber string) bool {
	for _, held := range t.held {
		if held == accountNumber {
			return true
		}
	}
	return false
}

func (t *memTx) acquire(accountNumber string) error {
	if t.holds(accountNumber) {
		return nil
	}
	ch := t.store.lockChan(accountNumber)
	select {
	case ch <- struct{}{}:
		t.held = append(t.held, accountNumber)
		return nil
	case <-time.After(t.store.lockWait):
		return errors.ErrLockTimeout
	}
}

func (t *memTx) release() {
	if t.released {
		return
	}
	t.released = true
	for i := len(t.held) - 1; i >= 0; i-- {
		<-t.store.lockChan(t.held[i])
	}
}

func (t *memTx) commit() error {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, account := range t.stagedNew {
		if _, exists := m.accounts[account.AccountNumber]; exists {
			return errors.NewAppError(errors.Contention, "account number already exists")
		}
	}
	for accountNumber, staged := range t.stagedAccounts {
		committed, ok := m.accounts[accountNumber]
		if !ok {
			return errors.ErrAccountNotFound
		}
		if committed.Version != staged.Version-1 {
			return errors.ErrVersionConflict
		}
	}
	for _, record := range t.stagedRecords {
		if _, exists := m.byRef[record.ReferenceNumber]; exists {
			return errors.ErrDuplicateReference
		}
	}

	now := time.Now()
	for _, account := range t.stagedNew {
		m.nextAccountID++
		account.ID = m.nextAccountID
		account.Version = 1
		account.CreatedAt = now
		account.UpdatedAt = now
		m.accounts[account.AccountNumber] = copyAccount(account)
	}
	for accountNumber, staged := range t.stagedAccounts {
		staged.ID = m.accounts[accountNumber].ID
		staged.UpdatedAt = now
		m.accounts[accountNumber] = staged
	}
	for _, record := range t.stagedRecords {
		m.nextRecordID++
		record.ID = m.nextRecordID
		m.byRef[record.ReferenceNumber] = record
		m.records = append(m.records, record)
	}
	return nil
}

type memAccountRepo struct {
	store *MemoryStore
	tx    *memTx
}

func (r *memAccountRepo) Create(account *domain.Account) error {
	if r.tx != nil {
		r.tx.stagedNew = append(r.tx.stagedNew, account)
		return nil
	}

	staged := copyAccount(account)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.accounts[account.AccountNumber]; exists {
		return errors.NewAppError(errors.Contention, "account number already exists")
	}
	r.store.nextAccountID++
	staged.ID = r.store.nextAccountID
	staged.Version = 1
	now := time.Now()
	staged.CreatedAt = now
	staged.UpdatedAt = now
	r.store.accounts[account.AccountNumber] = staged
	account.ID = staged.ID
	account.Version = 1
	return nil
}

func (r *memAccountRepo) FindByAccountNumber(accountNumber string) (*domain.Account, error) {
	if r.tx != nil {
		if staged, ok := r.tx.stagedAccounts[accountNumber]; ok {
			return copyAccount(staged), nil
		}
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	account, ok := r.store.accounts[accountNumber]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return copyAccount(account), nil
}

func (r *memAccountRepo) FindByAccountNumberForUpdate(accountNumber string) (*domain.Account, error) {
	if r.tx == nil {
		return nil, errors.NewAppError(errors.InternalError, "row lock requires a store transaction")
	}
	if err := r.tx.acquire(accountNumber); err != nil {
		return nil, err
	}
	return r.FindByAccountNumber(accountNumber)
}

func (r *memAccountRepo) Save(account *domain.Account) error {
	account.Version++
	staged := copyAccount(account)
	if r.tx != nil {
		if r.tx.stagedAccounts == nil {
			r.tx.stagedAccounts = make(map[string]*domain.Account)
		}
		r.tx.stagedAccounts[account.AccountNumber] = staged
		return nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	committed, ok := r.store.accounts[account.AccountNumber]
	if !ok {
		return errors.ErrAccountNotFound
	}
	if committed.Version != staged.Version-1 {
		return errors.ErrVersionConflict
	}
	staged.ID = committed.ID
	staged.UpdatedAt = time.Now()
	r.store.accounts[account.AccountNumber] = staged
	return nil
}

type memTransactionRepo struct {
	store *MemoryStore
	tx    *memTx
}

func (r *memTransactionRepo) Create(tx *domain.Transaction) error {
	staged := copyTransaction(tx)
	if r.tx != nil {
		r.tx.stagedRecords = append(r.tx.stagedRecords, staged)
		return nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.byRef[tx.ReferenceNumber]; exists {
		return errors.ErrDuplicateReference
	}
	r.store.nextRecordID++
	staged.ID = r.store.nextRecordID
	r.store.byRef[tx.ReferenceNumber] = staged
	r.store.records = append(r.store.records, staged)
	tx.ID = staged.ID
	return nil
}

func (r *memTransactionRepo) FindByReferenceNumber(referenceNumber string) (*domain.Transaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	record, ok := r.store.byRef[referenceNumber]
	if !ok {
		return nil, errors.ErrTransactionNotFound
	}
	return copyTransaction(record), nil
}

func (r *memTransactionRepo) FindByAccount(accountNumber string) ([]*domain.Transaction, error) {
	return r.find(accountNumber, nil, nil)
}

func (r *memTransactionRepo) FindByAccountAndDateRange(accountNumber string, start, end time.Time) ([]*domain.Transaction, error) {
	return r.find(accountNumber, &start, &end)
}

func (r *memTransactionRepo) find(accountNumber string, start, end *time.Time) ([]*domain.Transaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	matches := []*domain.Transaction{}
	for _, record := range r.store.records {
		if record.AccountNumber != accountNumber {
			continue
		}
		if start != nil && record.TransactionDate.Before(*start) {
			continue
		}
		if end != nil && record.TransactionDate.After(*end) {
			continue
		}
		matches = append(matches, copyTransaction(record))
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].TransactionDate.Equal(matches[j].TransactionDate) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].TransactionDate.After(matches[j].TransactionDate)
	})
	return matches, nil
}

func copyAccount(a *domain.Account) *domain.Account {
	cp := *a
	if a.CreditLimit != nil {
		limit := *a.CreditLimit
		cp.CreditLimit = &limit
	}
	if a.LastTransactionAt != nil {
		t := *a.LastTransactionAt
		cp.LastTransactionAt = &t
	}
	return &cp
}

func copyTransaction(t *domain.Transaction) *domain.Transaction {
	cp := *t
	if t.ProcessedDate != nil {
		d := *t.ProcessedDate
		cp.ProcessedDate = &d
	}
	return &cp
}
