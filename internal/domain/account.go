package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"banking-ledger/internal/errors"
)

type AccountType string

const (
	AccountTypeChecking AccountType = "CHECKING"
	AccountTypeSavings  AccountType = "SAVINGS"
	AccountTypeCredit   AccountType = "CREDIT"
)

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "ACTIVE"
	AccountStatusInactive  AccountStatus = "INACTIVE"
	AccountStatusSuspended AccountStatus = "SUSPENDED"
	AccountStatusClosed    AccountStatus = "CLOSED"
)

// Per-type defaults applied at creation time.
var (
	defaultCheckingOverdraft = decimal.RequireFromString("500.00")
	defaultCreditLimit       = decimal.RequireFromString("5000.00")

	defaultInterestRates = map[AccountType]decimal.Decimal{
		AccountTypeChecking: decimal.RequireFromString("0.01"),
		AccountTypeSavings:  decimal.RequireFromString("0.02"),
		AccountTypeCredit:   decimal.RequireFromString("0.15"),
	}
)

// Account is the unit of mutual exclusion in the ledger. For CHECKING and
// SAVINGS accounts Balance is funds held; for CREDIT accounts Balance is the
// amount owed, bounded above by CreditLimit. Version is an optimistic
// counter incremented on every persisted mutation.
type Account struct {
	ID                int64            `json:"-"`
	AccountNumber     string           `json:"account_number"`
	AccountType       AccountType      `json:"account_type"`
	Balance           decimal.Decimal  `json:"balance"`
	InterestRate      decimal.Decimal  `json:"interest_rate"`
	CreditLimit       *decimal.Decimal `json:"credit_limit,omitempty"`
	OverdraftLimit    decimal.Decimal  `json:"overdraft_limit"`
	Status            AccountStatus    `json:"status"`
	Version           int64            `json:"-"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	LastTransactionAt *time.Time       `json:"last_transaction_at,omitempty"`
}

// NewAccount creates an account of the given type with its default limits
// and a freshly generated account number.
func NewAccount(accountType AccountType) (*Account, error) {
	account := &Account{
		AccountNumber:  GenerateAccountNumber(accountType),
		AccountType:    accountType,
		Balance:        decimal.Zero,
		OverdraftLimit: decimal.Zero,
		Status:         AccountStatusActive,
	}

	switch accountType {
	case AccountTypeChecking:
		account.InterestRate = defaultInterestRates[accountType]
		account.OverdraftLimit = defaultCheckingOverdraft
	case AccountTypeSavings:
		account.InterestRate = defaultInterestRates[accountType]
	case AccountTypeCredit:
		account.InterestRate = defaultInterestRates[accountType]
		limit := defaultCreditLimit
		account.CreditLimit = &limit
	default:
		return nil, errors.NewAppErrorf(errors.InvalidInput, "unknown account type: %s", accountType)
	}

	return account, nil
}

// NewCustomAccount creates an account of the given type and then applies any
// non-nil overrides.
func NewCustomAccount(accountType AccountType, interestRate, creditLimit, overdraftLimit *decimal.Decimal) (*Account, error) {
	account, err := NewAccount(accountType)
	if err != nil {
		return nil, err
	}

	if interestRate != nil {
		account.InterestRate = *interestRate
	}
	if creditLimit != nil {
		if creditLimit.IsNegative() {
			return nil, errors.NewAppError(errors.InvalidInput, "credit limit must not be negative")
		}
		limit := *creditLimit
		account.CreditLimit = &limit
	}
	if overdraftLimit != nil {
		if overdraftLimit.IsNegative() {
			return nil, errors.NewAppError(errors.InvalidInput, "overdraft limit must not be negative")
		}
		account.OverdraftLimit = *overdraftLimit
	}

	return account, nil
}

// GenerateAccountNumber produces an account number of the form
// {CHK|SAV|CRD}-{timestamp}-{random}. Uniqueness is enforced by the store at
// commit time, not assumed from the random suffix.
func GenerateAccountNumber(accountType AccountType) string {
	var prefix string
	switch accountType {
	case AccountTypeChecking:
		prefix = "CHK"
	case AccountTypeSavings:
		prefix = "SAV"
	case AccountTypeCredit:
		prefix = "CRD"
	default:
		prefix = "ACC"
	}

	millis := fmt.Sprintf("%d", time.Now().UnixMilli())
	if len(millis) > 8 {
		millis = millis[len(millis)-8:]
	}
	random := strings.ToUpper(uuid.NewString()[:4])
	return fmt.Sprintf("%s-%s-%s", prefix, millis, random)
}

// AvailableBalance is the maximum amount that can currently be withdrawn or
// transferred out.
func (a *Account) AvailableBalance() decimal.Decimal {
	if a.AccountType == AccountTypeCredit {
		if a.CreditLimit == nil {
			return decimal.Zero
		}
		return a.CreditLimit.Sub(a.Balance)
	}
	return a.Balance.Add(a.OverdraftLimit)
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// Deposit credits the account. For CREDIT accounts a deposit is a payment
// and reduces the amount owed.
func (a *Account) Deposit(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.ErrInvalidAmount
	}

	if a.AccountType == AccountTypeCredit {
		a.Balance = a.Balance.Sub(amount)
	} else {
		a.Balance = a.Balance.Add(amount)
	}
	a.touch()
	return nil
}

// Withdraw debits the account, never past AvailableBalance. For CREDIT
// accounts a withdrawal is a draw against the limit and increases the amount
// owed, so drawing the full available credit leaves Balance == CreditLimit.
func (a *Account) Withdraw(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.ErrInvalidAmount
	}

	available := a.AvailableBalance()
	if amount.GreaterThan(available) {
		return errors.NewAppErrorf(errors.InsufficientFunds,
			"insufficient funds: available %s, requested %s", available, amount)
	}

	if a.AccountType == AccountTypeCredit {
		a.Balance = a.Balance.Add(amount)
	} else {
		a.Balance = a.Balance.Sub(amount)
	}
	a.touch()
	return nil
}

func (a *Account) touch() {
	now := time.Now()
	a.LastTransactionAt = &now
}

// AccountRepository is the store contract for account rows.
// FindByAccountNumberForUpdate acquires an exclusive row lock with bounded
// wait and must be the only read used before a mutation.
type AccountRepository interface {
	Create(account *Account) error
	FindByAccountNumber(accountNumber string) (*Account, error)
	FindByAccountNumberForUpdate(accountNumber string) (*Account, error)
	Save(account *Account) error
}
