package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit        TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal     TransactionType = "WITHDRAWAL"
	TransactionTypeTransferOut    TransactionType = "TRANSFER_OUT"
	TransactionTypeTransferIn     TransactionType = "TRANSFER_IN"
	TransactionTypeBalanceInquiry TransactionType = "BALANCE_INQUIRY"
	TransactionTypeInterestCredit TransactionType = "INTEREST_CREDIT"
	TransactionTypeFeeDebit       TransactionType = "FEE_DEBIT"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

const DefaultChannel = "ONLINE"

// Transaction is one entry in the append-only audit trail. Once the status
// reaches COMPLETED or FAILED the record is never mutated again.
type Transaction struct {
	ID                  int64             `json:"-"`
	ReferenceNumber     string            `json:"reference_number"`
	TransactionType     TransactionType   `json:"transaction_type"`
	Amount              decimal.Decimal   `json:"amount"`
	BalanceAfter        decimal.Decimal   `json:"balance_after"`
	AccountNumber       string            `json:"account_number"`
	TargetAccountNumber string            `json:"target_account_number,omitempty"`
	Description         string            `json:"description,omitempty"`
	Status              TransactionStatus `json:"status"`
	TransactionDate     time.Time         `json:"transaction_date"`
	ProcessedDate       *time.Time        `json:"processed_date,omitempty"`
	FailureReason       string            `json:"failure_reason,omitempty"`
	Channel             string            `json:"channel"`
}

// NewTransaction creates a PENDING record with a fresh reference number.
// An empty channel falls back to DefaultChannel.
func NewTransaction(accountNumber string, txType TransactionType, amount decimal.Decimal, description, channel string) *Transaction {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Transaction{
		ReferenceNumber: GenerateReferenceNumber(),
		TransactionType: txType,
		Amount:          amount,
		AccountNumber:   accountNumber,
		Description:     description,
		Status:          TransactionStatusPending,
		TransactionDate: time.Now(),
		Channel:         channel,
	}
}

// GenerateReferenceNumber produces TXN-{millis}-{random}. Uniqueness is
// enforced by the store at commit time.
func GenerateReferenceNumber() string {
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("TXN-%d-%s", time.Now().UnixMilli(), random)
}

func (t *Transaction) MarkCompleted(balanceAfter decimal.Decimal) {
	now := time.Now()
	t.Status = TransactionStatusCompleted
	t.BalanceAfter = balanceAfter
	t.ProcessedDate = &now
}

func (t *Transaction) MarkFailed(reason string) {
	now := time.Now()
	t.Status = TransactionStatusFailed
	t.FailureReason = reason
	t.ProcessedDate = &now
}

func (t *Transaction) IsSuccessful() bool {
	return t.Status == TransactionStatusCompleted
}

func (t *Transaction) IsFinalized() bool {
	return t.Status == TransactionStatusCompleted || t.Status == TransactionStatusFailed
}

// TransactionRepository is the store contract for audit records. Records are
// append-only; Create is the only write and persists the record in its
// current (usually final) state.
type TransactionRepository interface {
	Create(tx *Transaction) error
	FindByReferenceNumber(referenceNumber string) (*Transaction, error)
	FindByAccount(accountNumber string) ([]*Transaction, error)
	FindByAccountAndDateRange(accountNumber string, start, end time.Time) ([]*Transaction, error)
}
