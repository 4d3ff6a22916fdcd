package models

import (
	"time"
)

// TransactionType discriminates the direction of a ledger entry. Stored amounts
// are always positive; the sign comes from the type.
type TransactionType string

const (
	TransactionDeposit TransactionType = "deposit"
	TransactionPayment TransactionType = "payment"
	TransactionDebit   TransactionType = "debit"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionDeposit, TransactionPayment, TransactionDebit:
		return true
	}
	return false
}

// Sign returns +1 for deposits and -1 for payments and debits.
func (t TransactionType) Sign() int64 {
	if t == TransactionDeposit {
		return 1
	}
	return -1
}

// Fund status
const (
	FundStatusActive = "active"
	FundStatusFrozen = "frozen"
)

// Fund is the single balance-holding ledger of one group.
type Fund struct {
	ID        string    `json:"id" db:"id"`
	GroupID   string    `json:"groupId" db:"group_id"`
	Balance   int64     `json:"balance" db:"balance"` // minor units
	Currency  string    `json:"currency" db:"currency"`
	Version   int64     `json:"version" db:"version"` // last transaction seq
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Frozen reports whether writes to the fund are halted.
func (f *Fund) Frozen() bool {
	return f.Status == FundStatusFrozen
}

// Transaction is one immutable entry in a fund's ledger.
type Transaction struct {
	ID           string          `json:"id" db:"id"`
	FundID       string          `json:"fundId" db:"fund_id"`
	Seq          int64           `json:"seq" db:"seq"`
	ActingUserID string          `json:"actingUserId" db:"acting_user_id"`
	Type         TransactionType `json:"type" db:"type"`
	Amount       int64           `json:"amount" db:"amount"` // minor units, always > 0
	Description  string          `json:"description" db:"description"`
	ExternalRef  string          `json:"externalRef,omitempty" db:"external_ref"`
	BalanceAfter int64           `json:"balanceAfter" db:"balance_after"` // fund balance once this entry applied
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
}

// SignedAmount returns the amount with the sign implied by the type.
func (t *Transaction) SignedAmount() int64 {
	return t.Type.Sign() * t.Amount
}

// TransactionPage is one page of a fund's history, newest first.
type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	NextCursor   string        `json:"nextCursor,omitempty"`
}
