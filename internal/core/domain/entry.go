package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryTypeCredit  EntryType = "CREDIT"
	EntryTypeDebit   EntryType = "DEBIT"
	EntryTypeReserve EntryType = "RESERVE"
	EntryTypeRelease EntryType = "RELEASE"
)

type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "PENDING"
	EntryStatusCompleted EntryStatus = "COMPLETED"
	EntryStatusFailed    EntryStatus = "FAILED"
	EntryStatusReversed  EntryStatus = "REVERSED"
)

// Reference links a ledger entry to the business event that caused it
// (a shipment, a payment, an adjustment).
type Reference struct {
	Type string
	ID   string
}

// LedgerEntry is the immutable record of a single committed balance
// mutation. The only field that ever changes after the write is Status,
// and only for the COMPLETED -> REVERSED transition applied in the same
// transaction as the compensating entry.
type LedgerEntry struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Type          EntryType       `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore BalanceSnapshot `json:"balance_before"`
	BalanceAfter  BalanceSnapshot `json:"balance_after"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	Initiator     string          `json:"initiator"`
	Description   string          `json:"description"`
	Status        EntryStatus     `json:"status"`
	ReversalOf    string          `json:"reversal_of,omitempty"` // ID of the entry this entry compensates
	CreatedAt     time.Time       `json:"created_at"`
}

// EntryFilter narrows a ledger listing. Zero values match everything.
type EntryFilter struct {
	Types         []EntryType
	Status        EntryStatus
	ReferenceType string
	ReferenceID   string
	From          time.Time
	To            time.Time
}

type Page struct {
	Limit  int
	Offset int
}

type EntryPage struct {
	Entries []LedgerEntry `json:"entries"`
	Total   int           `json:"total"`
}

// LedgerTotals aggregates COMPLETED entry amounts per type for one owner.
// Expected balances are derived from it during reconciliation.
type LedgerTotals struct {
	Credits  decimal.Decimal
	Debits   decimal.Decimal
	Reserves decimal.Decimal
	Releases decimal.Decimal
}

func (t LedgerTotals) ExpectedAvailable() decimal.Decimal {
	return t.Credits.Sub(t.Debits).Sub(t.Reserves).Add(t.Releases)
}

func (t LedgerTotals) ExpectedReserved() decimal.Decimal {
	return t.Reserves.Sub(t.Releases)
}
