package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LowBalanceAlert is emitted after a debit or reserve drops an owner's
// available amount below its configured threshold.
type LowBalanceAlert struct {
	OwnerID   string          `json:"owner_id"`
	Available decimal.Decimal `json:"available"`
	Threshold decimal.Decimal `json:"threshold"`
	EntryID   string          `json:"entry_id"`
	RaisedAt  time.Time       `json:"raised_at"`
}

// ConsistencyViolation reports drift between a stored balance and the
// amounts recomputed from its ledger history. It is raised only by the
// background verifier and never auto-corrected.
type ConsistencyViolation struct {
	OwnerID           string          `json:"owner_id"`
	StoredAvailable   decimal.Decimal `json:"stored_available"`
	StoredReserved    decimal.Decimal `json:"stored_reserved"`
	ExpectedAvailable decimal.Decimal `json:"expected_available"`
	ExpectedReserved  decimal.Decimal `json:"expected_reserved"`
	Version           int64           `json:"version"`
	RaisedAt          time.Time       `json:"raised_at"`
}
