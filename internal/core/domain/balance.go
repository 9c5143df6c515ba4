package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance tracks the available and reserved quantity for one owner
// (a company wallet, a SKU+warehouse pair, a payout pool). It is created
// lazily on first reference, never deleted, and mutated only through the
// versioned write path.
type Balance struct {
	OwnerID       string
	Available     decimal.Decimal
	Reserved      decimal.Decimal
	Version       int64           // optimistic locking
	LowThreshold  decimal.Decimal // zero disables the low-balance alert
	AllowNegative bool
	Frozen        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Reserved)
}

func (b Balance) Snapshot() BalanceSnapshot {
	return BalanceSnapshot{
		Available: b.Available,
		Reserved:  b.Reserved,
		Total:     b.Total(),
		Version:   b.Version,
	}
}

// BalanceSnapshot is a consistent point-in-time view of a balance.
type BalanceSnapshot struct {
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
	Total     decimal.Decimal `json:"total"`
	Version   int64           `json:"version"`
}
