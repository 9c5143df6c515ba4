package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/balance-ledger/internal/core/domain"
	"github.com/rl1809/balance-ledger/internal/port"
)

// MemoryAdapter is an in-memory implementation of the balance, ledger and
// idempotency ports. It keeps the same conditional-write contract as the
// MySQL adapter and is used in tests and local runs without infrastructure.
type MemoryAdapter struct {
	mu          sync.Mutex
	balances    map[string]domain.Balance
	entries     []domain.LedgerEntry
	idempotency map[string]bool
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		balances:    make(map[string]domain.Balance),
		idempotency: make(map[string]bool),
	}
}

func (m *MemoryAdapter) GetOrCreate(ctx context.Context, ownerID string) (*domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[ownerID]
	if !ok {
		now := time.Now().UTC()
		bal = domain.Balance{
			OwnerID:   ownerID,
			Available: decimal.Zero,
			Reserved:  decimal.Zero,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.balances[ownerID] = bal
	}
	copied := bal
	return &copied, nil
}

func (m *MemoryAdapter) Get(ctx context.Context, ownerID string) (*domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[ownerID]
	if !ok {
		return nil, nil
	}
	copied := bal
	return &copied, nil
}

func (m *MemoryAdapter) ApplyVersioned(ctx context.Context, next domain.Balance, expectedVersion int64, entry domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.balances[next.OwnerID]
	if !ok || current.Version != expectedVersion {
		return port.ErrVersionConflict
	}

	next.UpdatedAt = time.Now().UTC()
	m.balances[next.OwnerID] = next
	m.entries = append(m.entries, entry)

	if entry.ReversalOf != "" {
		for i := range m.entries {
			if m.entries[i].ID == entry.ReversalOf && m.entries[i].Status == domain.EntryStatusCompleted {
				m.entries[i].Status = domain.EntryStatusReversed
			}
		}
	}
	return nil
}

func (m *MemoryAdapter) SetFrozen(ctx context.Context, ownerID string, frozen bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[ownerID]
	if !ok {
		return nil
	}
	bal.Frozen = frozen
	bal.Version++
	bal.UpdatedAt = time.Now().UTC()
	m.balances[ownerID] = bal
	return nil
}

func (m *MemoryAdapter) SetLowThreshold(ctx context.Context, ownerID string, threshold decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[ownerID]
	if !ok {
		return nil
	}
	bal.LowThreshold = threshold
	bal.Version++
	bal.UpdatedAt = time.Now().UTC()
	m.balances[ownerID] = bal
	return nil
}

// SetAllowNegative flips the owner-class flag relaxing the non-negative
// available invariant. Test and bootstrap helper.
func (m *MemoryAdapter) SetAllowNegative(ctx context.Context, ownerID string, allow bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[ownerID]
	if !ok {
		return nil
	}
	bal.AllowNegative = allow
	bal.Version++
	m.balances[ownerID] = bal
	return nil
}

func (m *MemoryAdapter) ListOwners(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owners := make([]string, 0, len(m.balances))
	for id := range m.balances {
		owners = append(owners, id)
	}
	sort.Strings(owners)
	return owners, nil
}

func (m *MemoryAdapter) GetEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.ID == id {
			copied := e
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MemoryAdapter) FindReversal(ctx context.Context, originalID string) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.ReversalOf == originalID {
			copied := e
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MemoryAdapter) List(ctx context.Context, ownerID string, filter domain.EntryFilter, page domain.Page) (*domain.EntryPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []domain.LedgerEntry
	for _, e := range m.entries {
		if e.OwnerID != ownerID || !matchesFilter(e, filter) {
			continue
		}
		matched = append(matched, e)
	}

	// newest first, matching the SQL adapter
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	result := &domain.EntryPage{Total: len(matched)}
	limit, offset := normalizePage(page)
	start := offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	result.Entries = append(result.Entries, matched[start:end]...)
	return result, nil
}

func (m *MemoryAdapter) Totals(ctx context.Context, ownerID string) (domain.LedgerTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var totals domain.LedgerTotals
	for _, e := range m.entries {
		if e.OwnerID != ownerID {
			continue
		}
		if e.Status != domain.EntryStatusCompleted && e.Status != domain.EntryStatusReversed {
			continue
		}
		switch e.Type {
		case domain.EntryTypeCredit:
			totals.Credits = totals.Credits.Add(e.Amount)
		case domain.EntryTypeDebit:
			totals.Debits = totals.Debits.Add(e.Amount)
		case domain.EntryTypeReserve:
			totals.Reserves = totals.Reserves.Add(e.Amount)
		case domain.EntryTypeRelease:
			totals.Releases = totals.Releases.Add(e.Amount)
		}
	}
	return totals, nil
}

func (m *MemoryAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idempotency[key] {
		return false, nil
	}
	m.idempotency[key] = true
	return true, nil
}

// CorruptBalance overwrites stored amounts without a ledger entry,
// simulating drift for verifier tests.
func (m *MemoryAdapter) CorruptBalance(ownerID string, available, reserved decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[ownerID]
	if !ok {
		return
	}
	bal.Available = available
	bal.Reserved = reserved
	m.balances[ownerID] = bal
}

// normalizePage clamps limit and offset; list queries never see a
// negative bound.
func normalizePage(page domain.Page) (limit, offset int) {
	limit = page.Limit
	if limit <= 0 {
		limit = 50
	}
	offset = page.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func matchesFilter(e domain.LedgerEntry, f domain.EntryFilter) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.ReferenceType != "" && e.ReferenceType != f.ReferenceType {
		return false
	}
	if f.ReferenceID != "" && e.ReferenceID != f.ReferenceID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

var (
	_ port.BalanceRepository = (*MemoryAdapter)(nil)
	_ port.LedgerRepository  = (*MemoryAdapter)(nil)
	_ port.CacheRepository   = (*MemoryAdapter)(nil)
)
