package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/balance-ledger/internal/core/domain"
	"github.com/rl1809/balance-ledger/internal/port"
)

// LedgerService orchestrates the four ledger primitives plus the saga and
// reversal operations built on top of them. Every mutation goes through
// the BalanceMutator and commits exactly one paired ledger entry; a failed
// attempt leaves balance and ledger untouched.
type LedgerService struct {
	mutator  *BalanceMutator
	balances port.BalanceRepository
	ledger   port.LedgerRepository
	cache    port.CacheRepository
	alerts   port.AlertSink
	logger   *zap.Logger
	now      func() time.Time
}

func NewLedgerService(
	balances port.BalanceRepository,
	ledger port.LedgerRepository,
	cache port.CacheRepository,
	alerts port.AlertSink,
	logger *zap.Logger,
) *LedgerService {
	return &LedgerService{
		mutator:  NewBalanceMutator(balances),
		balances: balances,
		ledger:   ledger,
		cache:    cache,
		alerts:   alerts,
		logger:   logger,
		now:      time.Now,
	}
}

// Reserve moves amount from available to reserved, holding it for a later
// debit or release.
func (s *LedgerService) Reserve(ctx context.Context, ownerID string, amount decimal.Decimal, ref domain.Reference, initiator, description string) (*domain.LedgerEntry, error) {
	if err := s.checkRequest(ctx, domain.EntryTypeReserve, ownerID, amount, ref); err != nil {
		return nil, err
	}

	compute := func(cur domain.Balance) (domain.Balance, error) {
		if cur.Frozen {
			return domain.Balance{}, domain.ErrOwnerFrozen
		}
		if cur.Available.LessThan(amount) {
			return domain.Balance{}, domain.ErrInsufficientBalance
		}
		cur.Available = cur.Available.Sub(amount)
		cur.Reserved = cur.Reserved.Add(amount)
		return cur, nil
	}

	return s.apply(ctx, ownerID, compute, s.newEntry(domain.EntryTypeReserve, amount, ref, initiator, description))
}

// Debit decrements available directly. Reserved is untouched; settling a
// prior reservation takes a separate Release for the held amount.
func (s *LedgerService) Debit(ctx context.Context, ownerID string, amount decimal.Decimal, ref domain.Reference, initiator, description string) (*domain.LedgerEntry, error) {
	if err := s.checkRequest(ctx, domain.EntryTypeDebit, ownerID, amount, ref); err != nil {
		return nil, err
	}

	compute := func(cur domain.Balance) (domain.Balance, error) {
		if cur.Frozen {
			return domain.Balance{}, domain.ErrOwnerFrozen
		}
		if !cur.AllowNegative && cur.Available.LessThan(amount) {
			return domain.Balance{}, domain.ErrInsufficientBalance
		}
		cur.Available = cur.Available.Sub(amount)
		return cur, nil
	}

	return s.apply(ctx, ownerID, compute, s.newEntry(domain.EntryTypeDebit, amount, ref, initiator, description))
}

// Release moves amount from reserved back to available. A shortfall means
// a mismatched reserve/release pairing upstream. Allowed on frozen owners:
// returning held funds is always safe.
func (s *LedgerService) Release(ctx context.Context, ownerID string, amount decimal.Decimal, ref domain.Reference, initiator, description string) (*domain.LedgerEntry, error) {
	if err := s.checkRequest(ctx, domain.EntryTypeRelease, ownerID, amount, ref); err != nil {
		return nil, err
	}

	compute := func(cur domain.Balance) (domain.Balance, error) {
		if cur.Reserved.LessThan(amount) {
			return domain.Balance{}, domain.ErrInsufficientReserved
		}
		cur.Reserved = cur.Reserved.Sub(amount)
		cur.Available = cur.Available.Add(amount)
		return cur, nil
	}

	return s.apply(ctx, ownerID, compute, s.newEntry(domain.EntryTypeRelease, amount, ref, initiator, description))
}

// Credit unconditionally increments available. Allowed on frozen owners:
// incoming funds are never rejected.
func (s *LedgerService) Credit(ctx context.Context, ownerID string, amount decimal.Decimal, ref domain.Reference, initiator, description string) (*domain.LedgerEntry, error) {
	if err := s.checkRequest(ctx, domain.EntryTypeCredit, ownerID, amount, ref); err != nil {
		return nil, err
	}

	compute := func(cur domain.Balance) (domain.Balance, error) {
		cur.Available = cur.Available.Add(amount)
		return cur, nil
	}

	return s.apply(ctx, ownerID, compute, s.newEntry(domain.EntryTypeCredit, amount, ref, initiator, description))
}

// Transfer debits one owner and credits another as two sequential
// primitives. If the credit fails, a compensating credit reverses the
// debit; there is never a cross-owner lock.
func (s *LedgerService) Transfer(ctx context.Context, fromOwner, toOwner string, amount decimal.Decimal, ref domain.Reference, initiator, description string) (*domain.LedgerEntry, *domain.LedgerEntry, error) {
	debit, err := s.Debit(ctx, fromOwner, amount, ref, initiator, description)
	if err != nil {
		return nil, nil, err
	}

	credit, err := s.Credit(ctx, toOwner, amount, ref, initiator, description)
	if err != nil {
		if _, rerr := s.Reverse(ctx, debit.ID, initiator); rerr != nil {
			s.logger.Error("transfer compensation failed, debit stranded",
				zap.String("owner_id", fromOwner),
				zap.String("entry_id", debit.ID),
				zap.Error(rerr))
			return nil, nil, fmt.Errorf("transfer credit failed and compensation failed: %w", rerr)
		}
		return nil, nil, err
	}

	return debit, credit, nil
}

// Reverse appends a compensating entry for a COMPLETED entry and flips the
// original's status to REVERSED in the same transaction. The original is
// never edited otherwise.
func (s *LedgerService) Reverse(ctx context.Context, entryID, initiator string) (*domain.LedgerEntry, error) {
	original, err := s.ledger.GetEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("load entry: %w", err)
	}
	if original == nil {
		return nil, domain.ErrEntryNotFound
	}
	if original.Status == domain.EntryStatusReversed {
		return nil, domain.ErrAlreadyReversed
	}
	if original.Status != domain.EntryStatusCompleted {
		return nil, domain.ErrNotReversible
	}
	if existing, err := s.ledger.FindReversal(ctx, entryID); err != nil {
		return nil, fmt.Errorf("check reversal: %w", err)
	} else if existing != nil {
		return nil, domain.ErrAlreadyReversed
	}

	var compute ComputeFn
	var compType domain.EntryType
	amount := original.Amount

	switch original.Type {
	case domain.EntryTypeCredit:
		compType = domain.EntryTypeDebit
		compute = func(cur domain.Balance) (domain.Balance, error) {
			if !cur.AllowNegative && cur.Available.LessThan(amount) {
				return domain.Balance{}, domain.ErrInsufficientBalance
			}
			cur.Available = cur.Available.Sub(amount)
			return cur, nil
		}
	case domain.EntryTypeDebit:
		compType = domain.EntryTypeCredit
		compute = func(cur domain.Balance) (domain.Balance, error) {
			cur.Available = cur.Available.Add(amount)
			return cur, nil
		}
	case domain.EntryTypeReserve:
		compType = domain.EntryTypeRelease
		compute = func(cur domain.Balance) (domain.Balance, error) {
			if cur.Reserved.LessThan(amount) {
				return domain.Balance{}, domain.ErrInsufficientReserved
			}
			cur.Reserved = cur.Reserved.Sub(amount)
			cur.Available = cur.Available.Add(amount)
			return cur, nil
		}
	case domain.EntryTypeRelease:
		compType = domain.EntryTypeReserve
		compute = func(cur domain.Balance) (domain.Balance, error) {
			if cur.Available.LessThan(amount) {
				return domain.Balance{}, domain.ErrInsufficientBalance
			}
			cur.Available = cur.Available.Sub(amount)
			cur.Reserved = cur.Reserved.Add(amount)
			return cur, nil
		}
	default:
		return nil, fmt.Errorf("unknown entry type %q", original.Type)
	}

	entry := s.newEntry(compType, amount, domain.Reference{Type: "reversal", ID: entryID}, initiator,
		fmt.Sprintf("reversal of %s %s", original.Type, entryID))
	entry.ReversalOf = entryID

	_, committed, err := s.mutator.Apply(ctx, original.OwnerID, compute, entry)
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// GetBalance returns a consistent point-in-time view, creating the balance
// lazily so first reads and first writes behave the same.
func (s *LedgerService) GetBalance(ctx context.Context, ownerID string) (domain.BalanceSnapshot, error) {
	bal, err := s.balances.GetOrCreate(ctx, ownerID)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("load balance: %w", err)
	}
	return bal.Snapshot(), nil
}

func (s *LedgerService) ListLedger(ctx context.Context, ownerID string, filter domain.EntryFilter, page domain.Page) (*domain.EntryPage, error) {
	return s.ledger.List(ctx, ownerID, filter, page)
}

func (s *LedgerService) Freeze(ctx context.Context, ownerID string) error {
	if _, err := s.balances.GetOrCreate(ctx, ownerID); err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	return s.balances.SetFrozen(ctx, ownerID, true)
}

func (s *LedgerService) Unfreeze(ctx context.Context, ownerID string) error {
	return s.balances.SetFrozen(ctx, ownerID, false)
}

func (s *LedgerService) SetLowThreshold(ctx context.Context, ownerID string, threshold decimal.Decimal) error {
	if _, err := s.balances.GetOrCreate(ctx, ownerID); err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	return s.balances.SetLowThreshold(ctx, ownerID, threshold)
}

func (s *LedgerService) checkRequest(ctx context.Context, op domain.EntryType, ownerID string, amount decimal.Decimal, ref domain.Reference) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return domain.ErrInvalidAmount
	}
	if s.cache == nil || ref.ID == "" {
		return nil
	}
	key := fmt.Sprintf("ledger:%s:%s:%s:%s", op, ownerID, ref.Type, ref.ID)
	ok, err := s.cache.SetIdempotency(ctx, key)
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return domain.ErrDuplicateRequest
	}
	return nil
}

func (s *LedgerService) apply(ctx context.Context, ownerID string, compute ComputeFn, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	balance, committed, err := s.mutator.Apply(ctx, ownerID, compute, entry)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("ledger entry committed",
		zap.String("owner_id", ownerID),
		zap.String("entry_id", committed.ID),
		zap.String("type", string(committed.Type)),
		zap.String("amount", committed.Amount.String()))

	s.checkLowBalance(ctx, balance, committed)
	return committed, nil
}

// checkLowBalance is fire-and-forget: a sink failure is logged, never
// retried, and never fails the committed operation.
func (s *LedgerService) checkLowBalance(ctx context.Context, balance *domain.Balance, entry *domain.LedgerEntry) {
	if balance.LowThreshold.IsZero() || !balance.Available.LessThan(balance.LowThreshold) {
		return
	}
	alert := domain.LowBalanceAlert{
		OwnerID:   balance.OwnerID,
		Available: balance.Available,
		Threshold: balance.LowThreshold,
		EntryID:   entry.ID,
		RaisedAt:  s.now(),
	}
	if err := s.alerts.LowBalance(ctx, alert); err != nil {
		s.logger.Warn("low balance alert delivery failed",
			zap.String("owner_id", balance.OwnerID),
			zap.Error(err))
	}
}

func (s *LedgerService) newEntry(t domain.EntryType, amount decimal.Decimal, ref domain.Reference, initiator, description string) domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:            uuid.New().String(),
		Type:          t,
		Amount:        amount,
		ReferenceType: ref.Type,
		ReferenceID:   ref.ID,
		Initiator:     initiator,
		Description:   description,
		Status:        domain.EntryStatusPending,
		CreatedAt:     s.now(),
	}
}
