package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/balance-ledger/internal/adapter/storage"
	"github.com/rl1809/balance-ledger/internal/core/domain"
	"github.com/rl1809/balance-ledger/internal/port"
)

type mockAlertSink struct {
	mu         sync.Mutex
	lowBalance []domain.LowBalanceAlert
	violations []domain.ConsistencyViolation
}

func (m *mockAlertSink) LowBalance(ctx context.Context, a domain.LowBalanceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lowBalance = append(m.lowBalance, a)
	return nil
}

func (m *mockAlertSink) ConsistencyViolation(ctx context.Context, a domain.ConsistencyViolation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, a)
	return nil
}

func newTestService() (*LedgerService, *storage.MemoryAdapter, *mockAlertSink) {
	store := storage.NewMemoryAdapter()
	sink := &mockAlertSink{}
	svc := NewLedgerService(store, store, store, sink, zap.NewNop())
	return svc, store, sink
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func ref(id string) domain.Reference {
	return domain.Reference{Type: "test", ID: id}
}

func fund(t *testing.T, svc *LedgerService, ownerID string, amount int64) {
	t.Helper()
	if _, err := svc.Credit(context.Background(), ownerID, dec(amount), ref("fund-"+ownerID), "test", "funding"); err != nil {
		t.Fatalf("funding failed: %v", err)
	}
}

func TestCredit_Success(t *testing.T) {
	svc, _, _ := newTestService()

	entry, err := svc.Credit(context.Background(), "owner-1", dec(500), ref("r1"), "payments", "top-up")
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	if entry.Status != domain.EntryStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", entry.Status)
	}
	if !entry.BalanceBefore.Available.IsZero() {
		t.Errorf("expected before available 0, got %s", entry.BalanceBefore.Available)
	}
	if !entry.BalanceAfter.Available.Equal(dec(500)) {
		t.Errorf("expected after available 500, got %s", entry.BalanceAfter.Available)
	}

	snapshot, err := svc.GetBalance(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("get balance failed: %v", err)
	}
	if !snapshot.Available.Equal(dec(500)) {
		t.Errorf("expected available 500, got %s", snapshot.Available)
	}
}

func TestDebit_InsufficientBalance(t *testing.T) {
	svc, _, _ := newTestService()
	fund(t, svc, "owner-1", 1000)

	_, err := svc.Debit(context.Background(), "owner-1", dec(1500), ref("r1"), "test", "")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got: %v", err)
	}

	// Balance and ledger untouched
	snapshot, _ := svc.GetBalance(context.Background(), "owner-1")
	if !snapshot.Available.Equal(dec(1000)) {
		t.Errorf("expected available 1000, got %s", snapshot.Available)
	}
	page, _ := svc.ListLedger(context.Background(), "owner-1", domain.EntryFilter{}, domain.Page{})
	if page.Total != 1 {
		t.Errorf("expected 1 entry (the funding credit), got %d", page.Total)
	}
}

func TestReserve_MovesAvailableToReserved(t *testing.T) {
	svc, _, _ := newTestService()
	fund(t, svc, "owner-1", 1000)

	_, err := svc.Reserve(context.Background(), "owner-1", dec(200), ref("r1"), "orders", "hold")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	snapshot, _ := svc.GetBalance(context.Background(), "owner-1")
	if !snapshot.Available.Equal(dec(800)) {
		t.Errorf("expected available 800, got %s", snapshot.Available)
	}
	if !snapshot.Reserved.Equal(dec(200)) {
		t.Errorf("expected reserved 200, got %s", snapshot.Reserved)
	}
	if !snapshot.Total.Equal(dec(1000)) {
		t.Errorf("expected total 1000, got %s", snapshot.Total)
	}
}

func TestReserveRelease_RoundTrip(t *testing.T) {
	svc, _, _ := newTestService()
	fund(t, svc, "owner-1", 1000)

	if _, err := svc.Reserve(context.Background(), "owner-1", dec(200), ref("r1"), "orders", ""); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := svc.Release(context.Background(), "owner-1", dec(200), ref("r2"), "orders", ""); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	snapshot, _ := svc.GetBalance(context.Background(), "owner-1")
	if !snapshot.Available.Equal(dec(1000)) {
		t.Errorf("expected available 1000, got %s", snapshot.Available)
	}
	if !snapshot.Reserved.IsZero() {
		t.Errorf("expected reserved 0, got %s", snapshot.Reserved)
	}
}

func TestRelease_InsufficientReserved(t *testing.T) {
	svc, _, _ := newTestService()
	fund(t, svc, "owner-1", 1000)

	_, err := svc.Release(context.Background(), "owner-1", dec(100), ref("r1"), "orders", "")
	if !errors.Is(err, domain.ErrInsufficientReserved) {
		t.Fatalf("expected ErrInsufficientReserved, got: %v", err)
	}
}

func TestCreditDebit_RoundTrip(t *testing.T) {
	svc, _, _ := newTestService()

	if _, err := svc.Credit(context.Background(), "owner-1", dec(300), ref("r1"), "test", ""); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if _, err := svc.Debit(context.Background(), "owner-1", dec(300), ref("r2"), "test", ""); err != nil {
		t.Fatalf("debit failed: %v", err)
	}

	snapshot, _ := svc.GetBalance(context.Background(), "owner-1")
	if !snapshot.Available.IsZero() {
		t.Errorf("expected available 0, got %s", snapshot.Available)
	}

	page, _ := svc.ListLedger(context.Background(), "owner-1", domain.EntryFilter{}, domain.Page{})
	if page.Total != 2 {
		t.Errorf("expected exactly 2 entries, got %d", page.Total)
	}
}

func TestDebit_Concurrent(t *testing.T) {
	svc, _, _ := newTestService()
	fund(t, svc, "owner-1", 1000)

	// Enough retries that no writer exhausts them under full contention
	svc.mutator.maxRetries = 100
	svc.mutator.sleep = func(time.Duration) {}

	var wg sync.WaitGroup
	var failCount atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Debit(context.Background(), "owner-1", dec(100), ref(fmt.Sprintf("r%d", n)), "test", "")
			if err != nil {
				failCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if failCount.Load() != 0 {
		t.Errorf("expected all debits to succeed, %d failed", failCount.Load())
	}

	snapshot, _ := svc.GetBalance(context.Background(), "owner-1")
	if !snapshot.Available.Equal(dec(500)) {
		t.Errorf("expected available 500, got %s", snapshot.Available)
	}

	page, _ := svc.ListLedger(context.Background(), "owner-1",
		domain.EntryFilter{Types: []domain.EntryType{domain.EntryTypeDebit}, Status: domain.EntryStatusCompleted},
		domain.Page{})
	if page.Total != 5 {
		t.Errorf("expected 5 completed debit entries, got %d", page.Total)
	}
}

func TestDebit_Concurrent_DrainsToZero(t *testing.T) {
	svc, _, _ := newTestService()

	const n = 20
	const k = 50
	fund(t, svc, "owner-1", n*k)

	// Enough retries that no writer exhausts them under full contention
	svc.mutator.maxRetries = 100
	svc.mutator.sleep = func(time.Duration) {}

	var wg sync.WaitGroup
	var successCount atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := svc.Debit(context.Background(), "owner-1", dec(k), ref(fmt.Sprintf("d%d", id)), "test", "")
			if err == nil {
				successCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if successCount.Load() != n {
		t.Errorf("expected %d successful debits, got %d", n, successCount.Load())
	}

	snapshot, _ := svc.GetBalance(context.Background(), "owner-1")
	if !snapshot.Available.IsZero() {
		t.Errorf("expected available 0, got %s", snapshot.Available)
	}
}

func TestMixedOps_InvariantHolds(t *testing.T) {
	svc, _, _ := newTestService()
	fund(t, svc, "owner-1", 1000)

	ctx := context.Background()
	ops := []func(i int) error{
		func(i int) error {
			_, err := svc.Reserve(ctx, "owner-1", dec(10), ref(fmt.Sprintf("res%d", i)), "test", "")
			return err
		},
		func(i int) error {
			_, err := svc.Credit(ctx, "owner-1", dec(5), ref(fmt.Sprintf("cr%d", i)), "test", "")
			return err
		},
		func(i int) error {
			_, err := svc.Debit(ctx, "owner-1", dec(3), ref(fmt.Sprintf("db%d", i)), "test", "")
			return err
		},
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for j, op := range ops {
			wg.Add(1)
			go func(i, j int, op func(int) error) {
				defer wg.Done()
				op(i*10 + j)
			}(i, j, op)
		}
	}
	wg.Wait()

	snapshot, _ := svc.GetBalance(ctx, "owner-1")
	if !snapshot.Total.Equal(snapshot.Available.Add(snapshot.Reserved)) {
		t.Errorf("invariant broken: total %s != available %s + reserved %s",
			snapshot.Total, snapshot.Available, snapshot.Reserved)
	}
}

func TestDebit_Frozen(t *testing.T) {
	svc, _, _ := newTestService()
	fund(t, svc, "owner-1", 1000)

	if err := svc.Freeze(context.Background(), "owner-1"); err != nil {
		t.Fatalf("freeze failed: %v", err)
	}

	_, err := svc.Debit(context.Background(), "owner-1", dec(100), ref("r1"), "test", "")
	if !errors.Is(err, domain.ErrOwnerFrozen) {
		t.Errorf("expected ErrOwnerFrozen for debit, got: %v", err)
	}

	_, err = svc.Reserve(context.Background(), "owner-1", dec(100), ref("r2"), "test", "")
	if !errors.Is(err, domain.ErrOwnerFrozen) {
		t.Errorf("expected ErrOwnerFrozen for reserve, got: %v", err)
	}

	// Incoming funds are accepted on frozen owners
	if _, err := svc.Credit(context.Background(), "owner-1", dec(50), ref("r3"), "test", ""); err != nil {
		t.Errorf("expected credit to succeed on frozen owner, got: %v", err)
	}

	if err := svc.Unfreeze(context.Background(), "owner-1"); err != nil {
		t.Fatalf("unfreeze failed: %v", err)
	}
	if _, err := svc.Debit(context.Background(), "owner-1", dec(100), ref("r4"), "test", ""); err != nil {
		t.Errorf("expected debit to succeed after unfreeze, got: %v", err)
	}
}

func TestRelease_AllowedWhenFrozen(t *testing.T) {
	svc, _, _ := newTestService()
	fund(t, svc, "owner-1", 1000)

	if _, err := svc.Reserve(context.Background(), "owner-1", dec(200), ref("r1"), "test", ""); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := svc.Freeze(context.Background(), "owner-1"); err != nil {
		t.Fatalf("freeze failed: %v", err)
	}

	if _, err := svc.Release(context.Background(), "owner-1", dec(200), ref("r2"), "test", ""); err != nil {
		t.Errorf("expected release to succeed on frozen owner, got: %v", err)
	}
}

func TestDuplicateRequest(t *testing.T) {
	svc, _, _ := newTestService()
	fund(t, svc, "owner-1", 1000)

	sameRef := ref("dup-1")
	if _, err := svc.Debit(context.Background(), "owner-1", dec(100), sameRef, "test", ""); err != nil {
		t.Fatalf("first debit failed: %v", err)
	}

	_, err := svc.Debit(context.Background(), "owner-1", dec(100), sameRef, "test", "")
	if !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got: %v", err)
	}

	snapshot, _ := svc.GetBalance(context.Background(), "owner-1")
	if !snapshot.Available.Equal(dec(900)) {
		t.Errorf("expected available 900, got %s", snapshot.Available)
	}
}

func TestInvalidAmount(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Credit(context.Background(), "owner-1", dec(0), ref("r1"), "test", "")
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero, got: %v", err)
	}

	_, err = svc.Debit(context.Background(), "owner-1", dec(-5), ref("r2"), "test", "")
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for negative, got: %v", err)
	}
}

func TestTransfer_Success(t *testing.T) {
	svc, _, _ := newTestService()
	fund(t, svc, "owner-a", 500)

	debit, credit, err := svc.Transfer(context.Background(), "owner-a", "owner-b", dec(200), ref("t1"), "test", "payout")
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if debit.OwnerID != "owner-a" || credit.OwnerID != "owner-b" {
		t.Errorf("entries attributed to wrong owners: %s / %s", debit.OwnerID, credit.OwnerID)
	}

	from, _ := svc.GetBalance(context.Background(), "owner-a")
	to, _ := svc.GetBalance(context.Background(), "owner-b")
	if !from.Available.Equal(dec(300)) {
		t.Errorf("expected source available 300, got %s", from.Available)
	}
	if !to.Available.Equal(dec(200)) {
		t.Errorf("expected destination available 200, got %s", to.Available)
	}
}

// failingBalanceRepo fails every write for one owner, simulating a
// mid-saga storage outage.
type failingBalanceRepo struct {
	port.BalanceRepository
	failOwner string
}

func (f *failingBalanceRepo) ApplyVersioned(ctx context.Context, next domain.Balance, expectedVersion int64, entry domain.LedgerEntry) error {
	if next.OwnerID == f.failOwner {
		return errors.New("storage unavailable")
	}
	return f.BalanceRepository.ApplyVersioned(ctx, next, expectedVersion, entry)
}

func TestTransfer_CompensatesOnCreditFailure(t *testing.T) {
	store := storage.NewMemoryAdapter()
	repo := &failingBalanceRepo{BalanceRepository: store, failOwner: "owner-b"}
	svc := NewLedgerService(repo, store, store, &mockAlertSink{}, zap.NewNop())

	fund(t, svc, "owner-a", 500)

	_, _, err := svc.Transfer(context.Background(), "owner-a", "owner-b", dec(200), ref("t1"), "test", "")
	if err == nil {
		t.Fatal("expected transfer to fail")
	}

	// The debit must have been compensated
	from, _ := svc.GetBalance(context.Background(), "owner-a")
	if !from.Available.Equal(dec(500)) {
		t.Errorf("expected source available restored to 500, got %s", from.Available)
	}

	// Original debit is flagged REVERSED, compensating credit links back
	page, _ := svc.ListLedger(context.Background(), "owner-a",
		domain.EntryFilter{Types: []domain.EntryType{domain.EntryTypeDebit}},
		domain.Page{})
	if len(page.Entries) != 1 {
		t.Fatalf("expected 1 debit entry, got %d", len(page.Entries))
	}
	if page.Entries[0].Status != domain.EntryStatusReversed {
		t.Errorf("expected debit flagged REVERSED, got %s", page.Entries[0].Status)
	}
}

func TestReverse_Debit(t *testing.T) {
	svc, _, _ := newTestService()
	fund(t, svc, "owner-1", 1000)

	debit, err := svc.Debit(context.Background(), "owner-1", dec(400), ref("r1"), "test", "")
	if err != nil {
		t.Fatalf("debit failed: %v", err)
	}

	comp, err := svc.Reverse(context.Background(), debit.ID, "admin")
	if err != nil {
		t.Fatalf("reverse failed: %v", err)
	}
	if comp.Type != domain.EntryTypeCredit {
		t.Errorf("expected compensating CREDIT, got %s", comp.Type)
	}
	if comp.ReversalOf != debit.ID {
		t.Errorf("expected reversal link to %s, got %s", debit.ID, comp.ReversalOf)
	}

	snapshot, _ := svc.GetBalance(context.Background(), "owner-1")
	if !snapshot.Available.Equal(dec(1000)) {
		t.Errorf("expected available restored to 1000, got %s", snapshot.Available)
	}

	// Reversing twice is rejected
	if _, err := svc.Reverse(context.Background(), debit.ID, "admin"); !errors.Is(err, domain.ErrAlreadyReversed) {
		t.Errorf("expected ErrAlreadyReversed, got: %v", err)
	}
}

func TestReverse_Reserve(t *testing.T) {
	svc, _, _ := newTestService()
	fund(t, svc, "owner-1", 1000)

	res, err := svc.Reserve(context.Background(), "owner-1", dec(300), ref("r1"), "test", "")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	comp, err := svc.Reverse(context.Background(), res.ID, "admin")
	if err != nil {
		t.Fatalf("reverse failed: %v", err)
	}
	if comp.Type != domain.EntryTypeRelease {
		t.Errorf("expected compensating RELEASE, got %s", comp.Type)
	}

	snapshot, _ := svc.GetBalance(context.Background(), "owner-1")
	if !snapshot.Available.Equal(dec(1000)) || !snapshot.Reserved.IsZero() {
		t.Errorf("expected 1000/0, got %s/%s", snapshot.Available, snapshot.Reserved)
	}
}

func TestReverse_UnknownEntry(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Reverse(context.Background(), "no-such-entry", "admin")
	if !errors.Is(err, domain.ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound, got: %v", err)
	}
}

func TestLowBalanceAlert(t *testing.T) {
	svc, _, sink := newTestService()
	fund(t, svc, "owner-1", 1000)

	if err := svc.SetLowThreshold(context.Background(), "owner-1", dec(500)); err != nil {
		t.Fatalf("set threshold failed: %v", err)
	}

	if _, err := svc.Debit(context.Background(), "owner-1", dec(600), ref("r1"), "test", ""); err != nil {
		t.Fatalf("debit failed: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.lowBalance) != 1 {
		t.Fatalf("expected 1 low balance alert, got %d", len(sink.lowBalance))
	}
	if sink.lowBalance[0].OwnerID != "owner-1" {
		t.Errorf("alert for wrong owner: %s", sink.lowBalance[0].OwnerID)
	}
}

func TestDebit_AllowNegative(t *testing.T) {
	svc, store, _ := newTestService()
	fund(t, svc, "owner-1", 100)

	if err := store.SetAllowNegative(context.Background(), "owner-1", true); err != nil {
		t.Fatalf("set allow negative failed: %v", err)
	}

	if _, err := svc.Debit(context.Background(), "owner-1", dec(250), ref("r1"), "test", ""); err != nil {
		t.Fatalf("expected overdraft debit to succeed, got: %v", err)
	}

	snapshot, _ := svc.GetBalance(context.Background(), "owner-1")
	if !snapshot.Available.Equal(dec(-150)) {
		t.Errorf("expected available -150, got %s", snapshot.Available)
	}
}
