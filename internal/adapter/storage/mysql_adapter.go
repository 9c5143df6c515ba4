package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/balance-ledger/internal/core/domain"
	"github.com/rl1809/balance-ledger/internal/port"
)

// MySQLAdapter persists balances and their append-only ledger. The paired
// balance-update + entry-insert runs in one transaction guarded by the
// version column, so a committed entry always matches a committed balance.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// InitSchema creates the tables if they do not exist yet.
func (m *MySQLAdapter) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS balances (
			owner_id       VARCHAR(128) PRIMARY KEY,
			available      DECIMAL(20,4) NOT NULL DEFAULT 0,
			reserved       DECIMAL(20,4) NOT NULL DEFAULT 0,
			version        BIGINT NOT NULL DEFAULT 0,
			low_threshold  DECIMAL(20,4) NOT NULL DEFAULT 0,
			allow_negative TINYINT(1) NOT NULL DEFAULT 0,
			frozen         TINYINT(1) NOT NULL DEFAULT 0,
			created_at     DATETIME(6) NOT NULL,
			updated_at     DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id               VARCHAR(36) PRIMARY KEY,
			owner_id         VARCHAR(128) NOT NULL,
			entry_type       VARCHAR(16) NOT NULL,
			amount           DECIMAL(20,4) NOT NULL,
			available_before DECIMAL(20,4) NOT NULL,
			reserved_before  DECIMAL(20,4) NOT NULL,
			available_after  DECIMAL(20,4) NOT NULL,
			reserved_after   DECIMAL(20,4) NOT NULL,
			reference_type   VARCHAR(64) NOT NULL DEFAULT '',
			reference_id     VARCHAR(128) NOT NULL DEFAULT '',
			initiator        VARCHAR(128) NOT NULL DEFAULT '',
			description      VARCHAR(512) NOT NULL DEFAULT '',
			status           VARCHAR(16) NOT NULL,
			reversal_of      VARCHAR(36) NOT NULL DEFAULT '',
			created_at       DATETIME(6) NOT NULL,
			INDEX idx_owner_created (owner_id, created_at),
			INDEX idx_reversal_of (reversal_of)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) GetOrCreate(ctx context.Context, ownerID string) (*domain.Balance, error) {
	now := time.Now().UTC()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO balances (owner_id, available, reserved, version, created_at, updated_at)
		VALUES (?, 0, 0, 0, ?, ?)
		ON DUPLICATE KEY UPDATE owner_id = owner_id`,
		ownerID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create balance: %w", err)
	}
	return m.Get(ctx, ownerID)
}

func (m *MySQLAdapter) Get(ctx context.Context, ownerID string) (*domain.Balance, error) {
	var bal domain.Balance
	err := m.db.QueryRowContext(ctx, `
		SELECT owner_id, available, reserved, version, low_threshold, allow_negative, frozen, created_at, updated_at
		FROM balances WHERE owner_id = ?`, ownerID,
	).Scan(&bal.OwnerID, &bal.Available, &bal.Reserved, &bal.Version,
		&bal.LowThreshold, &bal.AllowNegative, &bal.Frozen, &bal.CreatedAt, &bal.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query balance: %w", err)
	}
	return &bal, nil
}

func (m *MySQLAdapter) ApplyVersioned(ctx context.Context, next domain.Balance, expectedVersion int64, entry domain.LedgerEntry) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE balances
		SET available = ?, reserved = ?, version = ?, updated_at = ?
		WHERE owner_id = ? AND version = ?`,
		next.Available, next.Reserved, next.Version, time.Now().UTC(),
		next.OwnerID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrVersionConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, owner_id, entry_type, amount,
			available_before, reserved_before, available_after, reserved_after,
			reference_type, reference_id, initiator, description, status, reversal_of, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OwnerID, entry.Type, entry.Amount,
		entry.BalanceBefore.Available, entry.BalanceBefore.Reserved,
		entry.BalanceAfter.Available, entry.BalanceAfter.Reserved,
		entry.ReferenceType, entry.ReferenceID, entry.Initiator, entry.Description,
		entry.Status, entry.ReversalOf, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	if entry.ReversalOf != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE ledger_entries SET status = ? WHERE id = ? AND status = ?`,
			domain.EntryStatusReversed, entry.ReversalOf, domain.EntryStatusCompleted,
		); err != nil {
			return fmt.Errorf("mark reversed: %w", err)
		}
	}

	return tx.Commit()
}

func (m *MySQLAdapter) SetFrozen(ctx context.Context, ownerID string, frozen bool) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE balances SET frozen = ?, version = version + 1, updated_at = ?
		WHERE owner_id = ?`,
		frozen, time.Now().UTC(), ownerID,
	)
	if err != nil {
		return fmt.Errorf("set frozen: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) SetLowThreshold(ctx context.Context, ownerID string, threshold decimal.Decimal) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE balances SET low_threshold = ?, version = version + 1, updated_at = ?
		WHERE owner_id = ?`,
		threshold, time.Now().UTC(), ownerID,
	)
	if err != nil {
		return fmt.Errorf("set low threshold: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT owner_id FROM balances`)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

func (m *MySQLAdapter) GetEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	row := m.db.QueryRowContext(ctx, entrySelect+` WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return entry, nil
}

func (m *MySQLAdapter) FindReversal(ctx context.Context, originalID string) (*domain.LedgerEntry, error) {
	row := m.db.QueryRowContext(ctx, entrySelect+` WHERE reversal_of = ? LIMIT 1`, originalID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query reversal: %w", err)
	}
	return entry, nil
}

func (m *MySQLAdapter) List(ctx context.Context, ownerID string, filter domain.EntryFilter, page domain.Page) (*domain.EntryPage, error) {
	where := []string{"owner_id = ?"}
	args := []any{ownerID}

	if len(filter.Types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Types)), ",")
		where = append(where, "entry_type IN ("+placeholders+")")
		for _, t := range filter.Types {
			args = append(args, t)
		}
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ReferenceType != "" {
		where = append(where, "reference_type = ?")
		args = append(args, filter.ReferenceType)
	}
	if filter.ReferenceID != "" {
		where = append(where, "reference_id = ?")
		args = append(args, filter.ReferenceID)
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, filter.To)
	}

	clause := strings.Join(where, " AND ")

	var total int
	if err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE `+clause, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}

	limit, offset := normalizePage(page)
	query := entrySelect + ` WHERE ` + clause + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	result := &domain.EntryPage{Total: total}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result.Entries = append(result.Entries, *entry)
	}
	return result, rows.Err()
}

func (m *MySQLAdapter) Totals(ctx context.Context, ownerID string) (domain.LedgerTotals, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT entry_type, COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE owner_id = ? AND status IN (?, ?)
		GROUP BY entry_type`,
		ownerID, domain.EntryStatusCompleted, domain.EntryStatusReversed,
	)
	if err != nil {
		return domain.LedgerTotals{}, fmt.Errorf("aggregate entries: %w", err)
	}
	defer rows.Close()

	var totals domain.LedgerTotals
	for rows.Next() {
		var entryType string
		var sum decimal.Decimal
		if err := rows.Scan(&entryType, &sum); err != nil {
			return domain.LedgerTotals{}, err
		}
		switch domain.EntryType(entryType) {
		case domain.EntryTypeCredit:
			totals.Credits = sum
		case domain.EntryTypeDebit:
			totals.Debits = sum
		case domain.EntryTypeReserve:
			totals.Reserves = sum
		case domain.EntryTypeRelease:
			totals.Releases = sum
		}
	}
	return totals, rows.Err()
}

const entrySelect = `
	SELECT id, owner_id, entry_type, amount,
		available_before, reserved_before, available_after, reserved_after,
		reference_type, reference_id, initiator, description, status, reversal_of, created_at
	FROM ledger_entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := row.Scan(&e.ID, &e.OwnerID, &e.Type, &e.Amount,
		&e.BalanceBefore.Available, &e.BalanceBefore.Reserved,
		&e.BalanceAfter.Available, &e.BalanceAfter.Reserved,
		&e.ReferenceType, &e.ReferenceID, &e.Initiator, &e.Description,
		&e.Status, &e.ReversalOf, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.BalanceBefore.Total = e.BalanceBefore.Available.Add(e.BalanceBefore.Reserved)
	e.BalanceAfter.Total = e.BalanceAfter.Available.Add(e.BalanceAfter.Reserved)
	return &e, nil
}

var (
	_ port.BalanceRepository = (*MySQLAdapter)(nil)
	_ port.LedgerRepository  = (*MySQLAdapter)(nil)
)
