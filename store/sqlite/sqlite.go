/*
Package sqlite provides the SQLite-backed implementation of the ledger
storage interfaces.

PURPOSE:
  Implements ledger.Store and ledger.TxStore using SQLite. The same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  balances:     One row per (holder_type, holder_id, item_id); the three
                running totals, upserted by key
  transactions: Immutable ledger of applied legs; a UNIQUE index on
                dedup_key enforces idempotent replay at the store level

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements touch the transactions table.
  Corrections are new ADJUST transactions.

CONCURRENCY:
  Uses sync.RWMutex for in-process thread safety. SQLite is opened with
  WAL so readers do not block the single writer, and a multi-leg unit is
  committed inside one database transaction.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/txlog.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/keel/stock-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and migrates) a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Balances (one row per holder+item, upserted by key)
	CREATE TABLE IF NOT EXISTS balances (
		holder_type TEXT NOT NULL,
		holder_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		qty_in TEXT NOT NULL,
		qty_out TEXT NOT NULL,
		qty_on_hand TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (holder_type, holder_id, item_id)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_item
		ON balances(item_id);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		holder_type TEXT NOT NULL,
		holder_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		performed_at TEXT NOT NULL,
		performed_by TEXT NOT NULL,
		issue_id TEXT,
		consumption_id TEXT,
		lot_id TEXT,
		dedup_key TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: the dedup key is what makes replay re-runnable. An
	-- already-applied leg hits this index instead of inserting twice.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_dedup
		ON transactions(dedup_key);

	CREATE INDEX IF NOT EXISTS idx_transactions_holder
		ON transactions(holder_type, holder_id, item_id, performed_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_performed_at
		ON transactions(performed_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_event_type
		ON transactions(event_type);
	CREATE INDEX IF NOT EXISTS idx_transactions_lot
		ON transactions(lot_id) WHERE lot_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BALANCE STORE (ledger.BalanceStore interface)
// =============================================================================

// UpsertBalance writes the three totals for a key. Safe to repeat.
func (s *Store) UpsertBalance(ctx context.Context, b ledger.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertBalance(ctx, s.db, b)
}

func upsertBalance(ctx context.Context, db execer, b ledger.Balance) error {
	query := `
		INSERT INTO balances (holder_type, holder_id, item_id, qty_in, qty_out, qty_on_hand, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(holder_type, holder_id, item_id) DO UPDATE SET
			qty_in = excluded.qty_in,
			qty_out = excluded.qty_out,
			qty_on_hand = excluded.qty_on_hand,
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		b.Key.HolderType, b.Key.HolderID, b.Key.ItemID,
		b.QtyIn.String(), b.QtyOut.String(), b.QtyOnHand.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert balance %s: %w", b.Key, err)
	}
	return nil
}

// GetBalance returns nil when the key has never been written.
func (s *Store) GetBalance(ctx context.Context, key ledger.BalanceKey) (*ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalance(ctx, s.db, key)
}

func getBalance(ctx context.Context, db queryer, key ledger.BalanceKey) (*ledger.Balance, error) {
	var (
		b                    ledger.Balance
		qtyIn, qtyOut, qtyOH string
	)
	err := db.QueryRowContext(ctx,
		"SELECT holder_type, holder_id, item_id, qty_in, qty_out, qty_on_hand FROM balances WHERE holder_type = ? AND holder_id = ? AND item_id = ?",
		key.HolderType, key.HolderID, key.ItemID,
	).Scan(&b.Key.HolderType, &b.Key.HolderID, &b.Key.ItemID, &qtyIn, &qtyOut, &qtyOH)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load balance %s: %w", key, err)
	}

	b.QtyIn = mustDecimal(qtyIn)
	b.QtyOut = mustDecimal(qtyOut)
	b.QtyOnHand = mustDecimal(qtyOH)
	return &b, nil
}

// ListBalances returns balances matching the filter in key order.
func (s *Store) ListBalances(ctx context.Context, f ledger.BalanceFilter) ([]ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBalances(ctx, s.db, f)
}

func listBalances(ctx context.Context, db queryer, f ledger.BalanceFilter) ([]ledger.Balance, error) {
	query := "SELECT holder_type, holder_id, item_id, qty_in, qty_out, qty_on_hand FROM balances"
	var (
		conds []string
		args  []any
	)
	if f.HolderType != "" {
		conds = append(conds, "holder_type = ?")
		args = append(args, f.HolderType)
	}
	if f.HolderID != "" {
		conds = append(conds, "holder_id = ?")
		args = append(args, f.HolderID)
	}
	if f.ItemID != "" {
		conds = append(conds, "item_id = ?")
		args = append(args, f.ItemID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY holder_type, holder_id, item_id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []ledger.Balance
	for rows.Next() {
		var (
			b                    ledger.Balance
			qtyIn, qtyOut, qtyOH string
		)
		if err := rows.Scan(&b.Key.HolderType, &b.Key.HolderID, &b.Key.ItemID, &qtyIn, &qtyOut, &qtyOH); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		b.QtyIn = mustDecimal(qtyIn)
		b.QtyOut = mustDecimal(qtyOut)
		b.QtyOnHand = mustDecimal(qtyOH)
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// =============================================================================
// TRANSACTION STORE (ledger.TransactionStore interface)
// =============================================================================

// InsertTransaction appends one transaction to the ledger.
func (s *Store) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertTransaction(ctx, s.db, tx)
}

func insertTransaction(ctx context.Context, db execer, tx ledger.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, holder_type, holder_id, item_id, event_type, quantity, performed_at,
		 performed_by, issue_id, consumption_id, lot_id, dedup_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		tx.ID,
		tx.Key.HolderType, tx.Key.HolderID, tx.Key.ItemID,
		tx.EventType,
		tx.Quantity.String(),
		tx.PerformedAt.UTC().Format(time.RFC3339),
		tx.PerformedBy,
		nullString(tx.Source.IssueID),
		nullString(tx.Source.ConsumptionID),
		nullString(tx.Source.LotID),
		tx.DedupKey(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// TransactionExists checks whether a dedup key is already recorded.
func (s *Store) TransactionExists(ctx context.Context, dedupKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE dedup_key = ?",
		dedupKey,
	).Scan(&count)
	return count > 0, err
}

// ListTransactions returns matching transactions ordered by performed_at.
func (s *Store) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db, f)
}

func listTransactions(ctx context.Context, db queryer, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	query := `
		SELECT id, holder_type, holder_id, item_id, event_type, quantity,
		       performed_at, performed_by, issue_id, consumption_id, lot_id, dedup_key
		FROM transactions
	`
	var (
		conds []string
		args  []any
	)
	if f.HolderType != "" {
		conds = append(conds, "holder_type = ?")
		args = append(args, f.HolderType)
	}
	if f.HolderID != "" {
		conds = append(conds, "holder_id = ?")
		args = append(args, f.HolderID)
	}
	if f.ItemID != "" {
		conds = append(conds, "item_id = ?")
		args = append(args, f.ItemID)
	}
	if f.LotID != "" {
		conds = append(conds, "lot_id = ?")
		args = append(args, f.LotID)
	}
	if len(f.EventTypes) > 0 {
		placeholders := make([]string, len(f.EventTypes))
		for i, et := range f.EventTypes {
			placeholders[i] = "?"
			args = append(args, et)
		}
		conds = append(conds, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.From != nil {
		conds = append(conds, "performed_at >= ?")
		args = append(args, f.From.UTC().Format(time.RFC3339))
	}
	if f.To != nil {
		conds = append(conds, "performed_at <= ?")
		args = append(args, f.To.UTC().Format(time.RFC3339))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY performed_at ASC, created_at ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx                       ledger.Transaction
		quantity, performedAt    string
		issueID, consumptionID   sql.NullString
		lotID                    sql.NullString
		dedupKey                 string
	)

	err := rows.Scan(
		&tx.ID, &tx.Key.HolderType, &tx.Key.HolderID, &tx.Key.ItemID,
		&tx.EventType, &quantity, &performedAt, &tx.PerformedBy,
		&issueID, &consumptionID, &lotID, &dedupKey,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Quantity = mustDecimal(quantity)
	tx.PerformedAt, _ = time.Parse(time.RFC3339, performedAt)
	tx.Source = ledger.SourceRef{
		IssueID:       issueID.String,
		ConsumptionID: consumptionID.String,
		LotID:         lotID.String,
	}
	if tx.Source.OriginID() == "" {
		tx.DedupMarker = dedupKey
	}
	return tx, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within one database transaction. A multi-leg unit
// is committed or rolled back as a whole.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes writes through the open SQL transaction and reads
// through it as well, so a unit sees its own earlier legs.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	return insertTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) UpsertBalance(ctx context.Context, b ledger.Balance) error {
	return upsertBalance(ctx, ts.tx, b)
}

func (ts *txStore) TransactionExists(ctx context.Context, dedupKey string) (bool, error) {
	var count int
	err := ts.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE dedup_key = ?",
		dedupKey,
	).Scan(&count)
	return count > 0, err
}

func (ts *txStore) GetBalance(ctx context.Context, key ledger.BalanceKey) (*ledger.Balance, error) {
	return getBalance(ctx, ts.tx, key)
}

func (ts *txStore) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	return listTransactions(ctx, ts.tx, f)
}

func (ts *txStore) ListBalances(ctx context.Context, f ledger.BalanceFilter) ([]ledger.Balance, error) {
	return listBalances(ctx, ts.tx, f)
}

// =============================================================================
// HELPERS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
