/*
Package sqlite provides a SQLite-backed implementation of the transfer
repository, the ledger store, the reference-data lookups and the audit
recorder.

PURPOSE:
  One database file holds everything a unit of work touches, so a single
  SQL transaction covers the transfer record, its code sequence and every
  ledger row it moves.

INTERFACES IMPLEMENTED:
  transfer.TxRepository:   transfers, code sequences, ledger rows, WithTx
  transfer.ActorLookup, StoreLookup, CampaignLookup: reference data
  transfer.AuditRecorder:  audit_logs

KEY TABLES:
  transfers:        transfer records, soft-deleted via deleted_at
  groupage_ledger:  (actor, campaign, opa, quality, parcel) -> totals
  store_ledger:     (store, actor, campaign, quality) -> totals
  code_sequences:   per (type, year) counter behind transfer codes
  audit_logs:       who changed what
  actors, stores, store_campaigns, campaigns: reference data

ATOMIC LEDGER WRITES:
  Ledger totals are stored as integer grams + bags and changed by a single
  INSERT ... ON CONFLICT DO UPDATE (or UPDATE for skip-on-missing) with the
  zero clamp computed by MAX(0, ...). There is no read-modify-write.

CONCURRENCY:
  The pool is limited to one connection and transactions begin IMMEDIATE,
  so writers serialize inside SQLite. Code running inside WithTx must only
  use the Repository it is handed; touching the Store directly from the
  same goroutine would wait for the connection it already holds.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - transfer/collaborators.go: interface definitions
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/commodity-ledger/transfer"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	*repo
	db *sql.DB
}

var (
	_ transfer.TxRepository   = (*Store)(nil)
	_ transfer.ActorLookup    = (*Store)(nil)
	_ transfer.StoreLookup    = (*Store)(nil)
	_ transfer.CampaignLookup = (*Store)(nil)
	_ transfer.AuditRecorder  = (*Store)(nil)
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo implements transfer.Repository over a querier. The Store's repo is
// bound to the pool; WithTx hands out one bound to the transaction.
type repo struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	store := &Store{repo: &repo{q: db}, db: db}
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

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Transfers
	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		transfer_type TEXT NOT NULL,
		sender_actor_id TEXT NOT NULL,
		receiver_actor_id TEXT NOT NULL,
		sender_store_id TEXT,
		receiver_store_id TEXT NOT NULL,
		parcel_id TEXT,
		campaign_id TEXT NOT NULL,
		transfer_date TEXT NOT NULL,
		products_json TEXT NOT NULL,
		status TEXT NOT NULL,
		driver_name TEXT,
		driver_phone TEXT,
		driver_license_plate TEXT,
		driver_vehicle_type TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_campaign_created
		ON transfers(campaign_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transfers_status
		ON transfers(status);
	CREATE INDEX IF NOT EXISTS idx_transfers_sender
		ON transfers(sender_actor_id);
	CREATE INDEX IF NOT EXISTS idx_transfers_receiver
		ON transfers(receiver_actor_id);

	-- GROUPAGE intake ledger; parcel_id '' means "no parcel"
	CREATE TABLE IF NOT EXISTS groupage_ledger (
		actor_id TEXT NOT NULL,
		campaign_id TEXT NOT NULL,
		opa_id TEXT NOT NULL,
		quality TEXT NOT NULL,
		parcel_id TEXT NOT NULL DEFAULT '',
		total_weight_g INTEGER NOT NULL DEFAULT 0 CHECK (total_weight_g >= 0),
		total_bags INTEGER NOT NULL DEFAULT 0 CHECK (total_bags >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (actor_id, campaign_id, opa_id, quality, parcel_id)
	);

	CREATE INDEX IF NOT EXISTS idx_groupage_opa
		ON groupage_ledger(opa_id, campaign_id);

	-- STANDARD store ledger
	CREATE TABLE IF NOT EXISTS store_ledger (
		store_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		campaign_id TEXT NOT NULL,
		quality TEXT NOT NULL,
		total_weight_g INTEGER NOT NULL DEFAULT 0 CHECK (total_weight_g >= 0),
		total_bags INTEGER NOT NULL DEFAULT 0 CHECK (total_bags >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (store_id, actor_id, campaign_id, quality)
	);

	-- Transfer code counters
	CREATE TABLE IF NOT EXISTS code_sequences (
		transfer_type TEXT NOT NULL,
		year INTEGER NOT NULL,
		last_value INTEGER NOT NULL,
		PRIMARY KEY (transfer_type, year)
	);

	-- Audit trail
	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		auditable_type TEXT NOT NULL,
		auditable_id TEXT NOT NULL,
		action TEXT NOT NULL,
		user_id TEXT,
		user_role TEXT,
		old_values_json TEXT,
		new_values_json TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_auditable
		ON audit_logs(auditable_type, auditable_id, created_at);

	-- Reference data
	CREATE TABLE IF NOT EXISTS actors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		actor_type TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_date TEXT,
		end_date TEXT,
		is_active INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		actor_id TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS store_campaigns (
		store_id TEXT NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
		campaign_id TEXT NOT NULL,
		PRIMARY KEY (store_id, campaign_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction. Any error returned by
// fn rolls back every write it made.
func (s *Store) WithTx(ctx context.Context, fn func(transfer.Repository) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width so stored timestamps compare as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// where accumulates optional equality filters.
type where struct {
	conds []string
	args  []any
}

func (w *where) eq(column, value string) {
	if value == "" {
		return
	}
	w.add(column+" = ?", value)
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
