package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added UNIQUE index on transactions.idempotency_key
// 2 - step_runs.refund_eligible; promo_redemptions keyed per attempt
const currentSchemaVersion = 2

// Store provides durable billing-state storage: the append-only
// ledger, tenant balances, the cache index and the run logs.
//
// SQLite with WAL mode. The connection pool is capped at one open
// connection: SQLite allows a single writer at a time, and routing all
// mutations through one connection is also what serializes per-tenant
// balance arithmetic (a single mutation path, no lost updates).
type Store struct {
	db *sql.DB
}

// Open creates or opens the billing-state database at path.
// Idempotent; applies pragmas and migrations on every open.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Single writer to avoid SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		// Databases created before v1 lack the unique idempotency
		// index; schema.sql gives it to new databases.
		_, err := db.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
			ON transactions(idempotency_key)
		`)
		if err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
		version = 1
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
		version = 2
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV2 adds step_runs.refund_eligible and rebuilds
// promo_redemptions with the attempt in its unique key, so a second
// attempt of the same work order records its own redemption events.
// Fresh databases get both from schema.sql; the column checks keep the
// migration a no-op for them.
func migrateToV2(db *sql.DB) error {
	ok, err := columnExists(db, "step_runs", "refund_eligible")
	if err != nil {
		return err
	}
	if !ok {
		if _, err := db.Exec(`ALTER TABLE step_runs ADD COLUMN refund_eligible INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("step_runs: %w", err)
		}
	}

	ok, err = columnExists(db, "promo_redemptions", "attempt")
	if err != nil {
		return err
	}
	if !ok {
		// SQLite cannot alter a table-level UNIQUE constraint in place,
		// so the table is rebuilt. Existing rows keep an empty attempt.
		stmts := []string{
			`ALTER TABLE promo_redemptions RENAME TO promo_redemptions_v1`,
			`CREATE TABLE promo_redemptions (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				tenant_id     TEXT NOT NULL,
				work_order_id TEXT NOT NULL,
				attempt       TEXT NOT NULL DEFAULT '',
				promo_code    TEXT NOT NULL,
				event         TEXT NOT NULL CHECK (event IN ('APPLIED','REFUNDED')),
				amount_credits INTEGER NOT NULL,
				created_at    TEXT NOT NULL,
				UNIQUE (work_order_id, attempt, promo_code, event)
			)`,
			`INSERT INTO promo_redemptions
				(tenant_id, work_order_id, attempt, promo_code, event, amount_credits, created_at)
			 SELECT tenant_id, work_order_id, '', promo_code, event, amount_credits, created_at
			 FROM promo_redemptions_v1`,
			`DROP TABLE promo_redemptions_v1`,
		}
		for _, stmt := range stmts {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("promo_redemptions: %w", err)
			}
		}
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notNull, pk int
		var name, typ string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("scan table_info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
