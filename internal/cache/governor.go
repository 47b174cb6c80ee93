// Package cache governs the cache_index table: retention policy,
// expiry bookkeeping and the two-phase deletion handshake with the
// maintenance job that performs physical deletes.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agenda-podcast/Platform/internal/catalog"
	"github.com/agenda-podcast/Platform/internal/ident"
)

// orphanRetention is assigned to store objects found without an index
// row. Generous on purpose: an orphan means bookkeeping was lost, not
// that the data is disposable.
const orphanRetention = 365 * 24 * time.Hour

const timeLayout = time.RFC3339

// Entry is one row of the cache_index table.
type Entry struct {
	CacheKey  string
	Tenant    string
	ModuleID  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// StoredObject is one object found by enumerating the physical cache
// store during reconciliation.
type StoredObject struct {
	CacheKey  string
	CreatedAt time.Time
}

// Governor owns the cache_index table. It shares the billing database
// so index writes ride the same single-writer connection as ledger
// writes.
type Governor struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewGovernor(db *sql.DB, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{db: db, logger: logger}
}

// EffectiveRetention resolves the retention period for a step: the
// step-level override when present, otherwise the module contract's
// default.
func EffectiveRetention(contract catalog.ModuleContract, stepOverrideDays int) time.Duration {
	days := contract.CacheRetentionDays
	if stepOverrideDays > 0 {
		days = stepOverrideDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// Register appends an index entry for a freshly produced cache object.
// Compare-and-append on the cache key: when two attempts race to
// register the same key, the first insert wins and the second is a
// no-op, so neither observes a lost update.
func (g *Governor) Register(ctx context.Context, e Entry) (bool, error) {
	if e.CacheKey == "" {
		return false, errors.New("register cache entry: empty cache key")
	}
	res, err := g.db.ExecContext(ctx, `
		INSERT INTO cache_index (cache_key, tenant_id, module_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO NOTHING
	`,
		e.CacheKey,
		ident.DisplayTenantID(e.Tenant),
		ident.DisplayModuleID(e.ModuleID),
		e.CreatedAt.UTC().Format(timeLayout),
		e.ExpiresAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("register cache entry %s: %w", e.CacheKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("register cache entry %s: rows affected: %w", e.CacheKey, err)
	}
	return n > 0, nil
}

// Lookup returns the index entry for a key if it exists and has not
// expired as of now.
func (g *Governor) Lookup(ctx context.Context, cacheKey string, now time.Time) (Entry, bool, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT cache_key, tenant_id, module_id, created_at, expires_at
		FROM cache_index WHERE cache_key = ?
	`, cacheKey)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if !e.ExpiresAt.After(now) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// ReconcileOrphans walks the enumerated store objects and appends an
// index row for every object the index does not know about. Orphans
// get expiry = creation + one year. Reconciliation only ever appends;
// the returned keys let the maintenance pass exclude fresh
// registrations from deletion in the same pass.
func (g *Governor) ReconcileOrphans(ctx context.Context, objects []StoredObject) ([]string, error) {
	var registered []string
	for _, obj := range objects {
		inserted, err := g.Register(ctx, Entry{
			CacheKey:  obj.CacheKey,
			CreatedAt: obj.CreatedAt,
			ExpiresAt: obj.CreatedAt.Add(orphanRetention),
		})
		if err != nil {
			return registered, fmt.Errorf("reconcile orphans: %w", err)
		}
		if inserted {
			registered = append(registered, obj.CacheKey)
			g.logger.Info("registered orphan cache object",
				"cache_key", obj.CacheKey,
				"created_at", obj.CreatedAt.UTC().Format(timeLayout),
				"expires_at", obj.CreatedAt.Add(orphanRetention).UTC().Format(timeLayout))
		}
	}
	return registered, nil
}

// EligibleForDeletion returns the entries whose expiry has passed, in
// deterministic key order. Rows stay in the index until the caller
// confirms the physical objects are gone.
func (g *Governor) EligibleForDeletion(ctx context.Context, now time.Time) ([]Entry, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT cache_key, tenant_id, module_id, created_at, expires_at
		FROM cache_index
		WHERE expires_at <= ?
		ORDER BY cache_key COLLATE BINARY ASC
	`, now.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("query expired cache entries: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired cache entries: %w", err)
	}
	return out, nil
}

// ConfirmDeleted removes index rows after the maintenance job reports
// the physical objects deleted. Index rows must outlive the objects,
// never the other way around.
func (g *Governor) ConfirmDeleted(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("confirm deleted: begin: %w", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_index WHERE cache_key = ?`, key); err != nil {
			return fmt.Errorf("confirm deleted %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("confirm deleted: commit: %w", err)
	}
	g.logger.Info("removed confirmed-deleted cache entries", "count", len(keys))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var created, expires string
	if err := row.Scan(&e.CacheKey, &e.Tenant, &e.ModuleID, &created, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, sql.ErrNoRows
		}
		return Entry{}, fmt.Errorf("scan cache entry: %w", err)
	}
	e.CreatedAt, _ = time.Parse(timeLayout, created)
	e.ExpiresAt, _ = time.Parse(timeLayout, expires)
	return e, nil
}
