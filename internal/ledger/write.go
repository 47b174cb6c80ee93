package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agenda-podcast/Platform/internal/ident"
)

// ErrBalanceUnderflow reports a balance that would go negative. This
// is an internal-consistency fault: the credit check runs before any
// SPEND, so an underflow means the ledger and balance table disagree.
// Operator intervention, not a retry.
var ErrBalanceUnderflow = errors.New("tenant balance underflow")

// ErrTenantUnknown reports a ledger write against a tenant with no
// balance row.
var ErrTenantUnknown = errors.New("unknown tenant")

// AppendTransaction atomically appends a transaction with its line
// items and applies the balance change. Returns inserted=false when a
// transaction with the same idempotency key already exists; in that
// case nothing is written and the balance is untouched.
//
// The insert claims the idempotency slot via the unique index; items
// and the balance update ride the same SQL transaction, so a crash
// cannot leave a transaction row without its balance effect.
func (s *Store) AppendTransaction(ctx context.Context, txn Transaction, items []LineItem) (inserted bool, err error) {
	if txn.IdempotencyKey == "" {
		return false, fmt.Errorf("append transaction %s: empty idempotency key", txn.ID)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return false, fmt.Errorf("append transaction: begin: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions
		(transaction_id, tenant_id, work_order_id, type, amount_credits, created_at, idempotency_key, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`,
		txn.ID,
		ident.DisplayTenantID(txn.Tenant),
		txn.WorkOrder,
		string(txn.Type),
		txn.AmountCredits,
		formatTime(txn.CreatedAt),
		txn.IdempotencyKey,
		orJSON(txn.MetadataJSON),
	)
	if err != nil {
		return false, fmt.Errorf("append transaction: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append transaction: rows affected: %w", err)
	}
	if n == 0 {
		// Duplicate idempotency key: posting already happened.
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("append transaction: commit (duplicate): %w", err)
		}
		return false, nil
	}

	for _, item := range items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transaction_items
			(transaction_item_id, transaction_id, name, category, amount_credits, reason_code, step_run_id, note)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			item.ID,
			txn.ID,
			item.Name,
			string(item.Category),
			item.AmountCredits,
			item.ReasonCode,
			item.StepRunID,
			item.Note,
		)
		if err != nil {
			return false, fmt.Errorf("append transaction: item %s: %w", item.ID, err)
		}
	}

	if delta := txn.balanceDelta(); delta != 0 {
		if err := applyBalanceDelta(ctx, tx, txn.Tenant, delta, txn.CreatedAt); err != nil {
			return false, fmt.Errorf("append transaction %s: %w", txn.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("append transaction: commit: %w", err)
	}
	return true, nil
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, tenant string, delta int64, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE tenant_balances
		SET credits_available = credits_available + ?, updated_at = ?
		WHERE tenant_id = ?
	`, delta, formatTime(now), ident.DisplayTenantID(tenant))
	if err != nil {
		if strings.Contains(err.Error(), "CHECK constraint failed") {
			return fmt.Errorf("%w: tenant %s delta %d", ErrBalanceUnderflow, tenant, delta)
		}
		return fmt.Errorf("update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update balance: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTenantUnknown, tenant)
	}
	return nil
}

// EnsureTenant creates the balance row for a tenant if absent. New
// tenants start at zero credits, active.
func (s *Store) EnsureTenant(ctx context.Context, tenant string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_balances (tenant_id, credits_available, updated_at, status)
		VALUES (?, 0, ?, 'active')
		ON CONFLICT(tenant_id) DO NOTHING
	`, ident.DisplayTenantID(tenant), formatTime(now))
	if err != nil {
		return fmt.Errorf("ensure tenant %s: %w", tenant, err)
	}
	return nil
}

// SetTenantStatus marks a tenant active or suspended.
func (s *Store) SetTenantStatus(ctx context.Context, tenant, status string, now time.Time) error {
	if status != "active" && status != "suspended" {
		return fmt.Errorf("invalid tenant status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenant_balances SET status = ?, updated_at = ? WHERE tenant_id = ?
	`, status, formatTime(now), ident.DisplayTenantID(tenant))
	if err != nil {
		return fmt.Errorf("set tenant status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrTenantUnknown, tenant)
	}
	return nil
}

// WriteStepRun inserts a step run record. Idempotent on
// (work_order_id, attempt, step_id): a replayed step write is ignored,
// keeping the first durably recorded outcome authoritative.
func (s *Store) WriteStepRun(ctx context.Context, sr StepRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_runs
		(step_run_id, tenant_id, work_order_id, attempt, step_id, module_id,
		 status, reason_code, strategy, cache_key, release_ref, created_at, refund_eligible)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		sr.ID,
		ident.DisplayTenantID(sr.Tenant),
		sr.WorkOrder,
		sr.Attempt,
		sr.StepID,
		ident.DisplayModuleID(sr.ModuleID),
		sr.Status,
		sr.ReasonCode,
		sr.Strategy,
		sr.CacheKey,
		sr.ReleaseRef,
		formatTime(sr.CreatedAt),
		sr.RefundEligible,
	)
	if err != nil {
		return fmt.Errorf("write step run: %w", err)
	}
	return nil
}

// UpsertRun records the attempt's state-machine position. The row is
// the resumption checkpoint: later states overwrite earlier ones, and
// status/reason/ended_at are set when provided.
func (s *Store) UpsertRun(ctx context.Context, run WorkOrderRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_order_runs
		(work_order_id, attempt, tenant_id, state, status, reason_code, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(work_order_id, attempt) DO UPDATE SET
			state = excluded.state,
			status = excluded.status,
			reason_code = excluded.reason_code,
			ended_at = excluded.ended_at
	`,
		run.WorkOrder,
		run.Attempt,
		ident.DisplayTenantID(run.Tenant),
		string(run.State),
		run.Status,
		run.ReasonCode,
		formatTime(run.StartedAt),
		endedAt(run.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// RecordPromoEvent records a promo redemption event. Idempotent on
// (work_order_id, attempt, promo_code, event), so a later attempt of
// the same work order records its own redemptions.
func (s *Store) RecordPromoEvent(ctx context.Context, ev PromoEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO promo_redemptions
		(tenant_id, work_order_id, attempt, promo_code, event, amount_credits, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(work_order_id, attempt, promo_code, event) DO NOTHING
	`,
		ident.DisplayTenantID(ev.Tenant),
		ev.WorkOrder,
		ev.Attempt,
		ev.PromoCode,
		ev.Event,
		ev.AmountCredits,
		formatTime(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("record promo event: %w", err)
	}
	return nil
}

func orJSON(s string) string {
	if strings.TrimSpace(s) == "" {
		return "{}"
	}
	return s
}

func endedAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}
