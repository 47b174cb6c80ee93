package ledger

import (
	"context"
	"fmt"
	"time"
)

// RecomputeBalances rebuilds tenant_balances deterministically from
// the append-only ledger. TOPUP and REFUND add, SPEND subtracts,
// ADJUSTMENT applies its signed amount. Tenant status is preserved
// from the existing rows.
//
// Safe even when the balance table was seeded incorrectly: ledger
// history is never rewritten, only the derived table is.
func (s *Store) RecomputeBalances(ctx context.Context, now time.Time) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("recompute balances: begin: %w", err)
	}
	defer tx.Rollback()

	statusByTenant := map[string]string{}
	rows, err := tx.QueryContext(ctx, `SELECT tenant_id, status FROM tenant_balances`)
	if err != nil {
		return fmt.Errorf("recompute balances: read statuses: %w", err)
	}
	for rows.Next() {
		var tenant, status string
		if err := rows.Scan(&tenant, &status); err != nil {
			rows.Close()
			return fmt.Errorf("recompute balances: scan status: %w", err)
		}
		statusByTenant[tenant] = status
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("recompute balances: iterate statuses: %w", err)
	}
	rows.Close()

	balance := map[string]int64{}
	rows, err = tx.QueryContext(ctx, `
		SELECT tenant_id, type, amount_credits
		FROM transactions
		ORDER BY created_at ASC, transaction_id COLLATE BINARY ASC
	`)
	if err != nil {
		return fmt.Errorf("recompute balances: read ledger: %w", err)
	}
	for rows.Next() {
		var tenant, typ string
		var amount int64
		if err := rows.Scan(&tenant, &typ, &amount); err != nil {
			rows.Close()
			return fmt.Errorf("recompute balances: scan transaction: %w", err)
		}
		t := Transaction{Type: TxType(typ), AmountCredits: amount}
		balance[tenant] += t.balanceDelta()
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("recompute balances: iterate ledger: %w", err)
	}
	rows.Close()

	for tenant := range statusByTenant {
		if _, ok := balance[tenant]; !ok {
			balance[tenant] = 0
		}
	}

	for tenant, credits := range balance {
		if credits < 0 {
			return fmt.Errorf("recompute balances: %w: tenant %s computes to %d", ErrBalanceUnderflow, tenant, credits)
		}
		status := statusByTenant[tenant]
		if status == "" {
			status = "active"
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tenant_balances (tenant_id, credits_available, updated_at, status)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(tenant_id) DO UPDATE SET
				credits_available = excluded.credits_available,
				updated_at = excluded.updated_at
		`, tenant, credits, formatTime(now), status)
		if err != nil {
			return fmt.Errorf("recompute balances: write %s: %w", tenant, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recompute balances: commit: %w", err)
	}
	return nil
}
